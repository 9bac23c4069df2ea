// Package clinic holds the clinic records units of work and the service that
// runs them on the task dispatcher.
//
// Every read is a store.UnitOfWork that loads a table or join, publishes the
// rows on its event channel and returns them. Writes return the new record's
// key. Service submits both kinds and chains a refresh of the affected
// channel onto every write, so subscribers always see the state after the
// write.
package clinic
