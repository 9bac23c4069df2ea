// Package task runs submitted work off the consumer goroutine on a fixed
// pool of workers.
//
// Submit never blocks: work is appended to a FIFO queue and picked up by the
// next free worker. Each submission returns a Handle whose observers
// (finished, success, error, progress) are posted to the consumer loop. The
// finished observer fires exactly once per registration with a tagged Result,
// so consumers can chain further submissions without blocking any goroutine.
// A failing or panicking task never takes down its worker.
package task
