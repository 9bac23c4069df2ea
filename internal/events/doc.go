// Package events provides the typed publish/subscribe bus that carries unit
// of work results back to the consumer.
//
// Channels form a fixed table known at startup (see Channels). Each channel
// has a name and a payload type fixed by its Go type parameter, so a
// subscriber always receives the payload type it registered for. Publishing
// happens on worker goroutines, but delivery is posted to the consumer loop
// and runs there in publish order. A failing or panicking subscriber is
// logged and never prevents delivery to the others.
//
// The primary components are:
// - Channel: a named, typed channel identifier
// - Bus: the subscriber registry and delivery mechanism
// - Subscribe and Publish: the typed entry points
package events
