// Package bridge streams event bus traffic to websocket clients.
//
// A Broadcaster subscribes to every channel of a bus. Each delivery is
// encoded once as an Envelope and queued to every connected client; a client
// whose queue is full is disconnected so one slow reader cannot hold up the
// consumer loop. NewRouter exposes the stream on /ws together with health and
// channel-table endpoints.
package bridge
