// Package consumer provides the message loop that owns application state.
//
// Work produced on other goroutines, such as bus deliveries and task
// completion notices, is posted to a Loop and executed one function at a
// time on whichever goroutine calls Run. Post never blocks, so a function
// running on the loop may post to the same loop without deadlocking.
package consumer
