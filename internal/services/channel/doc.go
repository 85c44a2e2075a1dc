// Package channel is the protocol engine: it joins channels on a relay,
// seals and opens messages, runs the group key agreement and keeps each
// channel connected.
//
// One worker goroutine owns every session. The public methods of Engine post
// operations to it and wait for the reply; connection reads, dials and
// timers post back to it in the same way. Notifications for the
// application arrive on Engine.Events.
package channel
