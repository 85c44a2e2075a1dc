// Package ledger deduplicates messages delivered at-least-once by the relay.
//
// Every inbound message, presence frames included, passes Ledger.Accept
// exactly once before it reaches the application. Messages are identified
// by a keyed SipHash over sender, timestamp and payload.
package ledger
