// Package store provides persistence for mleschat's session state.
//
// It contains a bbolt-backed implementation of the domain.KV interface
// (Bolt), an in-memory one (Memory), and StateStore, the typed view the
// channel engine uses on top of either. Values are opaque to the KV; the
// previous group secret is sealed under the passphrase (scrypt +
// ChaCha20-Poly1305) before it is written.
//
// StateStore keeps, per channel:
//   - the last relay address
//   - the previous group secret, for grace-period decryption across restarts
//   - last-notified and last-read timestamps
//
// plus the list of currently joined channels.
package store
