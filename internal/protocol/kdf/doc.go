// Package kdf turns a shared passphrase into channel keys.
//
// The passphrase is first stretched with scrypt under a hash-derived salt,
// then expanded with keyed BLAKE2b under distinct domain tags into an
// identity-cipher key, a baseline message-cipher key and a MAC key. Group
// secrets agreed by the gka package are expanded the same way.
package kdf
