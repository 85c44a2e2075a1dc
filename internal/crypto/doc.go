// Package crypto exposes the symmetric primitives used by the channel
// protocol.
//
// Contents
//
//   - IdentityCipher: stateless block obfuscation of short identifiers
//     (user and channel names), base64 encoded, reversible without a nonce
//   - MessageCipher: chained (CBC) encryption of padded message bodies
//   - MAC / VerifyMAC: keyed BLAKE2b truncated to MACSize bytes, verified in
//     constant time
//   - Fingerprint: short grouped hex digests for humans to compare
//
// # Notes
//
// Both cipher constructors wipe the key and salt slices they are given once
// the key schedule is built. Callers that still need the bytes must pass a
// copy. Keys longer than MaxKeySize are a programming error and panic.
package crypto
