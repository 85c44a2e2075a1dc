// Package gka implements the channel group key agreement: Diffie-Hellman
// over a passphrase-derived prime, combined with a Burmester-Desmedt round so
// that any number of participants reach one shared secret without a key
// server.
//
// Key material rides on ordinary messages. Every outbound message carries
// the sender's public value and, once a ring of at least two is known, its BD
// contribution. Inbound material is checked for consistency; any conflict
// (a peer restarting with new keys, a BD value of the wrong shape) discards
// the round and the exchange starts again. A derived secret is only used for
// sending once every known participant has acknowledged it.
//
// The prime is derived deterministically so participants never exchange it.
// The search is expensive; PrimeCache keeps one per passphrase for the life
// of the process.
//
// Concurrency: Agreement is NOT safe for concurrent use. PrimeCache is.
package gka
