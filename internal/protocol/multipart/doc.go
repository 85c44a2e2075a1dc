// Package multipart splits large payloads into indexed fragments and
// reassembles them on receipt.
package multipart
