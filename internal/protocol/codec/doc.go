// Package codec builds and parses channel messages.
//
// A sealed message is nonce(32) || ciphertext || mac(12). The ciphertext
// decrypts to a deflate stream followed by random size-class padding; the
// stream inflates to
//
//	header(40) || payload || key block
//
// Header fields (sizes, timestamps, flags) are each scattered into 32 random
// bits so that, without the reconstruction rule, the header looks like the
// padding around it. The scattering is not a security boundary; the MAC is.
//
// Transport frames wrapping sealed messages are CBOR maps; see MarshalFrame.
package codec
