package codec

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"time"

	"github.com/klauspost/compress/flate"

	"mleschat/internal/crypto"
	"mleschat/internal/domain"
	"mleschat/internal/protocol/kdf"
)

const (
	// NonceSize is the random prefix of every sealed message. Its first
	// crypto.BlockSize bytes are the CBC IV.
	NonceSize = 32

	// MaxPayload is the largest payload one message can carry; the size
	// field of the header is 16 bits.
	MaxPayload = 0xffff - HeaderSize

	// MaxKeyBlock bounds the embedded key block.
	MaxKeyBlock = 0xffff

	// MaxMessageSize bounds a sealed message on receipt.
	MaxMessageSize = 0xffffff
)

var (
	// ErrMalformed covers every structural decode failure.
	ErrMalformed = errors.New("codec: malformed message")
	// ErrAuth is returned when no candidate key authenticates a message.
	ErrAuth = errors.New("codec: authentication failed")
	// ErrTooLarge is returned by Seal for oversized input.
	ErrTooLarge = errors.New("codec: message too large")
)

// Keyset pairs a message cipher with its MAC key.
type Keyset struct {
	Cipher  *crypto.MessageCipher
	AuthKey []byte
}

func (k Keyset) usable() bool { return k.Cipher != nil && len(k.AuthKey) > 0 }

// Message is the plaintext side of a sealed message.
type Message struct {
	Flags   domain.Flags
	Time    time.Time
	Payload []byte
	// Keys is the key block appended after the payload.
	Keys []byte
	// Pad is added to the length before size-class padding.
	Pad int
}

// Opened is a verified and decoded message.
type Opened struct {
	Header  Header
	Payload []byte
	Keys    []byte
	// Slot is the index of the candidate Keyset that authenticated it.
	Slot int
}

// Time returns the sender timestamp.
func (o *Opened) Time() time.Time { return o.Header.Time() }

// Flags returns the header flags.
func (o *Opened) Flags() domain.Flags { return o.Header.Flags }

// Pad returns the Padmé size class for length l: the smallest value >= l
// whose low bits are zero, where the number of zeroed bits grows with the
// magnitude of l. The overhead is bounded by O(log l).
func Pad(l int) int {
	if l < 2 {
		return l
	}
	e := bits.Len(uint(l)) - 1
	s := bits.Len(uint(e))
	mask := (1 << uint(e-s)) - 1
	return (l + mask) &^ mask
}

// Seal encodes, compresses, pads, encrypts and authenticates m under ks,
// returning nonce || ciphertext || mac.
func Seal(ks Keyset, m Message) ([]byte, error) {
	if !ks.usable() {
		return nil, errors.New("codec: seal without keys")
	}
	if len(m.Payload) > MaxPayload || len(m.Keys) > MaxKeyBlock {
		return nil, ErrTooLarge
	}

	h := Header{
		MsgSize: uint16(HeaderSize + len(m.Payload)),
		KeySize: uint16(len(m.Keys)),
		Flags:   m.Flags,
	}
	h.SetTime(m.Time)
	hdr, err := h.Marshal(rand.Reader)
	if err != nil {
		return nil, err
	}

	plain := make([]byte, 0, HeaderSize+len(m.Payload)+len(m.Keys))
	plain = append(plain, hdr...)
	plain = append(plain, m.Payload...)
	plain = append(plain, m.Keys...)

	body, err := compress(plain)
	if err != nil {
		return nil, err
	}

	size := Pad(len(body) + m.Pad)
	if rem := size % crypto.BlockSize; rem != 0 {
		size += crypto.BlockSize - rem
	}
	if size > len(body) {
		fill := make([]byte, size-len(body))
		if _, err := io.ReadFull(rand.Reader, fill); err != nil {
			return nil, fmt.Errorf("codec: padding: %w", err)
		}
		body = append(body, fill...)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("codec: nonce: %w", err)
	}
	ct, err := ks.Cipher.Encrypt(nonce[:crypto.BlockSize], body)
	if err != nil {
		return nil, err
	}
	tag := crypto.MAC(ks.AuthKey, []byte(kdf.DomainAuth), nonce, ct)

	out := make([]byte, 0, NonceSize+len(ct)+len(tag))
	out = append(out, nonce...)
	out = append(out, ct...)
	out = append(out, tag...)
	return out, nil
}

// Open authenticates msg against each candidate in order and decodes it
// with the first one that matches. Unusable candidates (nil cipher) are
// skipped but keep their index, so Slot identifies the caller's key.
func Open(msg []byte, candidates ...Keyset) (*Opened, error) {
	if len(msg) < NonceSize+crypto.BlockSize+crypto.MACSize || len(msg) > MaxMessageSize {
		return nil, ErrMalformed
	}
	nonce := msg[:NonceSize]
	ct := msg[NonceSize : len(msg)-crypto.MACSize]
	tag := msg[len(msg)-crypto.MACSize:]

	slot := -1
	for i, ks := range candidates {
		if !ks.usable() {
			continue
		}
		if crypto.VerifyMAC(ks.AuthKey, tag, []byte(kdf.DomainAuth), nonce, ct) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, ErrAuth
	}

	body, err := candidates[slot].Cipher.Decrypt(nonce[:crypto.BlockSize], ct)
	if err != nil {
		return nil, ErrMalformed
	}
	plain, err := decompress(body, HeaderSize+MaxPayload+MaxKeyBlock)
	if err != nil {
		return nil, ErrMalformed
	}
	h, err := ParseHeader(plain)
	if err != nil {
		return nil, err
	}
	end := int(h.MsgSize) + int(h.KeySize)
	if h.MsgSize < HeaderSize || end > len(plain) {
		return nil, ErrMalformed
	}
	return &Opened{
		Header:  h,
		Payload: plain[HeaderSize:h.MsgSize],
		Keys:    plain[h.MsgSize:end],
		Slot:    slot,
	}, nil
}

func compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompress inflates one deflate stream. Anything after the final block
// (size-class padding) is never read.
func decompress(b []byte, limit int64) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, limit))
}
