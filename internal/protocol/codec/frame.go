package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"mleschat/internal/domain"
)

// MarshalFrame encodes f as a CBOR map {uid, channel, message}.
func MarshalFrame(f *domain.Frame) ([]byte, error) {
	b, err := cbor.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal frame: %w", err)
	}
	return b, nil
}

// UnmarshalFrame decodes a transport frame. Frames without sender or
// channel are malformed.
func UnmarshalFrame(b []byte) (*domain.Frame, error) {
	var f domain.Frame
	if err := cbor.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.UID == "" || f.Channel == "" {
		return nil, ErrMalformed
	}
	return &f, nil
}
