package crypto

import (
	"crypto/rc4"
	"fmt"
)

// StreamCipher wraps one directional RC4 keystream. The server keeps one
// instance for reads and one for writes per connection (§4.A): RC4 is a
// true stream cipher, so encrypt and decrypt are the same XOR operation and
// state carries across calls — there is no block alignment or re-keying.
type StreamCipher struct {
	c *rc4.Cipher
}

// NewStreamCipher creates a keystream from the 7-byte DH-derived key.
func NewStreamCipher(key []byte) (*StreamCipher, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating rc4 cipher: %w", err)
	}
	return &StreamCipher{c: c}, nil
}

// XOR encrypts or decrypts data in-place, advancing the keystream.
func (s *StreamCipher) XOR(data []byte) {
	s.c.XORKeyStream(data, data)
}
