package crypto

import (
	"bytes"
	"testing"
)

func TestStreamCipherRoundTrip(t *testing.T) {
	key := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}

	enc, err := NewStreamCipher(key)
	if err != nil {
		t.Fatalf("NewStreamCipher: %v", err)
	}
	dec, err := NewStreamCipher(key)
	if err != nil {
		t.Fatalf("NewStreamCipher: %v", err)
	}

	plain := []byte("hello age instance")
	msg := append([]byte(nil), plain...)

	enc.XOR(msg)
	if bytes.Equal(msg, plain) {
		t.Fatalf("XOR did not change the buffer")
	}

	dec.XOR(msg)
	if !bytes.Equal(msg, plain) {
		t.Fatalf("round trip mismatch: got %q want %q", msg, plain)
	}
}

// TestStreamCipherStatefulAcrossCalls matches the "one instance per
// direction per connection" requirement (§4.A): the keystream must keep
// advancing across multiple XOR calls, not reset.
func TestStreamCipherStatefulAcrossCalls(t *testing.T) {
	key := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11}

	enc, _ := NewStreamCipher(key)
	dec, _ := NewStreamCipher(key)

	for i := 0; i < 5; i++ {
		plain := []byte{byte(i), byte(i + 1), byte(i + 2)}
		msg := append([]byte(nil), plain...)
		enc.XOR(msg)
		dec.XOR(msg)
		if !bytes.Equal(msg, plain) {
			t.Fatalf("message %d round trip mismatch: got %v want %v", i, msg, plain)
		}
	}
}
