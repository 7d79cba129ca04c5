package testutil

import (
	"testing"

	"github.com/moulars/moulars/internal/crypto"
)

// DHKeyPair returns two freshly generated Diffie-Hellman Params over base
// (§4.A) that share one modulus N and private value K — the shape
// wire-layer tests use instead of running a real handshake over a socket.
func DHKeyPair(tb testing.TB, base int64) (client, server *crypto.Params) {
	tb.Helper()

	client, err := crypto.GenerateParams(base)
	if err != nil {
		tb.Fatalf("generating client dh params: %v", err)
	}
	server, err = crypto.GenerateParams(base)
	if err != nil {
		tb.Fatalf("generating server dh params: %v", err)
	}
	// Share N and K so PublicValue()/SharedSecret() on each side agree,
	// matching the real handshake's "client and server use the same fixed
	// modulus" precondition (§4.A).
	server.N, server.K = client.N, client.K
	return client, server
}

// RC4Pair returns two independently constructed StreamCiphers keyed
// identically, the shape every encrypted-transport test uses to assert
// that a byte sequence encrypted by one peer decrypts cleanly on the
// other (§4.A, §4.C: RC4's symmetric XOR means encrypt and decrypt are
// the same operation).
func RC4Pair(tb testing.TB, key []byte) (a, b *crypto.StreamCipher) {
	tb.Helper()

	a, err := crypto.NewStreamCipher(key)
	if err != nil {
		tb.Fatalf("creating first rc4 cipher: %v", err)
	}
	b, err = crypto.NewStreamCipher(key)
	if err != nil {
		tb.Fatalf("creating second rc4 cipher: %v", err)
	}
	return a, b
}
