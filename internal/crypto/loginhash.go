package crypto

import (
	"crypto/sha1"
	"strings"
	"unicode/utf16"
)

// NormalizeAccountName lowercases and trims an account name for lookup and
// hashing (§6.3). DirtSand's `@domain`-stripping branch has no available
// test vector in this environment (see DESIGN.md "Open Questions
// resolved"); this keeps the teacher's plain `strings.ToLower` behavior
// rather than guessing at a stripping rule.
func NormalizeAccountName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LoginSeed computes the §6.3 hash seed: SHA-1 of UTF-16LE(name) ||
// UTF-16LE(password), with the first 5 bytes zeroed when name ends in an
// `@`-domain suffix — a DirtSand compatibility quirk that must be
// preserved bit-exact.
func LoginSeed(name, password string) [sha1.Size]byte {
	h := sha1.New()
	h.Write(utf16leBytes(name))
	h.Write(utf16leBytes(password))

	var seed [sha1.Size]byte
	copy(seed[:], h.Sum(nil))

	if strings.Contains(name, "@") {
		for i := 0; i < 5; i++ {
			seed[i] = 0
		}
	}
	return seed
}

// LoginHash mixes a precomputed seed with the server's challenge and the
// client's nonce, the second SHA-1 stage of the login exchange (§6.3,
// §4.D "challenge/response using account name, derived hash, client
// nonce, server nonce").
func LoginHash(seed [sha1.Size]byte, serverChallenge, clientNonce []byte) [sha1.Size]byte {
	h := sha1.New()
	h.Write(seed[:])
	h.Write(serverChallenge)
	h.Write(clientNonce)

	var out [sha1.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func utf16leBytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}
