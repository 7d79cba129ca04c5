// Package crypto implements the channel handshake primitives: fixed-modulus
// Diffie-Hellman key agreement and the RC4 stream cipher it seeds.
package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/moulars/moulars/internal/constants"
)

// Params is a channel's fixed Diffie-Hellman parameters: a shared modulus N
// and base g, plus this server's private exponent K. X = g^K mod N is what
// the server advertises to clients (§4.A).
type Params struct {
	N *big.Int
	G int64
	K *big.Int
}

// GenerateParams produces a fresh (N, K) pair for the given base, the way
// the offline keygen helper is expected to (§4.A "Keygen helper"). N is a
// safe prime of constants.DHModulusBits bits; K is uniform in [2, N-2].
func GenerateParams(base int64) (*Params, error) {
	// N = 2q+1 with q prime; rand.Prime sets q's top two bits, so N has
	// exactly DHModulusBits bits.
	var n *big.Int
	for {
		q, err := rand.Prime(rand.Reader, constants.DHModulusBits-1)
		if err != nil {
			return nil, fmt.Errorf("generating modulus: %w", err)
		}
		n = new(big.Int).Lsh(q, 1)
		n.Add(n, big.NewInt(1))
		if n.ProbablyPrime(20) {
			break
		}
	}

	k, err := randRange(n)
	if err != nil {
		return nil, fmt.Errorf("generating private exponent: %w", err)
	}

	return &Params{N: n, G: base, K: k}, nil
}

// randRange returns a uniform random value in [2, n-2].
func randRange(n *big.Int) (*big.Int, error) {
	upper := new(big.Int).Sub(n, big.NewInt(3)) // range size for [0, n-4]
	if upper.Sign() <= 0 {
		return nil, fmt.Errorf("modulus too small")
	}
	v, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return nil, err
	}
	return v.Add(v, big.NewInt(2)), nil
}

// PublicValue returns X = g^K mod N, the value the server advertises.
func (p *Params) PublicValue() *big.Int {
	g := big.NewInt(p.G)
	return new(big.Int).Exp(g, p.K, p.N)
}

// SharedSecret derives the shared secret from the client's public value Y:
// shared = Y^K mod N (§4.A).
func (p *Params) SharedSecret(y *big.Int) *big.Int {
	return new(big.Int).Exp(y, p.K, p.N)
}

// RC4Key truncates a shared secret to the first constants.DHSharedSecretKeyLen
// little-endian bytes, the seed for both RC4 streams (§4.A).
func RC4Key(shared *big.Int) []byte {
	// big.Int.Bytes() is big-endian and may be shorter than the modulus;
	// pad to modulus width first, then take the low-order bytes and reverse
	// them to little-endian, matching "first 7 bytes of shared little-endian".
	full := make([]byte, constants.DHModulusBytes)
	b := shared.Bytes()
	copy(full[len(full)-len(b):], b)

	key := make([]byte, constants.DHSharedSecretKeyLen)
	for i := 0; i < constants.DHSharedSecretKeyLen; i++ {
		key[i] = full[len(full)-1-i]
	}
	return key
}

// PadBigEndian renders v as fixed-width big-endian bytes (width bytes,
// zero-padded) for the keygen helper's output (§4.A).
func PadBigEndian(v *big.Int, width int) []byte {
	out := make([]byte, width)
	b := v.Bytes()
	copy(out[width-len(b):], b)
	return out
}
