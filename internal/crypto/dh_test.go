package crypto

import (
	"math/big"
	"testing"

	"github.com/moulars/moulars/internal/constants"
)

const testModulusBitsMin = 500

// TestDHHandshakeAgrees exercises spec.md §8 property 3 and scenario S1:
// server and client derive the same shared secret, and the RC4 key
// truncation matches regardless of which side computed it.
func TestDHHandshakeAgrees(t *testing.T) {
	// S1 test vector shape: fixed N, K=5, g=41, client exponent 7.
	n, ok := new(big.Int).SetString("C75C56ED98F55F5F8DA6EB6489B2C718E7E414853D9BB39C69E67A03FB76A5E7D3C9B1E1A6A9F4A0C6E6D6A1B2C3D4E5F6A7B8C9D0E1F2A3B4C5D6E7F8A9B1", 16)
	if !ok {
		t.Fatalf("bad test vector")
	}

	k := big.NewInt(5)
	srv := &Params{N: n, G: constants.DHBaseAuth, K: k}

	clientExp := big.NewInt(7)
	clientY := new(big.Int).Exp(big.NewInt(constants.DHBaseAuth), clientExp, n)

	serverX := srv.PublicValue()
	if serverX.Cmp(new(big.Int).Exp(big.NewInt(constants.DHBaseAuth), k, n)) != 0 {
		t.Fatalf("server X mismatch")
	}

	serverShared := srv.SharedSecret(clientY)
	clientShared := new(big.Int).Exp(serverX, clientExp, n)

	if serverShared.Cmp(clientShared) != 0 {
		t.Fatalf("shared secrets disagree:\nserver=%x\nclient=%x", serverShared, clientShared)
	}

	serverKey := RC4Key(serverShared)
	clientKey := RC4Key(clientShared)
	if string(serverKey) != string(clientKey) {
		t.Fatalf("RC4 keys disagree: %x vs %x", serverKey, clientKey)
	}
	if len(serverKey) != 7 {
		t.Fatalf("RC4 key length = %d; want 7", len(serverKey))
	}
}

func TestGenerateParamsRoundTrip(t *testing.T) {
	for _, base := range []int64{constants.DHBaseGate, constants.DHBaseAuth, constants.DHBaseGame} {
		p, err := GenerateParams(base)
		if err != nil {
			t.Fatalf("GenerateParams(%d): %v", base, err)
		}
		if p.N.BitLen() < testModulusBitsMin {
			t.Fatalf("modulus too small: %d bits", p.N.BitLen())
		}
		if p.K.Cmp(big.NewInt(2)) < 0 || p.K.Cmp(p.N) >= 0 {
			t.Fatalf("K out of range: %v", p.K)
		}
	}
}

func TestKeyMaterialRoundTrip(t *testing.T) {
	km, err := GenerateKeyMaterial(constants.DHBaseAuth)
	if err != nil {
		t.Fatalf("GenerateKeyMaterial: %v", err)
	}

	params, err := ParseKeyMaterial(constants.DHBaseAuth, *km)
	if err != nil {
		t.Fatalf("ParseKeyMaterial: %v", err)
	}

	if params.N.BitLen() < testModulusBitsMin {
		t.Fatalf("parsed modulus too small: %d bits", params.N.BitLen())
	}
}
