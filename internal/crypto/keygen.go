package crypto

import (
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/moulars/moulars/internal/constants"
)

// KeyMaterial is the base64 N/K pair an operator drops into the
// `[crypt_keys]` section of the TOML config (§6.1).
type KeyMaterial struct {
	N string
	K string
}

// GenerateKeyMaterial runs the offline keygen step for one channel base:
// generate (N, K), then render both as big-endian base64 (§4.A "Keygen
// helper"). This is never called on the server's hot path.
func GenerateKeyMaterial(base int64) (*KeyMaterial, error) {
	params, err := GenerateParams(base)
	if err != nil {
		return nil, fmt.Errorf("generating params: %w", err)
	}

	nBytes := PadBigEndian(params.N, constants.DHModulusBytes)
	kBytes := PadBigEndian(params.K, constants.DHModulusBytes)

	return &KeyMaterial{
		N: base64.StdEncoding.EncodeToString(nBytes),
		K: base64.StdEncoding.EncodeToString(kBytes),
	}, nil
}

// ParseKeyMaterial decodes a base64 N/K pair back into Params for a channel.
func ParseKeyMaterial(base int64, km KeyMaterial) (*Params, error) {
	nBytes, err := base64.StdEncoding.DecodeString(km.N)
	if err != nil {
		return nil, fmt.Errorf("decoding N: %w", err)
	}
	kBytes, err := base64.StdEncoding.DecodeString(km.K)
	if err != nil {
		return nil, fmt.Errorf("decoding K: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	k := new(big.Int).SetBytes(kBytes)

	return &Params{N: n, G: base, K: k}, nil
}
