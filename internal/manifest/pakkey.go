package manifest

import (
	"fmt"

	"github.com/moulars/moulars/internal/config"
	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/crypto"
)

// DerivePakKey turns the Gate channel's static crypt key material into a
// deterministic RC4 key for the Python .pak (§4.G: "keyed by the same RC4
// parameters"). Unlike a connection's DH handshake, which negotiates a
// fresh secret with each client, the .pak is built once server-side with
// no client to negotiate with — self-pairing the Gate channel's own
// configured (N, K) (secret = (g^K)^K mod N) gives a key that is stable
// across restarts as long as the operator's crypt_keys section doesn't
// change, without inventing a new config section spec.md never names.
func DerivePakKey(keys config.CryptKeys) ([]byte, error) {
	params, err := crypto.ParseKeyMaterial(constants.DHBaseGate, crypto.KeyMaterial{N: keys.GateN, K: keys.GateK})
	if err != nil {
		return nil, fmt.Errorf("deriving pak key: %w", err)
	}
	secret := params.SharedSecret(params.PublicValue())
	return crypto.RC4Key(secret), nil
}
