// Command moularskeygen runs the offline Diffie-Hellman keygen step for
// the three encrypted channels (§4.A "Keygen helper") and prints the
// resulting base64 N/K pairs as a ready-to-paste `[crypt_keys]` TOML
// block. Grounded on the teacher's small single-purpose diagnostic
// binaries (cmd/test-scramble, cmd/test-auth-gg) — no flags, no config
// file, plain stdout.
package main

import (
	"fmt"
	"os"

	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/crypto"
)

func main() {
	gate, err := crypto.GenerateKeyMaterial(constants.DHBaseGate)
	if err != nil {
		fail("gate", err)
	}
	auth, err := crypto.GenerateKeyMaterial(constants.DHBaseAuth)
	if err != nil {
		fail("auth", err)
	}
	game, err := crypto.GenerateKeyMaterial(constants.DHBaseGame)
	if err != nil {
		fail("game", err)
	}

	fmt.Println("[crypt_keys]")
	fmt.Printf("gate_n = %q\n", gate.N)
	fmt.Printf("gate_k = %q\n", gate.K)
	fmt.Printf("auth_n = %q\n", auth.N)
	fmt.Printf("auth_k = %q\n", auth.K)
	fmt.Printf("game_n = %q\n", game.N)
	fmt.Printf("game_k = %q\n", game.K)
}

func fail(channel string, err error) {
	fmt.Fprintf(os.Stderr, "moularskeygen: generating %s channel key material: %v\n", channel, err)
	os.Exit(1)
}
