package testutil

import (
	"time"

	"github.com/moulars/moulars/internal/model"
)

// Fixtures holds pre-built test data shared across package tests to avoid
// re-deriving the same account/credential shapes in every test file.
var Fixtures = struct {
	ValidAccountName string
	ValidPassword    string

	// RC4KeyGate/Auth/Game are fixed 7-byte keys for tests that need a
	// deterministic StreamCipher without running a DH handshake.
	RC4KeyGate []byte
	RC4KeyAuth []byte
	RC4KeyGame []byte
}{
	ValidAccountName: "testuser",
	ValidPassword:    "testpass",

	RC4KeyGate: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
	RC4KeyAuth: []byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17},
	RC4KeyGame: []byte{0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27},
}

// NewTestAccount returns a model.Account populated with Fixtures'
// credentials, for tests that need a ready-made account without caring
// about the exact hash algorithm.
func NewTestAccount(id [16]byte) *model.Account {
	return &model.Account{
		ID:         id,
		Name:       Fixtures.ValidAccountName,
		Billing:    model.BillingFree,
		CreateTime: time.Unix(0, 0).UTC(),
	}
}
