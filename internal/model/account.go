// Package model holds the plain data types persisted by the DB backend
// (§3, §6.2): accounts, vault nodes and refs, SDL blobs, server/age-instance
// records, scores, and API tokens. These are transport- and storage-agnostic
// — the wire and DB packages translate to and from them.
package model

import "time"

// AccountFlags is a bitmask of account-level attributes (§3.1).
type AccountFlags uint32

const (
	AccountFlagAdmin AccountFlags = 1 << iota
	AccountFlagBetaTester
	AccountFlagBanned
)

// Has reports whether all bits in want are set.
func (f AccountFlags) Has(want AccountFlags) bool { return f&want == want }

// BillingType is the account's access tier (§3.1 "billing tier", shape
// decided in DESIGN.md — spec.md names the concept but not its values).
type BillingType string

const (
	BillingFree BillingType = "free"
	BillingBeta BillingType = "beta"
	BillingPaid BillingType = "paid"
)

// Account is a player account record. Name is stored and compared
// case-insensitively (§3.1); PasswordHash is the legacy SHA-1-derived hash
// from §6.3, never a plaintext password.
type Account struct {
	ID           [16]byte
	Name         string
	PasswordHash []byte
	Flags        AccountFlags
	Billing      BillingType
	CreateTime   time.Time
}

// APIToken is an opaque out-of-band admin credential tied to an account
// (§3.1). Token is compared, never logged.
type APIToken struct {
	AccountID [16]byte
	Token     string
	Comment   string
	CreateTime time.Time
}

// ScoreType is the numeric type code a score belongs to (§3.1); the server
// treats it as opaque, client-defined.
type ScoreType int32

// Score is a named, owned point value. Mutations (add/set) are atomic at
// the DB layer (§4.E is silent on scores directly, but §6.4 lists
// score_add/get/set as part of the same transactional backend).
type Score struct {
	ID         uint32
	OwnerIdx   uint32
	Type       ScoreType
	Name       string
	Points     int32
	CreateTime time.Time
}
