package vault

import (
	"errors"

	"github.com/moulars/moulars/internal/wireerr"
)

var (
	errNotFound      = errors.New("vault: node not found")
	errCycleDetected = errors.New("vault: cycle detected")
	errConflict      = errors.New("vault: conflict")
)

// ErrNotFound wraps errNotFound as a wireerr.KindNotFound.
func ErrNotFound(op string) error { return wireerr.New(wireerr.KindNotFound, op, errNotFound) }

// ErrCycleDetected wraps errCycleDetected as a wireerr.KindCorruption
// (§8 Invariant 4, §4.E: "cycle detection is performed by a DFS").
func ErrCycleDetected(op string) error {
	return wireerr.New(wireerr.KindCorruption, op, errCycleDetected)
}

// ErrConflict wraps errConflict as a wireerr.KindConflict.
func ErrConflict(op string) error { return wireerr.New(wireerr.KindConflict, op, errConflict) }
