package age

import (
	"errors"

	"github.com/moulars/moulars/internal/wireerr"
)

var (
	errInstanceNotFound = errors.New("age: instance not found")
	errNotMember        = errors.New("age: player is not a member of this instance")
	errAlreadyMember    = errors.New("age: player already joined this instance")
	errAccessDenied     = errors.New("age: age is private and player is not an owner")
)

// ErrInstanceNotFound wraps errInstanceNotFound as wireerr.KindNotFound.
func ErrInstanceNotFound(op string) error {
	return wireerr.New(wireerr.KindNotFound, op, errInstanceNotFound)
}

// ErrNotMember wraps errNotMember as wireerr.KindProtocol: a Leave,
// PropagatePlMessage, or UpdateSDL from a connection that never joined is a
// client protocol violation, not a missing-resource condition.
func ErrNotMember(op string) error {
	return wireerr.New(wireerr.KindProtocol, op, errNotMember)
}

// ErrAlreadyMember wraps errAlreadyMember as wireerr.KindConflict.
func ErrAlreadyMember(op string) error {
	return wireerr.New(wireerr.KindConflict, op, errAlreadyMember)
}

// ErrAccessDenied wraps errAccessDenied as wireerr.KindAuth (§4.F Join:
// "authenticate the client holds a Player-type vault node and is listed in
// the age's AgeInfo owners OR the age is public").
func ErrAccessDenied(op string) error {
	return wireerr.New(wireerr.KindAuth, op, errAccessDenied)
}
