package manifest

import (
	"errors"

	"github.com/moulars/moulars/internal/wireerr"
)

var (
	errUnknownManifest = errors.New("manifest: unknown manifest name")
	errUnknownFile     = errors.New("manifest: unknown compressed hash")
)

// ErrUnknownManifest wraps errUnknownManifest as wireerr.KindNotFound: the
// client asked for a manifest name this build never produced.
func ErrUnknownManifest(op string) error {
	return wireerr.New(wireerr.KindNotFound, op, errUnknownManifest)
}

// ErrUnknownFile wraps errUnknownFile as wireerr.KindNotFound: a download
// request named a compressed hash no manifest entry points at (stale
// client manifest, or a forged request).
func ErrUnknownFile(op string) error {
	return wireerr.New(wireerr.KindNotFound, op, errUnknownFile)
}
