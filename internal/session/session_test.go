package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/moulars/moulars/internal/session"
)

func TestManager_StoreAndValidate(t *testing.T) {
	m := session.New()
	acc := [16]byte{1}
	key := session.Key{ID1: 42, ID2: 99}

	m.Store(acc, 7, key)

	idx, ok := m.Validate(acc, key)
	assert.True(t, ok)
	assert.Equal(t, uint32(7), idx)
}

func TestManager_Validate_WrongKeyFails(t *testing.T) {
	m := session.New()
	acc := [16]byte{2}
	m.Store(acc, 1, session.Key{ID1: 1, ID2: 2})

	_, ok := m.Validate(acc, session.Key{ID1: 1, ID2: 3})
	assert.False(t, ok)
}

func TestManager_Remove(t *testing.T) {
	m := session.New()
	acc := [16]byte{3}
	key := session.Key{ID1: 5, ID2: 6}
	m.Store(acc, 1, key)
	m.Remove(acc)

	_, ok := m.Validate(acc, key)
	assert.False(t, ok)
}

func TestManager_CleanExpired(t *testing.T) {
	m := session.New()
	acc := [16]byte{4}
	m.Store(acc, 1, session.Key{ID1: 1, ID2: 1})

	m.CleanExpired(-time.Second) // everything is "older" than a negative ttl

	_, ok := m.Validate(acc, session.Key{ID1: 1, ID2: 1})
	assert.False(t, ok)
}
