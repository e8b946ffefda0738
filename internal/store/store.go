// Package store persists principals, credentials and ephemeral login state.
// Every state transition that needs a single winner is a conditional UPDATE or DELETE
// whose RowsAffected decides the outcome.
package store

import (
	"errors"

	"gorm.io/gorm"
)

// Store errors.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates a uniqueness constraint would be violated.
	ErrConflict = errors.New("store: conflict")
	// ErrLostRace indicates a conditional update matched no row.
	ErrLostRace = errors.New("store: conditional update lost")
)

// translate maps gorm errors to store errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}
