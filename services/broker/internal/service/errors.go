package service

import (
	"errors"
	"fmt"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/google/uuid"
)

var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid order state")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// authorize lets admins act for anyone and customers only for themselves.
func authorize(caller auth.Identity, ownerID uuid.UUID) error {
	if caller.IsAdmin() || (caller.CustomerID != uuid.Nil && caller.CustomerID == ownerID) {
		return nil
	}
	return fmt.Errorf("%w: caller %s may not act for customer %s", ErrForbidden, caller.CustomerID, ownerID)
}
