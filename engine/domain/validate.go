package domain

import (
	"fmt"
	"strings"
)

// ValidateParticipant checks the record-level ledger invariants.
func ValidateParticipant(p Participant) error {
	if strings.TrimSpace(p.User) == "" {
		return NewValidationError("user", p.User, ErrInvalidRequest)
	}
	if !p.Status.Valid() {
		return NewValidationError("status", string(p.Status), ErrInvalidRequest)
	}
	if p.Spots < 0 {
		return NewValidationError("spots", fmt.Sprintf("%d", p.Spots), ErrInvalidRequest)
	}
	if p.Spots > p.RequestedSpots {
		return NewValidationError("spots", fmt.Sprintf("%d>%d", p.Spots, p.RequestedSpots), ErrInvalidRequest)
	}
	if p.Status != StatusConfirmed && p.Spots != 0 {
		return NewValidationError("spots", fmt.Sprintf("%d with status %s", p.Spots, p.Status), ErrInvalidRequest)
	}
	return nil
}
