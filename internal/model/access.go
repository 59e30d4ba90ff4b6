package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// AccessKind tags the variant of a MemoryAccess descriptor. The set is
// closed: Validate rejects anything else.
type AccessKind string

const (
	AccessPublic         AccessKind = "public"
	AccessPrivate        AccessKind = "private"
	AccessCustom         AccessKind = "custom"
	AccessScheduled      AccessKind = "scheduled"
	AccessEventTriggered AccessKind = "event_triggered"
)

// MemoryAccess is a tagged union describing who may read a memory.
// Scheduled and EventTriggered wrap an Inner descriptor that takes effect
// once the time or event condition holds, which makes access a
// recursively evaluated, time-varying property.
//
// Every descriptor carries the argon2 hash of the owner secure code so a
// caller who is not in the owner set can still prove ownership.
type MemoryAccess struct {
	Kind AccessKind `json:"kind"`

	OwnerCodeHash []byte `json:"owner_code_hash,omitempty"`
	OwnerCodeSalt []byte `json:"owner_code_salt,omitempty"`

	// Custom
	Individuals []uuid.UUID `json:"individuals,omitempty"`
	Groups      []uuid.UUID `json:"groups,omitempty"`

	// Scheduled
	AccessibleAfter time.Time `json:"accessible_after,omitzero"`

	// EventTriggered
	TriggerEvent string `json:"trigger_event,omitempty"`

	Inner *MemoryAccess `json:"inner,omitempty"`
}

// Validate checks structural invariants of the descriptor, recursively.
func (a *MemoryAccess) Validate() error {
	switch a.Kind {
	case AccessPublic, AccessPrivate:
		if a.Inner != nil {
			return fmt.Errorf("access: %s must not wrap an inner descriptor", a.Kind)
		}
	case AccessCustom:
		if a.Inner != nil {
			return fmt.Errorf("access: custom must not wrap an inner descriptor")
		}
		if len(a.Individuals) == 0 && len(a.Groups) == 0 {
			return fmt.Errorf("access: custom requires at least one individual or group")
		}
		for _, id := range a.Individuals {
			if id == uuid.Nil {
				return fmt.Errorf("access: custom individual id is nil")
			}
		}
	case AccessScheduled:
		if a.AccessibleAfter.IsZero() {
			return fmt.Errorf("access: scheduled requires accessible_after")
		}
		if a.Inner == nil {
			return fmt.Errorf("access: scheduled requires an inner descriptor")
		}
		return a.Inner.Validate()
	case AccessEventTriggered:
		if a.TriggerEvent == "" {
			return fmt.Errorf("access: event_triggered requires a trigger event")
		}
		if a.Inner == nil {
			return fmt.Errorf("access: event_triggered requires an inner descriptor")
		}
		return a.Inner.Validate()
	default:
		return fmt.Errorf("access: unknown kind %q", a.Kind)
	}
	return nil
}
