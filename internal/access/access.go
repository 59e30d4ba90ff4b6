// Package access resolves MemoryAccess descriptors into effective
// allow/deny decisions. Evaluation is side-effect-free and is re-run on
// every check: time and event state move independently of the memory, so
// a cached decision would go stale.
package access

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/crypto"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

// Effective resolves a descriptor against the current time and event
// state. The result's Kind is always one of public, private or custom:
// a Scheduled wrapper resolves to private-equivalent until
// AccessibleAfter, then recursively to its inner descriptor; an
// EventTriggered wrapper does the same gated on the trigger event.
func Effective(a *model.MemoryAccess, now time.Time, events model.EventSet) model.MemoryAccess {
	switch a.Kind {
	case model.AccessScheduled:
		if now.Before(a.AccessibleAfter) {
			return locked(a)
		}
		return Effective(a.Inner, now, events)
	case model.AccessEventTriggered:
		if !events.Fired(a.TriggerEvent) {
			return locked(a)
		}
		return Effective(a.Inner, now, events)
	default:
		return *a
	}
}

// locked is the private-equivalent a gated descriptor resolves to while
// its condition does not hold. The owner code survives so owner-side
// verification keeps working through the gate.
func locked(a *model.MemoryAccess) model.MemoryAccess {
	return model.MemoryAccess{
		Kind:          model.AccessPrivate,
		OwnerCodeHash: a.OwnerCodeHash,
		OwnerCodeSalt: a.OwnerCodeSalt,
	}
}

// CanRead decides whether caller may read the memory right now. Capsule
// owners and controllers are always allowed; everyone else goes through
// the resolved descriptor.
func CanRead(caller uuid.UUID, mem *model.Memory, cap *model.Capsule, now time.Time) bool {
	if cap.CanManage(caller) {
		return true
	}
	eff := Effective(&mem.Access, now, model.EventSet(cap.FiredEvents))
	switch eff.Kind {
	case model.AccessPublic:
		return true
	case model.AccessCustom:
		for _, id := range eff.Individuals {
			if id == caller {
				return true
			}
		}
		for _, g := range eff.Groups {
			if cap.GroupMember(g, caller) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// CanManage decides whether caller may mutate the memory. Only capsule
// owners and controllers qualify; read grants never imply write.
func CanManage(caller uuid.UUID, cap *model.Capsule) bool {
	return cap.CanManage(caller)
}

// VerifyOwnerCode checks a presented secure code against the descriptor's
// embedded hash. All variants grant full access on a verified code.
func VerifyOwnerCode(a *model.MemoryAccess, code []byte) bool {
	if len(code) == 0 {
		return false
	}
	return crypto.VerifySecureCode(code, a.OwnerCodeSalt, a.OwnerCodeHash)
}

// SealOwnerCode hashes a plaintext secure code into the descriptor.
func SealOwnerCode(a *model.MemoryAccess, code []byte) error {
	salt, err := crypto.RandBytes(16)
	if err != nil {
		return err
	}
	a.OwnerCodeSalt = salt
	a.OwnerCodeHash = crypto.HashSecureCode(code, salt)
	return nil
}
