package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
	"github.com/keeperhq/capsulekeeper/internal/repository"
)

// CapsuleService manages the multi-owner containers memories live in.
type CapsuleService interface {
	// Create opens a new capsule with the caller as its first owner.
	Create(ctx context.Context, caller uuid.UUID, subject string) (*model.Capsule, error)
	// Read returns the capsule; with a nil id it resolves the caller's
	// self-capsule.
	Read(ctx context.Context, caller uuid.UUID, id *uuid.UUID) (*model.Capsule, error)
	// RecordEvent marks a trigger event as fired for the capsule,
	// unlocking any EventTriggered access gated on it.
	RecordEvent(ctx context.Context, caller, capsuleID uuid.UUID, event string) error
}

type CapsuleServiceImpl struct {
	capsules repository.CapsuleRepository
	log      *zap.Logger
	now      NowFunc
}

// NewCapsuleService constructs a CapsuleService.
func NewCapsuleService(capsules repository.CapsuleRepository, log *zap.Logger, now NowFunc) *CapsuleServiceImpl {
	if now == nil {
		now = defaultNow
	}
	return &CapsuleServiceImpl{capsules: capsules, log: log, now: now}
}

// Create opens a capsule. The caller becomes its first active owner, so
// the at-least-one-owner invariant holds from the start.
func (s *CapsuleServiceImpl) Create(ctx context.Context, caller uuid.UUID, subject string) (*model.Capsule, error) {
	if caller == uuid.Nil {
		return nil, fmt.Errorf("%w: empty caller", errs.ErrInvalidInput)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := s.now()
	c := &model.Capsule{
		ID:          id,
		Subject:     subject,
		Owners:      map[uuid.UUID]model.OwnerState{caller: model.OwnerActive},
		FiredEvents: make(map[string]time.Time),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.capsules.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("capsule created", zap.String("capsule", id.String()))
	return c, nil
}

// Read returns the capsule if the caller belongs to it; outsiders get
// ErrNotFound so capsule existence is not observable.
func (s *CapsuleServiceImpl) Read(ctx context.Context, caller uuid.UUID, id *uuid.UUID) (*model.Capsule, error) {
	if caller == uuid.Nil {
		return nil, fmt.Errorf("%w: empty caller", errs.ErrInvalidInput)
	}
	if id == nil {
		return s.capsules.GetByOwner(ctx, caller)
	}
	c, err := s.capsules.Get(ctx, *id)
	if err != nil {
		return nil, err
	}
	if !c.CanManage(caller) {
		return nil, errs.ErrNotFound
	}
	return c, nil
}

// RecordEvent marks the event fired. Recording the same event twice
// keeps the first timestamp.
func (s *CapsuleServiceImpl) RecordEvent(ctx context.Context, caller, capsuleID uuid.UUID, event string) error {
	if event == "" {
		return fmt.Errorf("%w: empty event name", errs.ErrInvalidInput)
	}
	c, err := s.capsules.Get(ctx, capsuleID)
	if err != nil {
		return err
	}
	if !c.CanManage(caller) {
		return errs.ErrUnauthorized
	}
	if _, ok := c.FiredEvents[event]; ok {
		return nil
	}
	now := s.now()
	if c.FiredEvents == nil {
		c.FiredEvents = make(map[string]time.Time)
	}
	c.FiredEvents[event] = now
	c.UpdatedAt = now
	return s.capsules.Update(ctx, c)
}
