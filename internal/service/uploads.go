package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/uuid/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
	"github.com/keeperhq/capsulekeeper/internal/repository"
)

// UploadService owns the multi-call session lifecycle that populates the
// blob store: begin -> put-chunk x N -> finish/abort, plus the periodic
// sweep that reclaims abandoned sessions.
type UploadService interface {
	// Begin opens (or idempotently returns) a session for the capsule.
	Begin(ctx context.Context, caller, capsuleID uuid.UUID, chunkCount int, idemKey string) (string, error)
	// PutChunk stores one chunk; duplicate indices are no-op successes.
	PutChunk(ctx context.Context, caller uuid.UUID, sessionID string, index int, data []byte) error
	// Finish verifies completeness and integrity, commits the blob,
	// consumes the session and returns the durable handle.
	Finish(ctx context.Context, caller uuid.UUID, sessionID, declaredSHA256 string, declaredLen int64) (model.BlobRef, error)
	// Abort discards the session and its partial chunks.
	Abort(ctx context.Context, caller uuid.UUID, sessionID string) error
	// SweepExpired reclaims sessions past their expiry.
	SweepExpired(ctx context.Context) (int, error)
}

// UploadConfig bounds resource claims made before any bytes are verified.
type UploadConfig struct {
	MaxSessionsPerCapsule int
	MaxChunksPerSession   int
	SessionTTL            time.Duration
}

// DefaultUploadConfig returns the production caps.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		MaxSessionsPerCapsule: 16,
		MaxChunksPerSession:   4096,
		SessionTTL:            24 * time.Hour,
	}
}

type UploadServiceImpl struct {
	sessions repository.SessionRepository
	capsules repository.CapsuleRepository
	blobs    BlobStore
	cfg      UploadConfig
	log      *zap.Logger
	now      NowFunc
}

// NewUploadService constructs an UploadService with the given caps.
func NewUploadService(
	sessions repository.SessionRepository,
	capsules repository.CapsuleRepository,
	blobs BlobStore,
	cfg UploadConfig,
	log *zap.Logger,
	now NowFunc,
) *UploadServiceImpl {
	if cfg.MaxSessionsPerCapsule <= 0 {
		cfg.MaxSessionsPerCapsule = DefaultUploadConfig().MaxSessionsPerCapsule
	}
	if cfg.MaxChunksPerSession <= 0 {
		cfg.MaxChunksPerSession = DefaultUploadConfig().MaxChunksPerSession
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultUploadConfig().SessionTTL
	}
	if now == nil {
		now = defaultNow
	}
	return &UploadServiceImpl{
		sessions: sessions,
		capsules: capsules,
		blobs:    blobs,
		cfg:      cfg,
		log:      log,
		now:      now,
	}
}

// Begin opens a session. A replay with the same (capsule, idem) pair
// before expiry returns the existing session instead of allocating.
func (s *UploadServiceImpl) Begin(ctx context.Context, caller, capsuleID uuid.UUID, chunkCount int, idemKey string) (string, error) {
	if caller == uuid.Nil || capsuleID == uuid.Nil {
		return "", fmt.Errorf("%w: empty caller/capsule id", errs.ErrInvalidInput)
	}
	if idemKey == "" {
		return "", fmt.Errorf("%w: empty idempotency key", errs.ErrInvalidInput)
	}
	if chunkCount <= 0 {
		return "", fmt.Errorf("%w: chunk count must be positive", errs.ErrInvalidInput)
	}
	if chunkCount > s.cfg.MaxChunksPerSession {
		return "", fmt.Errorf("%w: chunk count %d exceeds cap %d",
			errs.ErrResourceExhausted, chunkCount, s.cfg.MaxChunksPerSession)
	}

	cps, err := s.capsules.Get(ctx, capsuleID)
	if err != nil {
		return "", err
	}
	if !cps.CanManage(caller) {
		return "", errs.ErrUnauthorized
	}

	now := s.now()
	if prev, err := s.sessions.FindByIdem(ctx, capsuleID, idemKey); err == nil && !prev.Expired(now) {
		if prev.ChunkCount != chunkCount {
			return "", fmt.Errorf("%w: idempotency key reused with different chunk count", errs.ErrConflict)
		}
		return prev.ID, nil
	} else if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return "", err
	}

	active, err := s.sessions.ActiveCount(ctx, capsuleID, now)
	if err != nil {
		return "", err
	}
	if active >= s.cfg.MaxSessionsPerCapsule {
		return "", fmt.Errorf("%w: capsule has %d active upload sessions",
			errs.ErrResourceExhausted, active)
	}

	sess := &model.UploadSession{
		ID:         ulid.Make().String(),
		CapsuleID:  capsuleID,
		ChunkCount: chunkCount,
		Received:   make(map[int]struct{}, chunkCount),
		IdemKey:    idemKey,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.SessionTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// PutChunk writes one chunk through to the blob store and marks the
// index received. Re-sending a received index succeeds without writing.
func (s *UploadServiceImpl) PutChunk(ctx context.Context, caller uuid.UUID, sessionID string, index int, data []byte) error {
	sess, err := s.liveSession(ctx, caller, sessionID)
	if err != nil {
		return err
	}
	if index < 0 || index >= sess.ChunkCount {
		return fmt.Errorf("%w: chunk index %d out of range [0,%d)",
			errs.ErrInvalidInput, index, sess.ChunkCount)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty chunk", errs.ErrInvalidInput)
	}
	if sess.Poisoned {
		return fmt.Errorf("%w: session failed integrity verification, begin a new upload", errs.ErrInvalidInput)
	}
	if _, ok := sess.Received[index]; ok {
		return nil // duplicate-safe
	}

	if err := s.blobs.PutChunk(ctx, sess.ID, index, data); err != nil {
		return err
	}
	sess.Received[index] = struct{}{}
	sess.Bytes += int64(len(data))
	return s.sessions.Update(ctx, sess)
}

// Finish gates on completeness, then on the blob store's integrity
// check. A failed integrity check poisons the session: it stays readable
// for diagnostics but only a new begin can restart the upload.
func (s *UploadServiceImpl) Finish(ctx context.Context, caller uuid.UUID, sessionID, declaredSHA256 string, declaredLen int64) (model.BlobRef, error) {
	sess, err := s.liveSession(ctx, caller, sessionID)
	if err != nil {
		return model.BlobRef{}, err
	}
	if sess.Poisoned {
		return model.BlobRef{}, &errs.IntegrityError{
			Kind: errs.IntegrityKind(sess.FailKind),
			Want: sess.FailWant,
			Got:  sess.FailGot,
		}
	}
	if !sess.Complete() {
		return model.BlobRef{}, &errs.IncompleteUploadError{Missing: sess.Missing()}
	}

	ref, err := s.blobs.Finalize(ctx, sess.ID, declaredSHA256, declaredLen)
	if err != nil {
		var ie *errs.IntegrityError
		if errors.As(err, &ie) {
			sess.Poisoned = true
			sess.FailKind = string(ie.Kind)
			sess.FailWant = ie.Want
			sess.FailGot = ie.Got
			if uerr := s.sessions.Update(ctx, sess); uerr != nil {
				s.log.Warn("poison session", zap.String("session", sess.ID), zap.Error(uerr))
			}
		}
		return model.BlobRef{}, err
	}

	if err := s.sessions.Delete(ctx, sess.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.log.Warn("delete finished session", zap.String("session", sess.ID), zap.Error(err))
	}
	return ref, nil
}

// Abort discards the session and any partially written chunks. Aborting
// an unknown (or already reaped) session reports ErrNotFound, which
// callers may treat as success.
func (s *UploadServiceImpl) Abort(ctx context.Context, caller uuid.UUID, sessionID string) error {
	sess, err := s.liveSession(ctx, caller, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, sess.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.log.Warn("delete aborted chunks", zap.String("session", sess.ID), zap.Error(err))
	}
	return nil
}

// SweepExpired deletes sessions past their expiry and releases their
// partial chunk storage. Run periodically: a client that vanishes
// mid-upload must not lock resources forever.
func (s *UploadServiceImpl) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.sessions.Expired(ctx, now)
	if err != nil {
		return 0, err
	}
	var released int64
	for _, sess := range expired {
		if err := s.sessions.Delete(ctx, sess.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("sweep session", zap.String("session", sess.ID), zap.Error(err))
			continue
		}
		if err := s.blobs.Delete(ctx, sess.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("sweep chunks", zap.String("session", sess.ID), zap.Error(err))
		}
		released += sess.Bytes
	}
	if len(expired) > 0 {
		s.log.Info("swept expired upload sessions",
			zap.Int("sessions", len(expired)),
			zap.String("released", humanize.Bytes(uint64(released))),
		)
	}
	return len(expired), nil
}

// liveSession loads a session, treats expired ones as missing, and
// checks the caller against the owning capsule.
func (s *UploadServiceImpl) liveSession(ctx context.Context, caller uuid.UUID, sessionID string) (*model.UploadSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", errs.ErrInvalidInput)
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		return nil, errs.ErrNotFound
	}
	cps, err := s.capsules.Get(ctx, sess.CapsuleID)
	if err != nil {
		return nil, err
	}
	if !cps.CanManage(caller) {
		return nil, errs.ErrUnauthorized
	}
	return sess, nil
}
