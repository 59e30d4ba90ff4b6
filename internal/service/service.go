package service

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/model"
)

// NowFunc supplies the current time; injectable so tests can steer the
// clock through session expiry and scheduled access.
type NowFunc func() time.Time

func defaultNow() time.Time { return time.Now().UTC() }

// MirrorNotifier is the consumed hook informing an external index about
// a committed (memory, storage edge) pair. Delivery is at-least-once and
// must be idempotent on the receiving side; the local commit never
// blocks on it.
type MirrorNotifier interface {
	Notify(ctx context.Context, memoryID uuid.UUID, edge model.StorageEdge) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, uuid.UUID, model.StorageEdge) error { return nil }
