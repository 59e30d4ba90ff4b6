package model

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
)

func TestMemoryAccess_Validate(t *testing.T) {
	t.Parallel()
	who := uuid.Must(uuid.NewV4())
	when := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	valid := []MemoryAccess{
		{Kind: AccessPublic},
		{Kind: AccessPrivate},
		{Kind: AccessCustom, Individuals: []uuid.UUID{who}},
		{Kind: AccessCustom, Groups: []uuid.UUID{who}},
		{Kind: AccessScheduled, AccessibleAfter: when, Inner: &MemoryAccess{Kind: AccessPublic}},
		{Kind: AccessEventTriggered, TriggerEvent: "wedding", Inner: &MemoryAccess{
			Kind: AccessScheduled, AccessibleAfter: when, Inner: &MemoryAccess{Kind: AccessPrivate},
		}},
	}
	for i, a := range valid {
		if err := a.Validate(); err != nil {
			t.Fatalf("valid[%d]: %v", i, err)
		}
	}

	invalid := []MemoryAccess{
		{},
		{Kind: "secret"},
		{Kind: AccessPublic, Inner: &MemoryAccess{Kind: AccessPrivate}},
		{Kind: AccessCustom},
		{Kind: AccessCustom, Individuals: []uuid.UUID{uuid.Nil}},
		{Kind: AccessScheduled, Inner: &MemoryAccess{Kind: AccessPublic}},
		{Kind: AccessScheduled, AccessibleAfter: when},
		{Kind: AccessEventTriggered, Inner: &MemoryAccess{Kind: AccessPublic}},
		{Kind: AccessEventTriggered, TriggerEvent: "wedding"},
		{Kind: AccessScheduled, AccessibleAfter: when, Inner: &MemoryAccess{Kind: AccessCustom}},
	}
	for i, a := range invalid {
		if err := a.Validate(); err == nil {
			t.Fatalf("invalid[%d]: want error", i)
		}
	}
}

func TestUploadSession_Missing(t *testing.T) {
	t.Parallel()
	s := UploadSession{
		ChunkCount: 4,
		Received:   map[int]struct{}{0: {}, 2: {}},
	}
	if s.Complete() {
		t.Fatalf("half-received session reported complete")
	}
	missing := s.Missing()
	if len(missing) != 2 || missing[0] != 1 || missing[1] != 3 {
		t.Fatalf("missing: %v", missing)
	}
	s.Received[1] = struct{}{}
	s.Received[3] = struct{}{}
	if !s.Complete() || len(s.Missing()) != 0 {
		t.Fatalf("full session not complete")
	}
}
