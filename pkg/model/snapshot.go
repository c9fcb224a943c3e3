package model

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Snapshot is an immutable, timestamped copy of the known catalog.
// A refresh always builds a new Snapshot; readers share one by pointer.
type Snapshot struct {
	id         uuid.UUID
	items      []Item
	capturedAt time.Time
}

// NewSnapshot copies items into a new snapshot captured at capturedAt.
func NewSnapshot(items []Item, capturedAt time.Time) *Snapshot {
	return &Snapshot{
		id:         uuid.New(),
		items:      slices.Clone(items),
		capturedAt: capturedAt.UTC(),
	}
}

func (s *Snapshot) ID() uuid.UUID { return s.id }

func (s *Snapshot) CapturedAt() time.Time { return s.capturedAt }

func (s *Snapshot) Len() int { return len(s.items) }

// Items returns a copy of the snapshot's items in capture order.
func (s *Snapshot) Items() []Item {
	return slices.Clone(s.items)
}

// Each calls fn for every item in capture order without copying the slice.
func (s *Snapshot) Each(fn func(Item)) {
	for _, it := range s.items {
		fn(it)
	}
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.capturedAt)
}

// CountByClass returns how many items of each class the snapshot holds.
func (s *Snapshot) CountByClass() map[Class]int {
	out := make(map[Class]int, 2)
	for _, it := range s.items {
		out[it.Class]++
	}
	return out
}

type snapshotJSON struct {
	ID         uuid.UUID `json:"id"`
	Items      []Item    `json:"items"`
	CapturedAt time.Time `json:"capturedAt"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{ID: s.id, Items: s.items, CapturedAt: s.capturedAt})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.id = raw.ID
	s.items = raw.Items
	s.capturedAt = raw.CapturedAt.UTC()
	return nil
}
