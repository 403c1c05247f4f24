// Package models defines state management structures for VoterBot scheduling.
package models

import (
	"slices"
	"time"
)

// DefaultRNGSeed seeds the queue shuffle when no state has been persisted yet.
const DefaultRNGSeed int64 = 1337

// LastPost records the most recent successful publication.
type LastPost struct {
	Timestamp string `json:"timestamp"`
	URI       string `json:"uri"`
	Text      string `json:"text"`
}

// ScheduleState is the persisted progress of the posting scheduler.
type ScheduleState struct {
	UsedIDs    []string  `json:"used_ids"`
	Queue      []string  `json:"queue"`
	QueueIndex int       `json:"queue_index"`
	RNGSeed    int64     `json:"rng_seed"`
	LastPost   *LastPost `json:"last_post"`
}

// DefaultScheduleState returns a fresh state. Each call allocates new slices so
// successive loads never share backing arrays.
func DefaultScheduleState() *ScheduleState {
	return &ScheduleState{
		UsedIDs:    []string{},
		Queue:      []string{},
		QueueIndex: 0,
		RNGSeed:    DefaultRNGSeed,
		LastPost:   nil,
	}
}

// Normalize replaces null slices with empty ones and clamps a negative cursor.
func (s *ScheduleState) Normalize() {
	if s.UsedIDs == nil {
		s.UsedIDs = []string{}
	}
	if s.Queue == nil {
		s.Queue = []string{}
	}
	if s.QueueIndex < 0 {
		s.QueueIndex = 0
	}
}

// IsUsed reports whether id has been published.
func (s *ScheduleState) IsUsed(id string) bool {
	return slices.Contains(s.UsedIDs, id)
}

// UsedSet returns the published ids as a set.
func (s *ScheduleState) UsedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.UsedIDs))
	for _, id := range s.UsedIDs {
		set[id] = struct{}{}
	}
	return set
}

// MarkUsed appends id to the used set. It returns false if id was already present.
func (s *ScheduleState) MarkUsed(id string) bool {
	if s.IsUsed(id) {
		return false
	}
	s.UsedIDs = append(s.UsedIDs, id)
	return true
}

// RecordPost stores the outcome of a successful publication.
func (s *ScheduleState) RecordPost(at time.Time, uri, text string) {
	s.LastPost = &LastPost{
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		URI:       uri,
		Text:      text,
	}
}

// Remaining returns the number of queue entries not yet scanned.
func (s *ScheduleState) Remaining() int {
	if s.QueueIndex >= len(s.Queue) {
		return 0
	}
	return len(s.Queue) - s.QueueIndex
}

// Clone returns a deep copy of the state.
func (s *ScheduleState) Clone() *ScheduleState {
	c := &ScheduleState{
		UsedIDs:    slices.Clone(s.UsedIDs),
		Queue:      slices.Clone(s.Queue),
		QueueIndex: s.QueueIndex,
		RNGSeed:    s.RNGSeed,
	}
	if s.LastPost != nil {
		lp := *s.LastPost
		c.LastPost = &lp
	}
	c.Normalize()
	return c
}
