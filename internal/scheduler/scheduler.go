// Package scheduler selects and publishes one profile per invocation.
//
// Selection walks a seeded permutation of the dataset's respondent ids. The
// permutation is generated once per state lifetime and stored in the state,
// so the visiting order is stable across restarts. The cursor only moves
// forward; every visited id advances it whether or not the id qualifies.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/VoterBot/internal/messaging"
	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/profile"
	"github.com/BTreeMap/VoterBot/internal/state"
	"github.com/BTreeMap/VoterBot/internal/util"
)

// MinFields is the minimum number of present categorical fields a record
// needs before it may be published.
const MinFields = 3

var (
	// ErrExhaustedCandidates is returned when the queue holds no further
	// eligible record.
	ErrExhaustedCandidates = errors.New("no remaining candidates with sufficient fields")
	// ErrMissingCredentials is returned when publishing without a handle or secret.
	ErrMissingCredentials = errors.New("missing publish credentials")
	// ErrNoStateBackend is returned when publishing without somewhere to save state.
	ErrNoStateBackend = errors.New("no state backend configured")
)

// Scan summarizes one selection pass.
type Scan struct {
	QueueBuilt     bool // the queue was generated during this pass
	Visited        int
	SkippedUsed    int
	SkippedMissing int
	SkippedSparse  int
}

// BuildQueue returns the distinct ids, in first-seen order, shuffled with seed.
func BuildQueue(ids []string, seed int64) []string {
	return util.SeededShuffle(util.Dedupe(ids), seed)
}

// SelectCandidate returns the next eligible record and advances st past it.
// The queue is generated on first use. st is mutated even when an error is
// returned.
func SelectCandidate(ds *models.Dataset, st *models.ScheduleState) (models.Record, Scan, error) {
	var scan Scan
	st.Normalize()
	if len(st.Queue) == 0 {
		st.Queue = BuildQueue(ds.IDs(), st.RNGSeed)
		st.QueueIndex = 0
		scan.QueueBuilt = true
		slog.Info("scheduler.SelectCandidate: generated queue", "size", len(st.Queue), "seed", st.RNGSeed)
	}

	used := st.UsedSet()
	for st.QueueIndex < len(st.Queue) {
		id := st.Queue[st.QueueIndex]
		st.QueueIndex++
		scan.Visited++

		if _, ok := used[id]; ok {
			scan.SkippedUsed++
			continue
		}
		rec, ok := ds.Lookup(id)
		if !ok {
			scan.SkippedMissing++
			continue
		}
		if rec.PresentCount() < MinFields {
			scan.SkippedSparse++
			continue
		}
		return rec, scan, nil
	}
	return models.Record{}, scan, ErrExhaustedCandidates
}

// Renderer turns a record into post text.
type Renderer func(models.Record) string

// Outcome describes a completed cycle.
type Outcome struct {
	Record   models.Record
	Text     string
	Ref      string // remote reference; empty for dry runs
	Channel  string
	DryRun   bool
	PostedAt time.Time
	Scan     Scan
}

// Scheduler runs selection, rendering, publishing and persistence.
type Scheduler struct {
	publisher messaging.Publisher
	creds     models.Credentials
	backend   state.Backend
	render    Renderer
	now       func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPublisher sets the publish gateway. Without one, cycles are dry runs.
func WithPublisher(p messaging.Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithCredentials sets the credentials passed to the publisher.
func WithCredentials(c models.Credentials) Option {
	return func(s *Scheduler) { s.creds = c }
}

// WithStateBackend sets where state is saved after a successful publish.
func WithStateBackend(b state.Backend) Option {
	return func(s *Scheduler) { s.backend = b }
}

// WithRenderer overrides the profile renderer.
func WithRenderer(r Renderer) Option {
	return func(s *Scheduler) { s.render = r }
}

// WithClock overrides the clock used to stamp posts.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{render: profile.Render, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunCycle selects one record, renders it and, when a publisher is set,
// publishes it and saves the updated state.
//
// State is saved only after a confirmed publish. Dry runs and failed cycles
// leave the persisted state untouched, including the scan cursor; the caller
// decides whether to discard the in-memory changes made to st.
func (s *Scheduler) RunCycle(ctx context.Context, ds *models.Dataset, st *models.ScheduleState) (Outcome, error) {
	rec, scan, err := SelectCandidate(ds, st)
	if err != nil {
		slog.Warn("Scheduler.RunCycle: selection failed", "visited", scan.Visited, "skipped_used", scan.SkippedUsed,
			"skipped_missing", scan.SkippedMissing, "skipped_sparse", scan.SkippedSparse, "error", err)
		return Outcome{Scan: scan}, err
	}
	slog.Debug("Scheduler.RunCycle: selected candidate", "respondent_id", rec.RespondentID, "queue_index", st.QueueIndex,
		"visited", scan.Visited, "skipped_used", scan.SkippedUsed, "skipped_missing", scan.SkippedMissing, "skipped_sparse", scan.SkippedSparse)

	text := s.render(rec)
	out := Outcome{Record: rec, Text: text, Scan: scan}

	if s.publisher == nil {
		out.DryRun = true
		slog.Info("Scheduler.RunCycle: dry run, state not saved", "respondent_id", rec.RespondentID)
		return out, nil
	}
	out.Channel = s.publisher.Channel()

	if !s.creds.Complete() {
		return out, ErrMissingCredentials
	}
	if s.backend == nil {
		return out, ErrNoStateBackend
	}
	if err := s.publisher.Authenticate(ctx, s.creds); err != nil {
		return out, fmt.Errorf("failed to authenticate with %s: %w", out.Channel, err)
	}
	ref, err := s.publisher.Publish(ctx, text)
	if err != nil {
		return out, err
	}

	out.Ref = ref
	out.PostedAt = s.now().UTC()
	st.MarkUsed(rec.RespondentID)
	st.RecordPost(out.PostedAt, ref, text)
	if err := s.backend.Save(ctx, st); err != nil {
		slog.Error("Scheduler.RunCycle: published but failed to save state", "ref", ref, "respondent_id", rec.RespondentID, "error", err)
		return out, fmt.Errorf("published %s but failed to save state to %s: %w", ref, s.backend.Location(), err)
	}
	slog.Info("Scheduler.RunCycle: published", "respondent_id", rec.RespondentID, "ref", ref, "channel", out.Channel, "used", len(st.UsedIDs))
	return out, nil
}
