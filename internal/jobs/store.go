// Package jobs implements an in-memory store for evaluation jobs with
// status tracking, TTL-based expiry, and paginated listing.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/interview-evaluator/internal/pipeline"
)

// Status is the lifecycle state of a job. Transitions are forward-only:
// pending -> processing -> completed | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// terminal reports whether no further transitions are allowed from s.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the lifecycle so that transitions can be
// checked with a comparison.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// Input is the snapshot of the request that created a job. It is kept so
// that results can be re-read alongside what produced them.
type Input struct {
	Rubric     string                 `json:"rubric"`
	Transcript string                 `json:"transcript"`
	Candidate  pipeline.CandidateInfo `json:"candidate_info"`
}

// Record is the stored form of one evaluation job.
type Record struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	Progress    int             `json:"progress"`
	Input       Input           `json:"input"`
	Result      *pipeline.State `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Patch describes a partial update to a record. Nil fields are left
// untouched.
type Patch struct {
	Status   *Status
	Progress *int
	Result   *pipeline.State
	Error    *string
}

// Stats summarizes the store contents by status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Store holds job records in memory. All methods are safe for concurrent
// use.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
	ttl     time.Duration
	log     *zap.Logger

	now func() time.Time
}

// NewStore creates a store whose records expire ttl after creation. A
// non-positive ttl disables expiry.
func NewStore(ttl time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		records: make(map[string]*Record),
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
}

// Create registers a new pending job under id.
func (s *Store) Create(id string, input Input) *Record {
	now := s.now()
	rec := &Record{
		ID:          id,
		Status:      StatusPending,
		Input:       input,
		CreatedAt:   now,
		LastUpdated: now,
	}
	s.mu.Lock()
	s.records[id] = rec
	s.mu.Unlock()
	return copyRecord(rec)
}

// Get returns a copy of the record, or nil if the id is unknown.
func (s *Store) Get(id string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	return copyRecord(rec)
}

// Update applies a patch to the record. Status may only move forward and
// progress may only grow; violating updates are dropped field-wise rather
// than failing the whole patch, so a late progress event cannot clobber a
// terminal status. Returns the updated copy, or nil if the id is unknown.
func (s *Store) Update(id string, patch Patch) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	if patch.Status != nil && !rec.Status.terminal() && patch.Status.rank() > rec.Status.rank() {
		rec.Status = *patch.Status
		if rec.Status.terminal() {
			rec.CompletedAt = s.now()
		}
	}
	if patch.Progress != nil && *patch.Progress > rec.Progress {
		rec.Progress = *patch.Progress
	}
	if patch.Result != nil {
		rec.Result = patch.Result
	}
	if patch.Error != nil {
		rec.Error = *patch.Error
	}
	rec.LastUpdated = s.now()
	return copyRecord(rec)
}

// Delete removes a record. It reports whether the id existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// List returns records ordered newest-first, after applying offset and
// limit, along with the total count before pagination. A limit of 0 means
// no limit.
func (s *Store) List(limit, offset int) ([]*Record, int) {
	s.mu.Lock()
	all := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, copyRecord(rec))
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return nil, total
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total
}

// Processing returns the IDs of jobs currently being processed. Used by
// the stream heartbeat to know which streams to keep alive.
func (s *Store) Processing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, rec := range s.records {
		if rec.Status == StatusProcessing {
			ids = append(ids, id)
		}
	}
	return ids
}

// Stats counts records by status.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, rec := range s.records {
		st.Total++
		switch rec.Status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
	}
	return st
}

// ExpireOlderThan removes records created before cutoff and returns how
// many were removed. In-flight jobs are kept so their goroutines do not
// write into a deleted record.
func (s *Store) ExpireOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var victims []string
	for id, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) && rec.Status != StatusProcessing {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		delete(s.records, id)
	}
	return len(victims)
}

// Janitor runs periodic TTL expiry until the context is cancelled. It is
// a no-op when the store was created with a non-positive TTL.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ExpireOlderThan(s.now().Add(-s.ttl)); n > 0 {
				s.log.Info("expired evaluation jobs", zap.Int("count", n))
			}
		}
	}
}

// copyRecord returns a shallow copy so callers cannot mutate the stored
// record outside the lock. Result points at a state that is never written
// after the job reaches a terminal status.
func copyRecord(rec *Record) *Record {
	cp := *rec
	return &cp
}
