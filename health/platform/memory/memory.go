// Package memory is an in-process record store with a token based change
// feed. It backs the daemon and the tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

const (
	defaultTokenTTL = 30 * 24 * time.Hour
	defaultPageSize = 1000
	defaultOrigin   = "healthsync"

	// replayWindow is how long a consumed token can still be read again,
	// e.g. when its successor was never persisted.
	replayWindow = time.Hour
)

var ErrEmptyToken = errors.New("empty changes token")

type change struct {
	seq        int64
	recordType models.RecordType
	change     models.Change
}

type token struct {
	seq      int64
	types    models.RecordTypeSet
	issued   time.Time
	consumed time.Time
}

type Store struct {
	mu      sync.Mutex
	records map[string]models.Record
	feed    []change
	seq     int64
	tokens  map[string]token

	ttl      time.Duration
	pageSize int
	now      func() time.Time
}

type Opt func(*Store)

// WithTokenTTL sets how long a changes token stays valid after issue.
func WithTokenTTL(ttl time.Duration) Opt {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPageSize caps the number of changes returned by one GetChanges call.
func WithPageSize(n int) Opt {
	return func(s *Store) {
		s.pageSize = n
	}
}

func WithClock(now func() time.Time) Opt {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Opt) *Store {
	s := &Store{
		records:  make(map[string]models.Record),
		tokens:   make(map[string]token),
		ttl:      defaultTokenTTL,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ platform.RecordStore = (*Store)(nil)

func (s *Store) ReadRecords(ctx context.Context, req platform.ReadRequest) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Record
	for _, r := range s.records {
		if models.From(r) != req.Type {
			continue
		}
		if !req.Window.Contains(r) {
			continue
		}
		if len(req.DataOrigins) > 0 && !slices.Contains(req.DataOrigins, r.Meta().DataOrigin) {
			continue
		}
		out = append(out, r)
	}

	// map iteration is random; keep reads deterministic
	slices.SortFunc(out, func(a, b models.Record) int {
		return compareRecords(a, b)
	})

	if req.PageSize > 0 && len(out) > req.PageSize {
		out = out[:req.PageSize]
	}
	return out, nil
}

func (s *Store) GetChangesToken(ctx context.Context, types []models.RecordType) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(types) == 0 {
		return "", fmt.Errorf("changes token needs at least one record type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue(s.seq, models.NewRecordTypeSet(types...)), nil
}

func (s *Store) issue(seq int64, types models.RecordTypeSet) string {
	s.prune()
	id := uuid.NewString()
	s.tokens[id] = token{seq: seq, types: types, issued: s.now()}
	return id
}

// prune forgets tokens that expired or were consumed more than
// replayWindow ago. A forgotten token reads as expired.
func (s *Store) prune() {
	now := s.now()
	for id, t := range s.tokens {
		if now.Sub(t.issued) >= s.ttl || (!t.consumed.IsZero() && now.Sub(t.consumed) >= replayWindow) {
			delete(s.tokens, id)
		}
	}
}

func (s *Store) GetChanges(ctx context.Context, tok string) (*models.ChangesResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok == "" {
		return nil, ErrEmptyToken
	}

	// tokens do not survive a restart of the store, so an unknown one is
	// treated like an expired one
	t, ok := s.tokens[tok]
	if !ok || s.now().Sub(t.issued) >= s.ttl {
		return &models.ChangesResponse{ChangesTokenExpired: true}, nil
	}
	if t.consumed.IsZero() {
		t.consumed = s.now()
		s.tokens[tok] = t
	}

	resp := &models.ChangesResponse{}
	last := t.seq
	for _, c := range s.feed {
		if c.seq <= t.seq || !t.types.Has(c.recordType) {
			continue
		}
		if len(resp.Changes) == s.pageSize {
			resp.HasMore = true
			break
		}
		resp.Changes = append(resp.Changes, c.change)
		last = c.seq
	}
	resp.NextChangesToken = s.issue(last, t.types)
	return resp, nil
}

func (s *Store) InsertRecords(ctx context.Context, records []models.Record) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(records))
	for _, r := range records {
		md := r.Meta()
		if md.ID == "" {
			md.ID = uuid.NewString()
		}
		if md.DataOrigin == "" {
			md.DataOrigin = defaultOrigin
		}
		md.LastModified = s.now()

		setter, ok := r.(models.MetaSetter)
		if !ok {
			return nil, fmt.Errorf("record of type %T cannot be stored, pass a pointer", r)
		}
		setter.SetMeta(md)

		s.records[md.ID] = r
		s.append(models.From(r), models.Upsertion{Record: r})
		ids = append(ids, md.ID)
	}
	return ids, nil
}

// DeleteRecords removes records by id. Unknown ids are ignored.
func (s *Store) DeleteRecords(ctx context.Context, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		r, ok := s.records[id]
		if !ok {
			continue
		}
		delete(s.records, id)
		s.append(models.From(r), models.Deletion{RecordID: id})
	}
	return nil
}

// ExpireTokens invalidates every token issued so far.
func (s *Store) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := s.now().Add(-s.ttl)
	for id, t := range s.tokens {
		t.issued = expired
		s.tokens[id] = t
	}
}

func (s *Store) append(rt models.RecordType, c models.Change) {
	s.seq++
	s.feed = append(s.feed, change{seq: s.seq, recordType: rt, change: c})
}

func compareRecords(a, b models.Record) int {
	sa, _ := a.StartTime()
	sb, _ := b.StartTime()
	if c := sa.Compare(sb); c != 0 {
		return c
	}
	switch ia, ib := a.Meta().ID, b.Meta().ID; {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	}
	return 0
}
