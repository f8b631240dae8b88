// Package fakes holds scriptable stand-ins for the platform collaborators,
// shared by the health tests.
package fakes

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

// RecordStore answers GetChanges from a per-token script. Tokens it issues
// are named issued-1, issued-2, ...; unscripted tokens yield an empty page
// whose next token is the same token.
type RecordStore struct {
	mu sync.Mutex

	Changes    map[string]*models.ChangesResponse
	ChangesErr error
	Records    []models.Record
	ReadErr    error
	InsertErr  error

	issued       int
	tokenCalls   int
	changesCalls []string
	readCalls    []platform.ReadRequest
	inserted     []models.Record
	onGetChanges func(token string)
}

func NewRecordStore() *RecordStore {
	return &RecordStore{Changes: make(map[string]*models.ChangesResponse)}
}

var _ platform.RecordStore = (*RecordStore)(nil)

func (s *RecordStore) Script(token string, resp *models.ChangesResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Changes[token] = resp
}

// OnGetChanges installs a hook that runs, without the lock held, on every
// GetChanges call.
func (s *RecordStore) OnGetChanges(fn func(token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGetChanges = fn
}

func (s *RecordStore) ReadRecords(ctx context.Context, req platform.ReadRequest) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls = append(s.readCalls, req)
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	var out []models.Record
	for _, r := range s.Records {
		if models.From(r) == req.Type && req.Window.Contains(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RecordStore) GetChangesToken(ctx context.Context, types []models.RecordType) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCalls++
	s.issued++
	return fmt.Sprintf("issued-%d", s.issued), nil
}

func (s *RecordStore) GetChanges(ctx context.Context, token string) (*models.ChangesResponse, error) {
	s.mu.Lock()
	s.changesCalls = append(s.changesCalls, token)
	hook := s.onGetChanges
	resp, ok := s.Changes[token]
	err := s.ChangesErr
	s.mu.Unlock()

	if hook != nil {
		hook(token)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return &models.ChangesResponse{NextChangesToken: token}, nil
	}
	return resp, nil
}

func (s *RecordStore) InsertRecords(ctx context.Context, records []models.Record) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return nil, s.InsertErr
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		s.inserted = append(s.inserted, r)
		ids = append(ids, fmt.Sprintf("rec-%d", len(s.inserted)))
	}
	return ids, nil
}

func (s *RecordStore) TokenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCalls
}

func (s *RecordStore) ChangesCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.changesCalls)
}

func (s *RecordStore) ReadCalls() []platform.ReadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.readCalls)
}

func (s *RecordStore) Inserted() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.inserted)
}

// Batch is one delivery observed by Sink.
type Batch struct {
	Type    models.RecordType
	Records []models.Record
	IDs     []string
}

type Sink struct {
	mu      sync.Mutex
	added   []Batch
	deleted []Batch
	resyncs []models.RecordType
}

var _ platform.Sink = (*Sink)(nil)

func (s *Sink) HandleNewRecords(ctx context.Context, records []models.Record, t models.RecordType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, Batch{Type: t, Records: records})
	return nil
}

func (s *Sink) HandleDeletedRecords(ctx context.Context, ids []string, t models.RecordType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, Batch{Type: t, IDs: ids})
	return nil
}

func (s *Sink) OnFullyResyncRequired(ctx context.Context, t models.RecordType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncs = append(s.resyncs, t)
	return nil
}

func (s *Sink) Added() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.added)
}

func (s *Sink) Deleted() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.deleted)
}

func (s *Sink) Resyncs() []models.RecordType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.resyncs)
}

// Permissions is both a PermissionController and a PermissionRequester.
// Requests grant whatever is listed in Grantable.
type Permissions struct {
	mu        sync.Mutex
	granted   map[string]struct{}
	Err       error
	Grantable map[string]struct{}
	requests  [][]string
}

var (
	_ platform.PermissionController = (*Permissions)(nil)
	_ platform.PermissionRequester  = (*Permissions)(nil)
)

func NewPermissions(granted ...string) *Permissions {
	p := &Permissions{granted: make(map[string]struct{}), Grantable: make(map[string]struct{})}
	for _, g := range granted {
		p.granted[g] = struct{}{}
	}
	return p
}

func (p *Permissions) Grant(perms ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range perms {
		p.granted[g] = struct{}{}
	}
}

func (p *Permissions) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

func (p *Permissions) GetGrantedPermissions(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([]string, 0, len(p.granted))
	for g := range p.granted {
		out = append(out, g)
	}
	slices.Sort(out)
	return out, nil
}

func (p *Permissions) RequestPermissions(ctx context.Context, perms []string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, slices.Clone(perms))
	var granted []string
	for _, perm := range perms {
		if _, ok := p.Grantable[perm]; ok {
			p.granted[perm] = struct{}{}
			granted = append(granted, perm)
		}
	}
	return granted, nil
}

func (p *Permissions) Requests() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}
