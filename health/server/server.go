// Package server exposes a health client over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"tangled.sh/tangled.sh/healthsync/health"
	"tangled.sh/tangled.sh/healthsync/health/journal"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

const maxRecordBody = 1 << 20

type Server struct {
	client    health.Client
	requester platform.PermissionRequester
	journal   *journal.DB
	l         *slog.Logger
}

// New returns a server for client. requester answers permission requests
// and journal, which may be nil, backs the event log endpoint.
func New(client health.Client, requester platform.PermissionRequester, j *journal.DB, l *slog.Logger) *Server {
	return &Server{
		client:    client,
		requester: requester,
		journal:   j,
		l:         l,
	}
}

func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.RequestLogger)

	mux.Get("/status", s.Status)
	mux.Get("/types", s.Types)

	mux.Route("/records/{type}", func(r chi.Router) {
		r.Use(s.recordType)
		r.Get("/", s.QueryRecords)
		r.Post("/", s.InsertRecord)
		r.Get("/changes", s.Changes)
	})

	mux.Route("/collectors/{type}", func(r chi.Router) {
		r.Use(s.recordType)
		r.Post("/trigger", s.TriggerCollection)
		r.Delete("/", s.ResetCollection)
	})

	mux.Post("/permissions/request", s.RequestPermissions)

	if s.journal != nil {
		mux.Get("/journal/events", s.JournalEvents)
	}

	return mux
}

type statusResponse struct {
	State      string            `json:"state"`
	Authorized bool              `json:"authorized"`
	Read       []string          `json:"read"`
	Write      []string          `json:"write"`
	Collectors []collectorStatus `json:"collectors"`
}

type collectorStatus struct {
	Type        string     `json:"type"`
	Mode        string     `json:"mode"`
	Background  bool       `json:"background"`
	TimeRange   string     `json:"time_range"`
	Running     bool       `json:"running"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	LastSyncAgo string     `json:"last_sync_ago,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Resyncs     int        `json:"resyncs"`
	Delivered   int        `json:"delivered"`
	Deletions   int        `json:"deletions"`
}

func ids(set models.RecordTypeSet) []string {
	out := []string{}
	for _, t := range set.Sorted() {
		out = append(out, t.ID())
	}
	return out
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	req := s.client.DataAccessRequirements()
	resp := statusResponse{
		State:      s.client.ConfigurationState().String(),
		Authorized: s.client.FullyAuthorized().Get(),
		Read:       ids(req.Read),
		Write:      ids(req.Write),
		Collectors: []collectorStatus{},
	}

	for _, c := range s.client.Collectors() {
		cs := collectorStatus{
			Type:       c.Type.ID(),
			Mode:       c.Mode.String(),
			Background: c.ContinueInBackground,
			TimeRange:  c.TimeRange.String(),
			Running:    c.Running,
			LastError:  c.LastError,
			Resyncs:    c.Resyncs,
			Delivered:  c.Delivered,
			Deletions:  c.Deletions,
		}
		if !c.LastSync.IsZero() {
			last := c.LastSync
			cs.LastSync = &last
			cs.LastSyncAgo = humanize.Time(last)
		}
		resp.Collectors = append(resp.Collectors, cs)
	}

	writeJSON(w, http.StatusOK, resp)
}

type typeResponse struct {
	ID              string `json:"id"`
	ReadPermission  string `json:"read_permission"`
	WritePermission string `json:"write_permission"`
}

func (s *Server) Types(w http.ResponseWriter, r *http.Request) {
	var out []typeResponse
	for _, t := range models.All() {
		out = append(out, typeResponse{t.ID(), t.ReadPermission, t.WritePermission})
	}
	writeJSON(w, http.StatusOK, out)
}

type recordResponse struct {
	Type   string        `json:"type"`
	Record models.Record `json:"record"`
}

func (s *Server) QueryRecords(w http.ResponseWriter, r *http.Request) {
	t := typeFrom(r)
	q := r.URL.Query()

	query := health.SnapshotQuery{Type: t, DataOrigins: q["origin"]}

	var err error
	if query.Order, err = models.ParseSortOrder(q.Get("order")); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		if query.Limit, err = strconv.Atoi(v); err != nil || query.Limit < 0 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	if query.Window, err = parseWindow(q.Get("since"), q.Get("until")); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records := s.client.Query(r.Context(), query)
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordResponse{Type: t.ID(), Record: rec})
	}
	writeJSON(w, http.StatusOK, out)
}

func parseWindow(since, until string) (models.Window, error) {
	var w models.Window
	var err error
	if since != "" {
		if w.Start, err = time.Parse(time.RFC3339, since); err != nil {
			return w, errors.New("invalid since, expected RFC3339")
		}
	}
	if until != "" {
		if w.End, err = time.Parse(time.RFC3339, until); err != nil {
			return w, errors.New("invalid until, expected RFC3339")
		}
	}
	return w, nil
}

func (s *Server) InsertRecord(w http.ResponseWriter, r *http.Request) {
	t := typeFrom(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBody))
	if err != nil {
		writeError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	rec, err := models.Decode(t, body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !s.client.IsAuthorizedToWrite(r.Context(), t) {
		writeError(w, "not authorized to write "+t.ID(), http.StatusForbidden)
		return
	}
	if !s.client.Insert(r.Context(), rec) {
		writeError(w, "failed to insert record", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, recordResponse{Type: t.ID(), Record: rec})
}

func (s *Server) TriggerCollection(w http.ResponseWriter, r *http.Request) {
	s.client.TriggerCollection(typeFrom(r))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) ResetCollection(w http.ResponseWriter, r *http.Request) {
	s.client.ResetRecordCollection(typeFrom(r))
	w.WriteHeader(http.StatusAccepted)
}

// RequestPermissions asks for whatever the configuration still misses, or
// for a single permission when type and access are given.
func (s *Server) RequestPermissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("type")
	if id == "" {
		s.client.RequestPermissionsIfNeeded(s.requester)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	t, err := models.ByID(id)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	switch q.Get("access") {
	case "", "read":
		s.client.RequestReadPermission(t, s.requester)
	case "write":
		s.client.RequestWritePermission(t, s.requester)
	default:
		writeError(w, "access must be read or write", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) JournalEvents(w http.ResponseWriter, r *http.Request) {
	var cursor int64
	if v := r.URL.Query().Get("cursor"); v != "" {
		var err error
		if cursor, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, "invalid cursor", http.StatusBadRequest)
			return
		}
	}

	evts, err := s.journal.GetEvents(r.Context(), cursor)
	if err != nil {
		s.l.Error("failed to read journal", "err", err)
		writeError(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if evts == nil {
		evts = []journal.Event{}
	}
	writeJSON(w, http.StatusOK, evts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
