package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/healthsync/health"
	"tangled.sh/tangled.sh/healthsync/health/internal/fakes"
	"tangled.sh/tangled.sh/healthsync/health/journal"
	"tangled.sh/tangled.sh/healthsync/health/kv"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform/memory"
	"tangled.sh/tangled.sh/healthsync/log"
)

type testEnv struct {
	store  *memory.Store
	perms  *fakes.Permissions
	client health.Client
	srv    *httptest.Server
}

func setup(t *testing.T, granted ...string) *testEnv {
	t.Helper()

	j, err := journal.Make(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	store := memory.New()
	perms := fakes.NewPermissions(granted...)
	client := health.New(context.Background(), health.Options{
		Store:       store,
		Permissions: perms,
		KV:          &kv.MemoryStore{},
		Sink:        j,
		Components: []health.Component{
			health.RequestWriteAccess(models.StepsType),
			health.CollectRecord(health.CollectorSpec{
				Type:    models.StepsType,
				Setting: models.DeliverySetting{Mode: models.Manual},
			}),
		},
		Logger: log.New("test"),
	})
	t.Cleanup(client.Shutdown)
	client.Configure()
	require.Eventually(t, func() bool { return client.ConfigurationState() == health.Completed }, 5*time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(New(client, perms, j, log.New("test")).Router())
	t.Cleanup(srv.Close)

	return &testEnv{store: store, perms: perms, client: client, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestStatus(t *testing.T) {
	e := setup(t, models.StepsType.ReadPermission)

	resp := e.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decode[statusResponse](t, resp)
	assert.Equal(t, "completed", status.State)
	assert.Equal(t, []string{"steps"}, status.Read)
	assert.Equal(t, []string{"steps"}, status.Write)
	require.Len(t, status.Collectors, 1)
	assert.Equal(t, "manual", status.Collectors[0].Mode)
	assert.Nil(t, status.Collectors[0].LastSync)
}

func TestInsertAndQueryRecords(t *testing.T) {
	e := setup(t, models.StepsType.ReadPermission, models.StepsType.WritePermission)
	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	for i, count := range []int{100, 300, 200} {
		start := base.Add(time.Duration(i) * time.Hour)
		body, _ := json.Marshal(map[string]any{
			"start": start,
			"end":   start.Add(time.Hour),
			"count": count,
		})
		resp := e.do(t, http.MethodPost, "/records/steps", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := e.do(t, http.MethodGet, "/records/steps?order=desc&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[[]struct {
		Type   string       `json:"type"`
		Record models.Steps `json:"record"`
	}](t, resp)
	require.Len(t, got, 2)
	assert.Equal(t, int64(200), got[0].Record.Count)
	assert.Equal(t, int64(300), got[1].Record.Count)
	assert.NotEmpty(t, got[0].Record.ID)

	resp = e.do(t, http.MethodGet, "/records/steps?since="+base.Add(90*time.Minute).Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]json.RawMessage](t, resp), 1)
}

func TestInsertRequiresWritePermission(t *testing.T) {
	e := setup(t)

	resp := e.do(t, http.MethodPost, "/records/steps", []byte(`{"count": 5}`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/records/steps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]json.RawMessage](t, resp))
}

func TestBadRequests(t *testing.T) {
	e := setup(t, models.StepsType.WritePermission)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/records/teleportation", "", http.StatusNotFound},
		{http.MethodGet, "/records/steps?order=sideways", "", http.StatusBadRequest},
		{http.MethodGet, "/records/steps?limit=-1", "", http.StatusBadRequest},
		{http.MethodGet, "/records/steps?since=yesterday", "", http.StatusBadRequest},
		{http.MethodPost, "/records/steps", "{not json", http.StatusBadRequest},
		{http.MethodPost, "/permissions/request?type=steps&access=all", "", http.StatusBadRequest},
		{http.MethodPost, "/collectors/teleportation/trigger", "", http.StatusNotFound},
		{http.MethodGet, "/journal/events?cursor=abc", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := e.do(t, tt.method, tt.path, []byte(tt.body))
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestTriggerCollectionFillsJournal(t *testing.T) {
	e := setup(t, models.StepsType.ReadPermission)
	ctx := context.Background()

	// first trigger only positions the token
	resp := e.do(t, http.MethodPost, "/collectors/steps/trigger", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		c := e.client.Collectors()
		return len(c) == 1 && !c[0].LastSync.IsZero() && !c[0].Running
	}, 5*time.Second, 5*time.Millisecond)

	_, err := e.store.InsertRecords(ctx, []models.Record{&models.Steps{
		Interval: models.Interval{Start: time.Now(), End: time.Now().Add(time.Minute)},
		Count:    42,
	}})
	require.NoError(t, err)

	e.do(t, http.MethodPost, "/collectors/steps/trigger", nil)

	assert.Eventually(t, func() bool {
		resp := e.do(t, http.MethodGet, "/journal/events", nil)
		evts := decode[[]journal.Event](t, resp)
		return len(evts) == 1 && evts[0].Kind == journal.EventUpsert
	}, 5*time.Second, 10*time.Millisecond)

	resp = e.do(t, http.MethodDelete, "/collectors/steps", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Eventually(t, func() bool { return len(e.client.Collectors()) == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestRequestPermissions(t *testing.T) {
	e := setup(t)
	e.perms.Grantable[models.StepsType.ReadPermission] = struct{}{}

	resp := e.do(t, http.MethodPost, "/permissions/request", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return len(e.perms.Requests()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{models.StepsType.ReadPermission, models.StepsType.WritePermission}, e.perms.Requests()[0])
	assert.True(t, e.client.IsAuthorizedToRead(context.Background(), models.StepsType))

	resp = e.do(t, http.MethodPost, "/permissions/request?type=weight&access=write", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return len(e.perms.Requests()) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{models.WeightType.WritePermission}, e.perms.Requests()[1])
}

func TestChangesStream(t *testing.T) {
	e := setup(t, models.StepsType.ReadPermission)
	ctx := context.Background()

	anchor, err := e.store.GetChangesToken(ctx, []models.RecordType{models.StepsType})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/records/steps/changes?interval=10ms&anchor=" + anchor
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ids, err := e.store.InsertRecords(ctx, []models.Record{&models.Steps{
		Interval: models.Interval{Start: time.Now(), End: time.Now().Add(time.Minute)},
		Count:    7,
	}})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg struct {
		Added      []models.Steps `json:"added"`
		DeletedIDs []string       `json:"deleted_ids"`
		NextAnchor *string        `json:"next_anchor"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Added, 1)
	assert.Equal(t, ids[0], msg.Added[0].ID)
	assert.Equal(t, int64(7), msg.Added[0].Count)
	assert.NotNil(t, msg.NextAnchor)

	require.NoError(t, e.store.DeleteRecords(ctx, ids[0]))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ids, msg.DeletedIDs)
}
