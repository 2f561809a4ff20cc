package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/backend/memory"
	"github.com/cschleiden/go-resume/core"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, backend.Backend) {
	b := memory.NewMemoryBackend(backend.WithLogger(slog.New(slog.DiscardHandler)))

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		e := core.NewEntry(core.NewExecution(id, "p-"+id, "wait"), now.Add(-time.Minute))
		require.NoError(t, b.Register(context.Background(), e))
	}

	srv := httptest.NewServer(NewServeMux(b))
	t.Cleanup(srv.Close)

	return srv, b
}

func getJSON(t *testing.T, url string, v any) int {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK && v != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}

	return res.StatusCode
}

func Test_Diag_Entries(t *testing.T) {
	srv, _ := newTestServer(t)

	var refs []*EntryRef
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/entries", &refs))
	require.Len(t, refs, 3)
	require.Equal(t, "a", refs[0].ExecutionID)
	require.Equal(t, "awaiting", refs[0].State)
	require.GreaterOrEqual(t, refs[0].WaitingMs, int64(time.Minute/time.Millisecond))

	refs = nil
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/entries?after=a&count=1", &refs))
	require.Len(t, refs, 1)
	require.Equal(t, "b", refs[0].ExecutionID)

	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/entries?count=x", nil))
}

func Test_Diag_Entry(t *testing.T) {
	srv, _ := newTestServer(t)

	var ref EntryRef
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/entries/b", &ref))
	require.Equal(t, "b", ref.ExecutionID)
	require.Equal(t, "p-b", ref.ProcessInstanceID)

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/entries/ghost", nil))
	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/unknown", nil))
}

func Test_Diag_Stats(t *testing.T) {
	srv, _ := newTestServer(t)

	var s Stats
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/stats", &s))
	require.Equal(t, int64(3), s.AwaitingExecutions)
	require.Equal(t, int64(0), s.ExpiringExecutions)
}

func Test_Diag_OnlyGet(t *testing.T) {
	srv, _ := newTestServer(t)

	res, err := http.Post(srv.URL+"/api/stats", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()

	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}
