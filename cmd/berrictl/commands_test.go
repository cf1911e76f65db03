package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv points berrictl at a fake social API and a temp database.
func setupEnv(t *testing.T) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/twitter/user/alice", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id_str":"1","screen_name":"Alice","friends_count":2,"followers_count":1}`)
	})
	mux.HandleFunc("/twitter/user/bob", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id_str":"2","screen_name":"Bob","friends_count":0,"followers_count":1}`)
	})
	mux.HandleFunc("/twitter/friends/list", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"users":[{"id_str":"10","screen_name":"xena","name":"Xena","followers_count":7},{"id_str":"11","screen_name":"yuri"}],"next_cursor_str":"0"}`)
	})
	mux.HandleFunc("/twitter/followers/list", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"users":[{"id_str":"10","screen_name":"xena","name":"Xena","followers_count":7}],"next_cursor_str":"0"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("GRAPH_BACKEND", "sqlite")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "berri.db"))
	t.Setenv("SOCIALAPI_BASE_URL", srv.URL)
	t.Setenv("SOCIALAPI_KEY", "test")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncCommand(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "sync", "alice", "--direction", "following")
	require.NoError(t, err)
	assert.Contains(t, out, "user:      Alice (1)")
	assert.Contains(t, out, "refresh=true reason=empty")
	assert.Contains(t, out, "edges:     +2 -0 total=2")

	out, err = run(t, "sync", "alice", "-d", "following")
	require.NoError(t, err)
	assert.Contains(t, out, "refresh=false reason=fresh")
	assert.NotContains(t, out, "edges:")
}

func TestSyncCommand_BadDirection(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "sync", "alice", "--direction", "sideways")
	assert.ErrorContains(t, err, `unknown direction "sideways"`)
}

func TestMutualsCommand(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "mutuals", "alice", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "1 mutuals between Alice and Bob")
	assert.Contains(t, out, "@xena")

	out, err = run(t, "mutuals", "alice", "bob", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"count": 1`)
}

func TestMutualsCommand_Args(t *testing.T) {
	_, err := run(t, "mutuals", "alice")
	assert.Error(t, err)
}

func TestMain(m *testing.M) {
	// keep a developer's .env out of the tests
	if dir, err := os.MkdirTemp("", "berrictl"); err == nil {
		_ = os.Chdir(dir)
	}
	os.Exit(m.Run())
}
