package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(result any) map[string]any {
	return map[string]any{"code": 2000, "type": "success", "message": "ok", "result": result}
}

func newTestServer(t *testing.T, lastBody *[]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/vitals/metrics", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "stepcount", r.URL.Query().Get("types"))
		_ = json.NewEncoder(w).Encode(ok(map[string]any{
			"version": 3,
			"count":   1,
			"metrics": []map[string]any{{
				"type": "stepcount", "category": "", "start_time": "2024-03-01T08:00:00Z",
				"end_time": "2024-03-01T09:00:00Z", "source": "watch", "unit": "count",
				"value": "4200.0", "manual_entry": false,
			}},
		}))
	})
	mux.HandleFunc("/api/v1/vitals/refresh", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(ok(map[string]any{"executed": false, "monitors": map[string]bool{"latest-week": false}}))
	})
	mux.HandleFunc("/api/v1/vitals/metrics/refresh", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "2024-03-01", r.URL.Query().Get("from"))
		_ = json.NewEncoder(w).Encode(ok(map[string]any{
			"count": 1,
			"metrics": []map[string]any{{
				"type": "heartrate", "start_time": "2024-03-01T08:00:00Z", "end_time": "2024-03-01T08:00:00Z",
				"source": "watch", "unit": "bpm", "value": "61.0", "manual_entry": false,
			}},
		}))
	})
	mux.HandleFunc("/api/v1/vitals/metrics/latest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1, "type": "error", "message": "no data available"})
	})
	mux.HandleFunc("/api/v1/vitals/records/steps", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*lastBody = b
		_ = json.NewEncoder(w).Encode(ok(map[string]any{"record_id": "rec-1"}))
	})
	mux.HandleFunc("/api/v1/vitals/metrics/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		_, _ = w.Write([]byte("PK-xlsx"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--server", srv.URL))
	err := cmd.Execute()
	return out.String(), err
}

func TestMetricsCommand(t *testing.T) {
	var body []byte
	srv := newTestServer(t, &body)

	out, err := run(t, srv, "metrics", "--types", "stepcount")
	require.NoError(t, err)
	assert.Contains(t, out, "TYPE")
	assert.Contains(t, out, "4200.0")
	assert.Contains(t, out, "watch")
}

func TestRefreshCommand_Throttled(t *testing.T) {
	var body []byte
	srv := newTestServer(t, &body)

	out, err := run(t, srv, "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "throttled")
}

func TestLatestCommand_NotFound(t *testing.T) {
	var body []byte
	srv := newTestServer(t, &body)

	_, err := run(t, srv, "latest", "--type", "weight")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data available")
	assert.Contains(t, err.Error(), "404")
}

func TestWriteCommand(t *testing.T) {
	var body []byte
	srv := newTestServer(t, &body)

	out, err := run(t, srv, "write", "steps", "--data", `{"steps":{"count":1200}}`)
	require.NoError(t, err)
	assert.Contains(t, out, "rec-1")
	assert.JSONEq(t, `{"steps":{"count":1200}}`, string(body))

	_, err = run(t, srv, "write", "steps", "--data", `{not json`)
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = run(t, srv, "write", "calories", "--data", `{}`)
	assert.Error(t, err)

	_, err = run(t, srv, "write", "steps")
	assert.ErrorContains(t, err, "--data or --file")
}

func TestExportCommand(t *testing.T) {
	var body []byte
	srv := newTestServer(t, &body)

	path := filepath.Join(t.TempDir(), "out.xlsx")
	out, err := run(t, srv, "export", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 7 bytes")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PK-xlsx", string(data))
}

func TestWindowCommand(t *testing.T) {
	var body []byte
	srv := newTestServer(t, &body)

	out, err := run(t, srv, "window", "--from", "2024-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "heartrate")
	assert.Contains(t, out, "61.0")
}
