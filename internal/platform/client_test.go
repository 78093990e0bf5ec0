package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, msg string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Response{Status: status, Msg: msg, Data: raw})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second}, zap.NewNop())
}

func TestClient_ReadRecords(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/records/read", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req readRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.CategorySteps, req.Category)

		writeEnvelope(t, w, 0, "ok", []models.Record{{
			ID: "r1", Category: models.CategorySteps, StartTime: at, EndTime: at.Add(time.Hour),
			Steps: &models.StepsPayload{Count: 42},
		}})
	})

	recs, err := client.ReadRecords(context.Background(), models.CategorySteps, models.TimeRange{Start: at, End: at.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(42), recs[0].Steps.Count)
}

func TestClient_ChangesFlow(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/changes/token":
			writeEnvelope(t, w, 0, "ok", tokenResponse{Token: "tok-1"})
		case "/changes":
			var req changesRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, models.ChangesToken("tok-1"), req.Token)
			writeEnvelope(t, w, 0, "ok", models.ChangesResponse{HasMore: true})
		case "/permissions":
			writeEnvelope(t, w, 0, "ok", []string{"READ_STEPS"})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	token, err := client.GetChangesToken(ctx, []models.Category{models.CategorySteps})
	require.NoError(t, err)
	assert.Equal(t, models.ChangesToken("tok-1"), token)

	resp, err := client.GetChanges(ctx, token)
	require.NoError(t, err)
	assert.True(t, resp.HasMore)

	perms, err := client.GetGrantedPermissions(ctx)
	require.NoError(t, err)
	assert.True(t, perms.Has("READ_STEPS"))
}

func TestClient_EnvelopeError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, 403, "permission denied", nil)
	})

	err := client.InsertRecords(context.Background(), nil)
	assert.ErrorContains(t, err, "permission denied")
}

func TestClient_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.GetChanges(context.Background(), "tok")
	assert.ErrorContains(t, err, "http 503")
}

func TestClient_UnknownTokenIsExpired(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeEnvelope(t, w, 404, "token not found", nil)
	})

	resp, err := client.GetChanges(context.Background(), "gone")
	require.NoError(t, err)
	assert.True(t, resp.TokenExpired)
	assert.False(t, resp.HasMore)
}

// dropConnection 不回写响应直接断开连接，客户端得到传输错误
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if conn, _, err := hj.Hijack(); err == nil {
		_ = conn.Close()
	}
}

func TestClient_InsertIsNotRetried(t *testing.T) {
	var inserts, reads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/records/insert":
			inserts.Add(1)
		case "/records/read":
			reads.Add(1)
		}
		dropConnection(w)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second, RetryCount: 1}, zap.NewNop())

	now := time.Now().UTC()
	err := client.InsertRecords(context.Background(), []models.Record{{
		Category:  models.CategorySteps,
		StartTime: now.Add(-time.Hour),
		EndTime:   now,
		Steps:     &models.StepsPayload{Count: 10},
	}})
	require.Error(t, err)
	assert.Equal(t, int32(1), inserts.Load())

	_, err = client.ReadRecords(context.Background(), models.CategorySteps, models.TimeRange{Start: now.Add(-time.Hour), End: now})
	require.Error(t, err)
	assert.Equal(t, int32(2), reads.Load())
}
