package cluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/usercluster/internal/supervisor"
)

func TestNewStatusResponse(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	resp := newStatusResponse(4000, []supervisor.Worker{
		{ID: "wrk_a", Slot: 0, Port: 4001, PID: 11, Status: supervisor.StatusOnline, StartedAt: started},
		{Slot: 1, Port: 4002, Status: supervisor.StatusDead},
	})

	assert.Equal(t, 4000, resp.Port)
	require.Len(t, resp.Workers, 2)
	assert.Equal(t, WorkerInfo{ID: "wrk_a", Slot: 0, Port: 4001, PID: 11, Status: "online", StartedAt: started}, resp.Workers[0])
	assert.Equal(t, "dead", resp.Workers[1].Status)

	empty := newStatusResponse(4000, nil)
	assert.NotNil(t, empty.Workers)
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/workers":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"port":4000,"workers":[{"id":"wrk_a","slot":0,"port":4001,"status":"starting"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var status StatusResponse
	require.NoError(t, GetJSON(context.Background(), srv.URL+"/workers", &status))
	assert.Equal(t, 4000, status.Port)
	require.Len(t, status.Workers, 1)
	assert.Equal(t, "starting", status.Workers[0].Status)

	err := GetJSON(context.Background(), srv.URL+"/missing", &status)
	assert.ErrorContains(t, err, "404")
}
