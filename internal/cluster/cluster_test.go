package cluster

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/usercluster/internal/config"
	"github.com/dreamware/usercluster/internal/storage"
	"github.com/dreamware/usercluster/internal/storerpc"
	"github.com/dreamware/usercluster/internal/supervisor"
)

// freePortRange returns a port p such that p..p+n are all free on localhost.
func freePortRange(t *testing.T, n int) int {
	t.Helper()
	for attempt := 0; attempt < 50; attempt++ {
		base := 20000 + rand.Intn(30000)
		var listeners []net.Listener
		ok := true
		for p := base; p <= base+n; p++ {
			l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(p))
			if err != nil {
				ok = false
				break
			}
			listeners = append(listeners, l)
		}
		for _, l := range listeners {
			_ = l.Close()
		}
		if ok {
			return base
		}
	}
	t.Fatal("no free port range")
	return 0
}

// inProcessSpawner runs workers as goroutines connected by in-memory pipes.
type inProcessSpawner struct {
	host   string
	mu     sync.Mutex
	latest map[int]*inProcessWorker
}

type inProcessWorker struct {
	channel net.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func (w *inProcessWorker) PID() int                    { return 0 }
func (w *inProcessWorker) Ready() <-chan struct{}      { return nil }
func (w *inProcessWorker) Channel() io.ReadWriteCloser { return w.channel }
func (w *inProcessWorker) Wait() error {
	<-w.done
	return w.err
}

func (s *inProcessSpawner) Spawn(ctx context.Context, _, port int) (supervisor.Process, error) {
	coordEnd, workerEnd := net.Pipe()
	ctx, cancel := context.WithCancel(ctx)
	w := &inProcessWorker{channel: coordEnd, cancel: cancel, done: make(chan struct{})}

	cfg := config.WorkerConfig{Port: port, Host: s.host, StoreTimeout: config.DefaultStoreTimeout}
	go func() {
		defer close(w.done)
		w.err = RunWorker(ctx, cfg, workerEnd, zap.NewNop().Sugar())
		_ = workerEnd.Close()
		_ = coordEnd.Close()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		s.latest = make(map[int]*inProcessWorker)
	}
	s.latest[port] = w
	return w, nil
}

func (s *inProcessSpawner) kill(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[port].cancel()
}

type testCluster struct {
	coordinator *Coordinator
	spawner     *inProcessSpawner
	cfg         config.Config
	baseURL     string
}

func startCluster(t *testing.T, workers int) *testCluster {
	t.Helper()
	port := freePortRange(t, workers)
	cfg := config.Config{
		Port:         port,
		Workers:      workers,
		WorkerHost:   "127.0.0.1",
		StoreTimeout: config.DefaultStoreTimeout,
	}
	spawner := &inProcessSpawner{host: cfg.WorkerHost}
	c, err := NewCoordinator(cfg, spawner, zap.NewNop().Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("coordinator did not stop")
		}
	})

	tc := &testCluster{coordinator: c, spawner: spawner, cfg: cfg, baseURL: fmt.Sprintf("http://127.0.0.1:%d", port)}
	tc.waitOnline(t)
	return tc
}

func (tc *testCluster) waitOnline(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, w := range tc.coordinator.Workers() {
			if w.Status != supervisor.StatusOnline {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func (tc *testCluster) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, tc.baseURL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func (tc *testCluster) metrics(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	tc.coordinator.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

// TestRecordVisibleAcrossWorkers creates a user through one worker and reads
// and deletes it through the others.
func TestRecordVisibleAcrossWorkers(t *testing.T) {
	tc := startCluster(t, 3)

	// Request 1 -> worker 1
	status, body := tc.do(t, http.MethodPost, "/api/users", `{"username":"John","age":30,"hobbies":["reading"]}`)
	require.Equal(t, http.StatusCreated, status)
	var created storage.User
	require.NoError(t, json.Unmarshal([]byte(body), &created))

	// Request 2 -> worker 2
	status, body = tc.do(t, http.MethodGet, "/api/users/"+created.ID, "")
	require.Equal(t, http.StatusOK, status)
	var got storage.User
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, created, got)

	// Request 3 -> worker 3
	status, body = tc.do(t, http.MethodDelete, "/api/users/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, body)

	// Request 4 -> worker 1
	status, body = tc.do(t, http.MethodGet, "/api/users/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"error":"User with id `+created.ID+` not found"}`, body)

	status, body = tc.do(t, http.MethodGet, "/api/users/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.JSONEq(t, `{"error":"Invalid userId format. Expected UUID."}`, body)

	status, body = tc.do(t, http.MethodGet, "/api/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"error":"Endpoint not found"}`, body)

	// 6 requests over 3 workers
	m := tc.metrics(t)
	for _, port := range tc.cfg.WorkerPorts() {
		assert.Contains(t, m, fmt.Sprintf(`usercluster_proxied_requests_total{port="%d"} 2`, port))
	}
	assert.Contains(t, m, `usercluster_store_requests_total{action="createUser",outcome="ok"} 1`)
}

func TestConcurrentCreatesThroughCluster(t *testing.T) {
	tc := startCluster(t, 3)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, _ := tc.do(t, http.MethodPost, "/api/users", fmt.Sprintf(`{"username":"user-%d","age":%d,"hobbies":[]}`, i, i))
			assert.Equal(t, http.StatusCreated, status)
		}(i)
	}
	wg.Wait()

	status, body := tc.do(t, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, status)
	var users []storage.User
	require.NoError(t, json.Unmarshal([]byte(body), &users))
	assert.Len(t, users, n)
}

func TestWorkerRestartKeepsPortAndData(t *testing.T) {
	tc := startCluster(t, 2)

	status, body := tc.do(t, http.MethodPost, "/api/users", `{"username":"John","age":30,"hobbies":[]}`)
	require.Equal(t, http.StatusCreated, status)
	var created storage.User
	require.NoError(t, json.Unmarshal([]byte(body), &created))

	before := tc.coordinator.Workers()[1]
	tc.spawner.kill(before.Port)

	require.Eventually(t, func() bool {
		w := tc.coordinator.Workers()[1]
		return w.ID != before.ID && w.Status == supervisor.StatusOnline
	}, 5*time.Second, 10*time.Millisecond)

	after := tc.coordinator.Workers()[1]
	assert.Equal(t, before.Port, after.Port)

	// Both workers answer and the store survived the restart
	for i := 0; i < 4; i++ {
		status, _ := tc.do(t, http.MethodGet, "/api/users/"+created.ID, "")
		assert.Equal(t, http.StatusOK, status)
	}
	assert.Contains(t, tc.metrics(t), fmt.Sprintf(`usercluster_worker_restarts_total{port="%d"} 1`, before.Port))
}

func TestAdminWorkers(t *testing.T) {
	tc := startCluster(t, 2)

	rec := httptest.NewRecorder()
	tc.coordinator.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, tc.cfg.Port, status.Port)
	require.Len(t, status.Workers, 2)
	for i, w := range status.Workers {
		assert.Equal(t, i, w.Slot)
		assert.Equal(t, tc.cfg.Port+i+1, w.Port)
		assert.Equal(t, "online", w.Status)
		assert.NotEmpty(t, w.ID)
	}
}

func TestCoordinatorPortInUse(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	cfg := config.Config{Port: port, Workers: 1, WorkerHost: "127.0.0.1", StoreTimeout: time.Second}
	c, err := NewCoordinator(cfg, &inProcessSpawner{host: "127.0.0.1"}, zap.NewNop().Sugar())
	require.NoError(t, err)

	err = c.Run(context.Background())
	assert.ErrorContains(t, err, "cannot listen")
}

// startWorker runs a worker whose coordinator side is driven by the test.
func startWorker(t *testing.T, storeTimeout time.Duration) (string, *storerpc.Conn, <-chan error) {
	t.Helper()
	port := freePortRange(t, 0)
	coordEnd, workerEnd := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunWorker(ctx, config.WorkerConfig{Port: port, Host: "127.0.0.1", StoreTimeout: storeTimeout}, workerEnd, zap.NewNop().Sugar())
	}()
	t.Cleanup(func() {
		cancel()
		_ = coordEnd.Close()
	})

	coord := storerpc.NewConn(coordEnd)
	msg, err := coord.Receive()
	require.NoError(t, err)
	require.Equal(t, storerpc.TypeOnline, msg.Type)

	return fmt.Sprintf("http://127.0.0.1:%d", port), coord, errCh
}

func TestWorkerForwardsStoreRequests(t *testing.T) {
	url, coord, _ := startWorker(t, config.DefaultStoreTimeout)

	type result struct {
		status int
		body   string
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := http.Get(url + "/api/users")
		if !assert.NoError(t, err) {
			resCh <- result{}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		resCh <- result{resp.StatusCode, string(body)}
	}()

	req, err := coord.Receive()
	require.NoError(t, err)
	assert.Equal(t, storerpc.ActionList, req.Action)
	require.NoError(t, coord.Send(storerpc.Message{
		Type:          storerpc.TypeResponse,
		CorrelationID: req.CorrelationID,
		Result:        []byte(`[{"id":"a","username":"John","age":1,"hobbies":[]}]`),
	}))

	res := <-resCh
	assert.Equal(t, http.StatusOK, res.status)
	assert.JSONEq(t, `[{"id":"a","username":"John","age":1,"hobbies":[]}]`, res.body)
}

func TestWorkerStoreTimeout(t *testing.T) {
	url, coord, _ := startWorker(t, 200*time.Millisecond)

	go func() {
		// Swallow the request without answering
		_, _ = coord.Receive()
	}()

	resp, err := http.Get(url + "/api/users")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Internal server error"}`, string(body))
}

func TestWorkerExitsWhenCoordinatorGoesAway(t *testing.T) {
	_, coord, errCh := startWorker(t, config.DefaultStoreTimeout)

	require.NoError(t, coord.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, storerpc.ErrChannelClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("worker kept running without its coordinator")
	}
}

func TestStandalone(t *testing.T) {
	port := freePortRange(t, 0)
	cfg := config.Config{Port: port, Workers: 1, WorkerHost: "127.0.0.1", StoreTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- RunStandalone(ctx, cfg, zap.NewNop().Sugar()) }()
	defer func() {
		cancel()
		assert.NoError(t, <-errCh)
	}()

	tc := &testCluster{baseURL: fmt.Sprintf("http://127.0.0.1:%d", port)}
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	status, body := tc.do(t, http.MethodPost, "/api/users", `{"username":"John","age":30,"hobbies":[]}`)
	require.Equal(t, http.StatusCreated, status)
	var created storage.User
	require.NoError(t, json.Unmarshal([]byte(body), &created))

	status, _ = tc.do(t, http.MethodGet, "/api/users/"+created.ID, "")
	assert.Equal(t, http.StatusOK, status)
}
