package cluster

import (
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/dreamware/usercluster/internal/supervisor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WorkerInfo is the JSON view of a worker descriptor served by GET /workers.
type WorkerInfo struct {
	ID        string    `json:"id"`
	Slot      int       `json:"slot"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

// StatusResponse is the body of GET /workers.
type StatusResponse struct {
	Port    int          `json:"port"`
	Workers []WorkerInfo `json:"workers"`
}

func newStatusResponse(port int, workers []supervisor.Worker) StatusResponse {
	out := StatusResponse{Port: port, Workers: make([]WorkerInfo, 0, len(workers))}
	for _, w := range workers {
		out.Workers = append(out.Workers, WorkerInfo{
			ID:        w.ID,
			Slot:      w.Slot,
			Port:      w.Port,
			PID:       w.PID,
			Status:    string(w.Status),
			StartedAt: w.StartedAt,
		})
	}
	return out
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
