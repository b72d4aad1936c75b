package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/tenuki/internal/board"
)

// NodeInfo names a process and the base URL its services are bound at.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// RegisterRequest is sent by a worker to the coordinator's /register
// endpoint once its searcher service is bound.
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// Method names of the worker and coordinator contracts.
const (
	MethodSetID            = "Searcher.SetID"
	MethodReset            = "Searcher.Reset"
	MethodSetKomi          = "Searcher.SetKomi"
	MethodSetConfiguration = "Searcher.SetConfiguration"
	MethodAdvanceGame      = "Searcher.AdvanceGame"
	MethodUndo             = "Searcher.Undo"
	MethodBindPlayer       = "Searcher.BindPlayer"
	MethodBeginSearch      = "Searcher.BeginSearch"
	MethodRestrictToPoints = "Searcher.RestrictToPoints"
	MethodTotalPlayouts    = "Searcher.TotalPlayouts"
	MethodIdentity         = "Searcher.Identity"

	MethodReportResults = "Coordinator.ReportResults"
)

// Empty is the argument and reply of calls that carry nothing.
type Empty struct{}

// SetIDRequest carries the id a worker stamps on its reports.
type SetIDRequest struct {
	ID int `json:"id"`
}

// SetKomiRequest carries the komi of the current game.
type SetKomiRequest struct {
	Komi float64 `json:"komi"`
}

// SetConfigurationRequest carries one engine setting.
type SetConfigurationRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AdvanceGameRequest carries the move to play.
type AdvanceGameRequest struct {
	Point board.Point `json:"point"`
}

// BindPlayerRequest names the engine to bind and its board size.
type BindPlayerRequest struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// RestrictToPointsRequest carries the points a worker may search. Empty
// lifts the restriction.
type RestrictToPointsRequest struct {
	Points []board.Point `json:"points"`
}

// TotalPlayoutsReply carries a worker's playout count.
type TotalPlayoutsReply struct {
	Playouts int64 `json:"playouts"`
}

// Identity describes a worker.
type Identity struct {
	Name      string `json:"name"`
	Player    string `json:"player,omitempty"`
	ID        int    `json:"id"`
	BoardSize int    `json:"board_size,omitempty"`
}

// Report carries one completed search: run and win counts per point,
// sized board plus PASS.
type Report struct {
	Runs       []int64 `json:"runs"`
	Wins       []int64 `json:"wins"`
	SearcherID int     `json:"searcher_id"`
}

// errorBody is the payload of a failed call.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// PostJSON posts body as JSON to url and decodes the reply into out (if
// non-nil). Failures are returned as *CallError.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(ctx, req, url, out)
}

// GetJSON fetches url and decodes the JSON reply into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(ctx, req, url, out)
}

func do(ctx context.Context, req *http.Request, url string, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return classify(ctx, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var eb errorBody
		if resp.StatusCode == http.StatusUnprocessableEntity && json.Unmarshal(data, &eb) == nil {
			return &CallError{Target: url, Outcome: OutcomeRemote, Code: eb.Code, Err: fmt.Errorf("%s", eb.Error)}
		}
		return &CallError{Target: url, Outcome: OutcomeUnreachable, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &CallError{Target: url, Outcome: OutcomeUnreachable, Err: fmt.Errorf("decode reply: %w", err)}
	}
	return nil
}
