package cluster

import (
	"context"

	"github.com/dreamware/tenuki/internal/board"
)

// Searcher is the contract a coordinator uses to drive a search worker.
// BeginSearch returns as soon as the search has been scheduled; the
// statistics arrive later through the coordinator's Reporter.
type Searcher interface {
	SetID(ctx context.Context, id int) error
	Reset(ctx context.Context) error
	SetKomi(ctx context.Context, komi float64) error
	SetConfiguration(ctx context.Context, key, value string) error
	AdvanceGame(ctx context.Context, p board.Point) error
	Undo(ctx context.Context) error
	BindPlayer(ctx context.Context, name string, size int) error
	BeginSearch(ctx context.Context) error
	RestrictToPoints(ctx context.Context, points []board.Point) error
	TotalPlayouts(ctx context.Context) (int64, error)
	Identity(ctx context.Context) (Identity, error)
}

// Reporter is the contract a worker uses to hand a finished search back.
type Reporter interface {
	ReportResults(ctx context.Context, r Report) error
}

// RemoteSearcher calls a Searcher bound on another endpoint.
type RemoteSearcher struct {
	conn Conn
}

// NewRemoteSearcher wraps conn.
func NewRemoteSearcher(conn Conn) *RemoteSearcher {
	return &RemoteSearcher{conn: conn}
}

// SetID calls Searcher.SetID remotely.
func (s *RemoteSearcher) SetID(ctx context.Context, id int) error {
	return s.conn.Call(ctx, MethodSetID, SetIDRequest{ID: id}, nil)
}

// Reset calls Searcher.Reset remotely.
func (s *RemoteSearcher) Reset(ctx context.Context) error {
	return s.conn.Call(ctx, MethodReset, Empty{}, nil)
}

// SetKomi calls Searcher.SetKomi remotely.
func (s *RemoteSearcher) SetKomi(ctx context.Context, komi float64) error {
	return s.conn.Call(ctx, MethodSetKomi, SetKomiRequest{Komi: komi}, nil)
}

// SetConfiguration calls Searcher.SetConfiguration remotely.
func (s *RemoteSearcher) SetConfiguration(ctx context.Context, key, value string) error {
	return s.conn.Call(ctx, MethodSetConfiguration, SetConfigurationRequest{Key: key, Value: value}, nil)
}

// AdvanceGame calls Searcher.AdvanceGame remotely.
func (s *RemoteSearcher) AdvanceGame(ctx context.Context, p board.Point) error {
	return s.conn.Call(ctx, MethodAdvanceGame, AdvanceGameRequest{Point: p}, nil)
}

// Undo calls Searcher.Undo remotely.
func (s *RemoteSearcher) Undo(ctx context.Context) error {
	return s.conn.Call(ctx, MethodUndo, Empty{}, nil)
}

// BindPlayer calls Searcher.BindPlayer remotely.
func (s *RemoteSearcher) BindPlayer(ctx context.Context, name string, size int) error {
	return s.conn.Call(ctx, MethodBindPlayer, BindPlayerRequest{Name: name, Size: size}, nil)
}

// BeginSearch asks the worker to start searching. It returns once the
// worker has scheduled the search.
func (s *RemoteSearcher) BeginSearch(ctx context.Context) error {
	return s.conn.Call(ctx, MethodBeginSearch, Empty{}, nil)
}

// RestrictToPoints calls Searcher.RestrictToPoints remotely.
func (s *RemoteSearcher) RestrictToPoints(ctx context.Context, points []board.Point) error {
	return s.conn.Call(ctx, MethodRestrictToPoints, RestrictToPointsRequest{Points: points}, nil)
}

// TotalPlayouts calls Searcher.TotalPlayouts remotely.
func (s *RemoteSearcher) TotalPlayouts(ctx context.Context) (int64, error) {
	var out TotalPlayoutsReply
	err := s.conn.Call(ctx, MethodTotalPlayouts, Empty{}, &out)
	return out.Playouts, err
}

// Identity calls Searcher.Identity remotely.
func (s *RemoteSearcher) Identity(ctx context.Context) (Identity, error) {
	var out Identity
	err := s.conn.Call(ctx, MethodIdentity, Empty{}, &out)
	return out, err
}

// RemoteReporter calls a Reporter bound on another endpoint.
type RemoteReporter struct {
	conn Conn
}

// NewRemoteReporter wraps conn.
func NewRemoteReporter(conn Conn) *RemoteReporter {
	return &RemoteReporter{conn: conn}
}

// ReportResults sends rep to the coordinator.
func (r *RemoteReporter) ReportResults(ctx context.Context, rep Report) error {
	return r.conn.Call(ctx, MethodReportResults, rep, nil)
}

// ServeSearcher exposes s as a service.
func ServeSearcher(s Searcher) *Service {
	svc := NewService()
	Handle(svc, MethodSetID, func(ctx context.Context, a SetIDRequest) (Empty, error) {
		return Empty{}, s.SetID(ctx, a.ID)
	})
	Handle(svc, MethodReset, func(ctx context.Context, _ Empty) (Empty, error) {
		return Empty{}, s.Reset(ctx)
	})
	Handle(svc, MethodSetKomi, func(ctx context.Context, a SetKomiRequest) (Empty, error) {
		return Empty{}, s.SetKomi(ctx, a.Komi)
	})
	Handle(svc, MethodSetConfiguration, func(ctx context.Context, a SetConfigurationRequest) (Empty, error) {
		return Empty{}, s.SetConfiguration(ctx, a.Key, a.Value)
	})
	Handle(svc, MethodAdvanceGame, func(ctx context.Context, a AdvanceGameRequest) (Empty, error) {
		return Empty{}, s.AdvanceGame(ctx, a.Point)
	})
	Handle(svc, MethodUndo, func(ctx context.Context, _ Empty) (Empty, error) {
		return Empty{}, s.Undo(ctx)
	})
	Handle(svc, MethodBindPlayer, func(ctx context.Context, a BindPlayerRequest) (Empty, error) {
		return Empty{}, s.BindPlayer(ctx, a.Name, a.Size)
	})
	Handle(svc, MethodBeginSearch, func(ctx context.Context, _ Empty) (Empty, error) {
		return Empty{}, s.BeginSearch(ctx)
	})
	Handle(svc, MethodRestrictToPoints, func(ctx context.Context, a RestrictToPointsRequest) (Empty, error) {
		return Empty{}, s.RestrictToPoints(ctx, a.Points)
	})
	Handle(svc, MethodTotalPlayouts, func(ctx context.Context, _ Empty) (TotalPlayoutsReply, error) {
		n, err := s.TotalPlayouts(ctx)
		return TotalPlayoutsReply{Playouts: n}, err
	})
	Handle(svc, MethodIdentity, func(ctx context.Context, _ Empty) (Identity, error) {
		return s.Identity(ctx)
	})
	return svc
}

// ServeReporter exposes r as a service.
func ServeReporter(r Reporter) *Service {
	svc := NewService()
	Handle(svc, MethodReportResults, func(ctx context.Context, rep Report) (Empty, error) {
		return Empty{}, r.ReportResults(ctx, rep)
	})
	return svc
}
