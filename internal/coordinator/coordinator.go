package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/tenuki/internal/board"
	"github.com/dreamware/tenuki/internal/book"
	"github.com/dreamware/tenuki/internal/cluster"
	"github.com/dreamware/tenuki/internal/history"
	"github.com/dreamware/tenuki/internal/player"
)

// Configuration keys the coordinator keeps for itself.
const (
	KeyPlayer        = "player"
	KeySearchTimeout = "searchTimeoutMsec"
)

// Defaults applied by New to a zero Config.
const (
	DefaultSearchTimeout = 10 * time.Second
	DefaultCallTimeout   = 5 * time.Second
	DefaultBoardSize     = 9
	DefaultKomi          = 7.5
)

// ErrUnknownWorker is returned for ids that are not in the active set.
var ErrUnknownWorker = errors.New("unknown worker")

// Config assembles a coordinator.
type Config struct {
	Registry *player.Registry
	Book     book.Book
	// History receives one decision per ChooseMove. Defaults to a
	// MemoryLog.
	History history.Log
	// Policy is one of PolicySum, PolicyBalanced, PolicyBest, PolicyVote.
	Policy string
	// Player is the engine name bound on every worker.
	Player string
	// LocalPlayer is the coordinator's own engine, used when no worker
	// contributes to a round. Defaults to Player.
	LocalPlayer   string
	BoardSize     int
	Komi          float64
	SearchTimeout time.Duration
	// MoveTime is the per-move budget. Zero leaves only SearchTimeout.
	MoveTime time.Duration
	// CallTimeout bounds every call made to a worker.
	CallTimeout time.Duration
}

// Member is an active worker as listed by Workers.
type Member struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type handle struct {
	searcher cluster.Searcher
	name     string
	id       int
}

type setting struct {
	key, value string
}

// Coordinator fans move decisions out to remote searchers and merges their
// statistics with a Policy.
//
// Game operations (ChooseMove, AdvanceGame, AddWorker and the rest) are
// serialized by game. Membership is guarded by mu so that RemoveWorker can
// evict from any goroutine, including during a round. Round state belongs
// to the aggregator goroutine.
type Coordinator struct {
	local    player.Player
	registry *player.Registry
	book     book.Book
	history  history.Log
	policy   Policy
	agg      *aggregator

	game          sync.Mutex
	playerName    string
	settings      []setting
	komi          float64
	searchTimeout time.Duration
	moveTime      time.Duration
	callTimeout   time.Duration

	mu          sync.Mutex
	workers     []*handle
	nextID      int
	restrictDue bool
}

// New builds a coordinator from cfg. Player names are validated against the
// registry up front.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Registry == nil {
		cfg.Registry = player.Default()
	}
	if cfg.Book == nil {
		cfg.Book = book.None{}
	}
	if cfg.History == nil {
		cfg.History = history.NewMemoryLog()
	}
	if cfg.BoardSize == 0 {
		cfg.BoardSize = DefaultBoardSize
	}
	if cfg.Komi == 0 {
		cfg.Komi = DefaultKomi
	}
	if cfg.Player == "" {
		cfg.Player = player.NameMonteCarlo
	}
	if cfg.LocalPlayer == "" {
		cfg.LocalPlayer = cfg.Player
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if err := cfg.Registry.Validate(cfg.Player, cfg.LocalPlayer); err != nil {
		return nil, fmt.Errorf("%w: %w", cluster.ErrConfiguration, err)
	}

	local, err := cfg.Registry.New(cfg.LocalPlayer, cfg.BoardSize)
	if err != nil {
		return nil, err
	}
	local.SetKomi(cfg.Komi)
	if cfg.MoveTime > 0 {
		ms := strconv.FormatInt(cfg.MoveTime.Milliseconds(), 10)
		if err := local.SetConfiguration(player.KeyMoveTime, ms); err != nil {
			return nil, fmt.Errorf("%w: %w", cluster.ErrConfiguration, err)
		}
	}

	policy, err := NewPolicy(cfg.Policy, cfg.BoardSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cluster.ErrConfiguration, err)
	}

	return &Coordinator{
		local:         local,
		registry:      cfg.Registry,
		book:          cfg.Book,
		history:       cfg.History,
		policy:        policy,
		agg:           newAggregator(policy, local.Board().Slots()),
		playerName:    cfg.Player,
		komi:          cfg.Komi,
		searchTimeout: cfg.SearchTimeout,
		moveTime:      cfg.MoveTime,
		callTimeout:   cfg.CallTimeout,
	}, nil
}

// Close stops the aggregator. Reports arriving afterwards fail with
// ErrClosed.
func (c *Coordinator) Close() {
	c.agg.stop()
}

// ReportResults implements cluster.Reporter.
func (c *Coordinator) ReportResults(_ context.Context, rep cluster.Report) error {
	return c.agg.accept(rep)
}

var _ cluster.Reporter = (*Coordinator)(nil)

// PolicyName returns the active aggregation policy.
func (c *Coordinator) PolicyName() string { return c.policy.Name() }

// Board returns a copy of the coordinator's board.
func (c *Coordinator) Board() *board.Board {
	c.game.Lock()
	defer c.game.Unlock()
	return c.local.Board().Copy()
}

// AddWorker brings searcher up to date with the game and adds it to the
// active set, replacing any active worker of the same name. Any failed push
// leaves the worker out and is returned.
func (c *Coordinator) AddWorker(ctx context.Context, name string, searcher cluster.Searcher) (int, error) {
	c.game.Lock()
	defer c.game.Unlock()

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	if err := c.push(ctx, id, searcher); err != nil {
		log.Printf("coordinator: worker %s (id %d) not added: %v", name, id, err)
		return 0, err
	}

	// A worker registering again under its name replaces its old handle.
	c.mu.Lock()
	var stale []*handle
	c.workers = slices.DeleteFunc(c.workers, func(h *handle) bool {
		if h.name != name {
			return false
		}
		stale = append(stale, h)
		return true
	})
	c.workers = append(c.workers, &handle{searcher: searcher, name: name, id: id})
	c.mu.Unlock()
	for _, h := range stale {
		log.Printf("coordinator: worker %s re-registered, dropping id %d", name, h.id)
		c.agg.forfeit(h.id)
	}
	log.Printf("coordinator: added worker %s as id %d", name, id)

	c.reallocate()
	c.syncRestrictions(ctx)
	return id, nil
}

type pushStep struct {
	what string
	call func(context.Context) error
}

// push replays the coordinator's state on a new worker.
func (c *Coordinator) push(ctx context.Context, id int, s cluster.Searcher) error {
	b := c.local.Board()
	steps := []pushStep{
		{"set id", func(ctx context.Context) error { return s.SetID(ctx, id) }},
		{"bind player", func(ctx context.Context) error { return s.BindPlayer(ctx, c.playerName, b.Size()) }},
		{"reset", s.Reset},
		{"set komi", func(ctx context.Context) error { return s.SetKomi(ctx, c.komi) }},
	}
	for _, kv := range c.settings {
		kv := kv
		steps = append(steps, pushStep{"set " + kv.key, func(ctx context.Context) error {
			return s.SetConfiguration(ctx, kv.key, kv.value)
		}})
	}
	for _, p := range b.Moves() {
		p := p
		steps = append(steps, pushStep{"replay " + b.Format(p), func(ctx context.Context) error {
			return s.AdvanceGame(ctx, p)
		}})
	}

	for _, step := range steps {
		if err := c.call(ctx, step.call); err != nil {
			return fmt.Errorf("%s: %w", step.what, err)
		}
	}
	return nil
}

// RemoveWorker drops id from the active set and forfeits its report for a
// round in progress. Removing an unknown id is a no-op.
func (c *Coordinator) RemoveWorker(id int) {
	c.mu.Lock()
	i := slices.IndexFunc(c.workers, func(h *handle) bool { return h.id == id })
	if i < 0 {
		c.mu.Unlock()
		return
	}
	h := c.workers[i]
	c.workers = slices.Delete(c.workers, i, i+1)
	c.mu.Unlock()

	log.Printf("coordinator: removed worker %s (id %d)", h.name, id)
	c.agg.forfeit(id)
	c.reallocate()
}

func (c *Coordinator) evict(h *handle, op string, err error) {
	log.Printf("coordinator: evicting worker %s (id %d) after %s: %v", h.name, h.id, op, err)
	c.RemoveWorker(h.id)
}

// Workers lists the active workers in id order.
func (c *Coordinator) Workers() []Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Member, len(c.workers))
	for i, h := range c.workers {
		out[i] = Member{ID: h.id, Name: h.name}
	}
	return out
}

// Worker returns the active worker with the given id.
func (c *Coordinator) Worker(id int) (Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.workers {
		if h.id == id {
			return Member{ID: h.id, Name: h.name}, nil
		}
	}
	return Member{}, fmt.Errorf("%w: %d", ErrUnknownWorker, id)
}

func (c *Coordinator) members() []*handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*handle(nil), c.workers...)
}

// Allocation returns the point allocation of a partitioning policy.
func (c *Coordinator) Allocation() (*PointAllocation, bool) {
	p, ok := c.policy.(Partitioner)
	if !ok {
		return nil, false
	}
	return p.Allocation(), true
}

// reallocate recomputes the point allocation after a membership change.
// Workers learn their new subsets at the next syncRestrictions.
func (c *Coordinator) reallocate() {
	alloc, ok := c.Allocation()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, len(c.workers))
	for i, h := range c.workers {
		ids[i] = h.id
	}
	if err := alloc.Rebalance(ids); err != nil {
		log.Printf("coordinator: rebalance: %v", err)
		return
	}
	c.restrictDue = true
}

// syncRestrictions pushes each worker its current subset. Workers that
// cannot be reached are evicted, which reallocates, so the loop runs until
// a full pass succeeds. Callers hold game.
func (c *Coordinator) syncRestrictions(ctx context.Context) {
	alloc, ok := c.Allocation()
	if !ok {
		return
	}
	for {
		c.mu.Lock()
		due := c.restrictDue
		c.restrictDue = false
		c.mu.Unlock()
		if !due {
			return
		}
		log.Printf("coordinator: allocation %s", alloc)
		for _, h := range c.members() {
			points := alloc.Points(h.id)
			if err := c.call(ctx, func(ctx context.Context) error { return h.searcher.RestrictToPoints(ctx, points) }); err != nil {
				c.evict(h, "restrict to points", err)
			}
		}
	}
}

// call runs fn with the per-call timeout.
func (c *Coordinator) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return fn(ctx)
}

// broadcast runs fn against every active worker in parallel and evicts
// the ones that fail. With keepRemote, workers answering with an
// application error stay and their errors are returned joined.
func (c *Coordinator) broadcast(ctx context.Context, op string, keepRemote bool, fn func(context.Context, cluster.Searcher) error) error {
	active := c.members()
	errs := make([]error, len(active))
	var g errgroup.Group
	for i, h := range active {
		i, h := i, h
		g.Go(func() error {
			err := c.call(ctx, func(ctx context.Context) error { return fn(ctx, h.searcher) })
			if err == nil {
				return nil
			}
			if keepRemote && !cluster.IsCommunication(err) {
				errs[i] = fmt.Errorf("worker %s: %w", h.name, err)
				return nil
			}
			c.evict(h, op, err)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// deadline bounds the quorum wait.
func (c *Coordinator) deadline() time.Duration {
	if c.moveTime > 0 && c.moveTime < c.searchTimeout {
		return c.moveTime
	}
	return c.searchTimeout
}

// ChooseMove decides the move for the side to play. A book move is
// returned without contacting any worker. Otherwise every active worker is
// asked to search and the reports that arrive before the deadline are
// merged by the policy. When no worker contributes, the coordinator's own
// engine decides.
func (c *Coordinator) ChooseMove(ctx context.Context) (board.Point, error) {
	c.game.Lock()
	defer c.game.Unlock()

	b := c.local.Board()
	decision := history.Decision{
		Ply:   len(b.Moves()) + 1,
		Color: b.ColorToPlay().String(),
		Hash:  b.Hash(),
	}
	if p, ok := c.book.NextMove(b); ok {
		log.Printf("coordinator: book move %s", b.Format(p))
		decision.Source, decision.Vertex = history.SourceBook, b.Format(p)
		c.record(decision)
		return p, nil
	}

	c.syncRestrictions(ctx)

	start := time.Now()
	roundCtx, cancel := context.WithDeadline(ctx, start.Add(c.deadline()))
	defer cancel()

	active := c.members()
	ids := make([]int, len(active))
	for i, h := range active {
		ids[i] = h.id
	}
	done, err := c.agg.open(ids)
	if err != nil {
		return board.NoPoint, err
	}

	// BeginSearch calls share the round deadline, so a hung worker is
	// evicted (and forfeited) no later than the round would close anyway.
	var g errgroup.Group
	for _, h := range active {
		h := h
		g.Go(func() error {
			if err := c.call(roundCtx, h.searcher.BeginSearch); err != nil {
				c.evict(h, "begin search", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	select {
	case <-done:
	case <-roundCtx.Done():
		if ctx.Err() == nil {
			log.Printf("coordinator: search deadline passed, deciding with partial results")
		}
	}

	res, err := c.agg.close(b)
	if err != nil {
		return board.NoPoint, err
	}
	log.Printf("coordinator: round closed after %v: %d reported, %d missing, %d runs",
		time.Since(start).Round(time.Millisecond), res.reporting, res.missing, res.runs)

	decision.Policy = c.policy.Name()
	decision.Runs = res.runs
	decision.Reporting, decision.Missing, decision.Dropped = res.reporting, res.missing, res.dropped

	move := res.move
	decision.Source = history.SourceWorkers
	if res.runs == 0 {
		move = c.fallback(roundCtx, b)
		decision.Source = history.SourceLocal
		log.Printf("coordinator: no worker results, local player chose %s", b.Format(move))
	}
	decision.Elapsed = time.Since(start)
	decision.Vertex = b.Format(move)
	c.record(decision)
	return move, nil
}

// fallback decides without workers in whatever is left of the round. With
// no time left a uniformly random legal move is played instead of a search.
func (c *Coordinator) fallback(ctx context.Context, b *board.Board) board.Point {
	if ctx.Err() == nil {
		return c.local.BestMove(ctx)
	}
	quick, err := player.NewRandom(b.Size())
	if err == nil {
		for _, p := range b.Moves() {
			if err = quick.AcceptMove(p); err != nil {
				break
			}
		}
	}
	if err != nil {
		log.Printf("coordinator: quick move unavailable: %v", err)
		return b.Pass()
	}
	return quick.BestMove(context.Background())
}

func (c *Coordinator) record(d history.Decision) {
	if err := c.history.Record(d); err != nil {
		log.Printf("coordinator: decision for ply %d not recorded: %v", d.Ply, err)
	}
}

// History returns how the moves of the current game were chosen.
func (c *Coordinator) History() []history.Decision {
	return c.history.List()
}

// HistoryStats summarizes History.
func (c *Coordinator) HistoryStats() history.Stats {
	return c.history.Stats()
}

// AdvanceGame plays p on the coordinator's board and forwards it to every
// worker. An illegal move changes nothing and is returned; failing workers
// are evicted.
func (c *Coordinator) AdvanceGame(ctx context.Context, p board.Point) error {
	c.game.Lock()
	defer c.game.Unlock()
	if err := c.local.AcceptMove(p); err != nil {
		return err
	}
	c.broadcast(ctx, "advance game", false, func(ctx context.Context, s cluster.Searcher) error {
		return s.AdvanceGame(ctx, p)
	})
	return nil
}

// Undo takes back the last move everywhere.
func (c *Coordinator) Undo(ctx context.Context) error {
	c.game.Lock()
	defer c.game.Unlock()
	if err := c.local.Undo(); err != nil {
		return err
	}
	c.history.Truncate(len(c.local.Board().Moves()))
	c.broadcast(ctx, "undo", false, func(ctx context.Context, s cluster.Searcher) error {
		return s.Undo(ctx)
	})
	return nil
}

// Reset starts a new game on the coordinator and every worker. Point
// restrictions, which workers drop on reset, are pushed again.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.game.Lock()
	defer c.game.Unlock()
	c.local.Reset()
	c.history.Truncate(0)
	c.broadcast(ctx, "reset", false, func(ctx context.Context, s cluster.Searcher) error {
		return s.Reset(ctx)
	})
	c.mu.Lock()
	c.restrictDue = true
	c.mu.Unlock()
	c.syncRestrictions(ctx)
	return nil
}

// SetKomi changes komi everywhere.
func (c *Coordinator) SetKomi(ctx context.Context, komi float64) error {
	c.game.Lock()
	defer c.game.Unlock()
	c.komi = komi
	c.local.SetKomi(komi)
	c.broadcast(ctx, "set komi", false, func(ctx context.Context, s cluster.Searcher) error {
		return s.SetKomi(ctx, komi)
	})
	return nil
}

// Komi returns the current komi.
func (c *Coordinator) Komi() float64 {
	c.game.Lock()
	defer c.game.Unlock()
	return c.komi
}

// SetConfiguration applies key. The player and search timeout keys are
// kept by the coordinator. Every other key, move time included, must be
// accepted by the coordinator's own engine; it is then remembered for
// workers added later and forwarded to the active ones. Workers that
// reject it stay active and their errors are returned joined.
func (c *Coordinator) SetConfiguration(ctx context.Context, key, value string) error {
	c.game.Lock()
	defer c.game.Unlock()

	switch key {
	case KeyPlayer:
		if err := c.registry.Validate(value); err != nil {
			return fmt.Errorf("%w: %w", cluster.ErrConfiguration, err)
		}
		c.playerName = value
		return nil
	case KeySearchTimeout:
		d, err := parseMillis(key, value)
		if err != nil {
			return err
		}
		c.searchTimeout = d
		return nil
	case player.KeyMoveTime:
		d, err := parseMillis(key, value)
		if err != nil {
			return err
		}
		if err := c.local.SetConfiguration(key, value); err != nil {
			return fmt.Errorf("%w: %w", cluster.ErrConfiguration, err)
		}
		c.moveTime = d
	default:
		if err := c.local.SetConfiguration(key, value); err != nil {
			return fmt.Errorf("%w: %w", cluster.ErrConfiguration, err)
		}
	}

	c.remember(key, value)
	return c.broadcast(ctx, "set "+key, true, func(ctx context.Context, s cluster.Searcher) error {
		return s.SetConfiguration(ctx, key, value)
	})
}

// remember caches key, keeping the position of its first setting.
func (c *Coordinator) remember(key, value string) {
	i := slices.IndexFunc(c.settings, func(s setting) bool { return s.key == key })
	if i >= 0 {
		c.settings[i].value = value
		return
	}
	c.settings = append(c.settings, setting{key: key, value: value})
}

// Settings returns the coordinator's own keys and the forwarded ones.
func (c *Coordinator) Settings() map[string]string {
	c.game.Lock()
	defer c.game.Unlock()
	out := map[string]string{
		KeyPlayer:        c.playerName,
		KeySearchTimeout: strconv.FormatInt(c.searchTimeout.Milliseconds(), 10),
	}
	for _, s := range c.settings {
		out[s.key] = s.value
	}
	return out
}

func parseMillis(key, value string) (time.Duration, error) {
	ms, err := strconv.Atoi(value)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("%w: %w: %s=%q", cluster.ErrConfiguration, player.ErrBadValue, key, value)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// MoveTime returns the per-move budget, zero when unset.
func (c *Coordinator) MoveTime() time.Duration {
	c.game.Lock()
	defer c.game.Unlock()
	return c.moveTime
}

// SearchTimeout returns the upper bound of the quorum wait.
func (c *Coordinator) SearchTimeout() time.Duration {
	c.game.Lock()
	defer c.game.Unlock()
	return c.searchTimeout
}

// Wins returns the total wins at p in the last decided round.
func (c *Coordinator) Wins(p board.Point) int64 {
	t, err := c.agg.snapshot()
	if err != nil || p < 0 || int(p) >= len(t.Wins) {
		return 0
	}
	return t.Wins[p]
}

// Runs returns the total runs at p in the last decided round.
func (c *Coordinator) Runs(p board.Point) int64 {
	t, err := c.agg.snapshot()
	if err != nil || p < 0 || int(p) >= len(t.Runs) {
		return 0
	}
	return t.Runs[p]
}

// LastRound returns the totals of the last decided round.
func (c *Coordinator) LastRound() (Tally, error) {
	return c.agg.snapshot()
}

// TotalPlayouts sums the playouts reported by every active worker.
// Unreachable workers are evicted and not counted.
func (c *Coordinator) TotalPlayouts(ctx context.Context) int64 {
	var total atomic.Int64
	_ = c.broadcast(ctx, "total playouts", false, func(ctx context.Context, s cluster.Searcher) error {
		n, err := s.TotalPlayouts(ctx)
		if err != nil {
			return err
		}
		total.Add(n)
		return nil
	})
	return total.Load()
}
