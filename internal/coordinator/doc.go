// Package coordinator implements the distributed search coordinator: it
// fans a single move decision out to a variable set of remote searchers,
// waits a bounded time for their statistics, merges whatever arrived and
// picks a move.
//
// # Overview
//
// A round runs as follows:
//
//	ChooseMove
//	  │  book move? ── yes ──► return it, no worker contacted
//	  ▼
//	open round (outstanding = active workers)
//	  │
//	  ├──► BeginSearch ─► worker 1 ─┐
//	  ├──► BeginSearch ─► worker 2 ─┤ ReportResults (async)
//	  └──► BeginSearch ─► worker n ─┘
//	  ▼
//	wait: outstanding == 0 or min(moveTime, searchTimeout)
//	  ▼
//	close round (outstanding = Closed), Policy.Select, zero the tally
//
// A failed call to a worker evicts it for the rest of the game and forfeits
// its slot in the quorum. A timeout is a normal outcome: the round is
// decided with the reports that arrived. When no worker contributed, the
// coordinator's own local engine decides in the time left, or plays a random
// legal move when none is. A worker registering again under a name already
// active replaces the older entry.
//
// # Aggregation
//
// All round state (the Tally, the outstanding count and the policy's
// per-round records) lives on one aggregator goroutine fed by a channel of
// operations. Reports are applied there one at a time; once the round is
// closed, further reports are dropped on the same goroutine, so a late
// report can never reach the next round.
//
// Four policies are available:
//
//	sum       add every worker's runs and wins; highest total wins
//	balanced  sum, but each worker searches and may only report its own
//	          round-robin slice of the board (see PointAllocation)
//	best      the single strongest point any one worker found
//	vote      one ballot per worker for its best point; ties go to the
//	          higher win count
//
// # Membership
//
// AddWorker replays the coordinator's state (id, engine, komi, cached
// configuration, moves played) on the new worker before it joins.
// RemoveWorker is idempotent and may run concurrently with a round. The
// HealthMonitor probes idle workers and evicts those that stop answering.
//
// Every decision is appended to a history.Log; Undo and Reset trim it.
package coordinator
