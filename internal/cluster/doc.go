// Package cluster provides the RPC substrate between the search coordinator
// and its workers: the two contracts (Searcher, Reporter), their wire types,
// and transports that bind services under names and dial them by name.
//
// # Overview
//
// One move decision travels through the cluster like this:
//
//	coordinator ──BeginSearch──▶ worker 1..n      (returns immediately)
//	worker      ──ReportResults──▶ coordinator    (asynchronous, out of band)
//	coordinator ──AdvanceGame──▶ worker 1..n      (after the move is chosen)
//
// Every call is synchronous and either returns normally or fails. Failures
// are *CallError values carrying an Outcome:
//
//   - OutcomeTimeout: no answer before the deadline
//   - OutcomeUnreachable: endpoint down, connection refused, unreadable reply
//   - OutcomeRemote: the endpoint answered with an application error, for
//     example a configuration error (errors.Is(err, ErrConfiguration))
//
// IsCommunication separates the first two from the third; the coordinator
// evicts a worker on communication failures only.
//
// # Transports
//
// HTTPTransport carries calls as JSON over POST /rpc/<method>, resolving
// names through a directory filled by worker registration. Loopback runs
// the same encoding in process and lets tests take endpoints down or slow
// them down, so the coordinator and the worker adapter are testable without
// a network.
//
// # Contracts
//
// RemoteSearcher and RemoteReporter are client stubs over a Conn;
// ServeSearcher and ServeReporter build a Service around an implementation.
package cluster
