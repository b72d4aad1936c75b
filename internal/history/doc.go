// Package history records how each move of the current game was decided:
// from the opening book, by merging worker reports, or by the
// coordinator's own engine when no worker contributed.
//
// Decisions are keyed by ply, the 1-based number of the move they chose.
// Recording a decision for a ply that already has one replaces it, so
// asking twice for a move in the same position keeps the latest answer.
// Taking moves back truncates the log:
//
//	ply:     1      2      3      4
//	       ┌──────┬──────┬──────┬──────┐
//	       │ book │ wrk  │ wrk  │ local│
//	       └──────┴──────┴──────┴──────┘
//	                     Truncate(2)
//	       ┌──────┬──────┐
//	       │ book │ wrk  │
//	       └──────┴──────┘
//
// MemoryLog is the only implementation; the coordinator uses it unless
// configured otherwise.
package history
