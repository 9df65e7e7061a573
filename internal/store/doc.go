// Package store provides persistent storage for the activity log using SQLite.
//
// # Overview
//
// Every round trip through the agent, whether a chat reply or a heartbeat
// run, leaves one Exchange row behind. The log records operational facts
// (who asked, how long it took, how it ended) rather than message bodies,
// so the database stays small and carries no conversation content.
//
// # Data Model
//
//   - Exchange: one agent round trip with task ID, kind, outcome,
//     prompt/reply sizes, elapsed time, and an optional error
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The modernc.org/sqlite driver is pure Go, so no cgo toolchain is
// required to build or test.
//
// # Usage
//
// Open a store and record an exchange:
//
//	s, err := store.New("/var/lib/familiar/familiar.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.RecordExchange(ctx, &store.Exchange{
//	    TaskID:  taskID,
//	    Kind:    "chat-reply",
//	    Outcome: store.OutcomeOK,
//	})
//
// All methods accept context.Context for cancellation support.
package store
