// Package logging provides a structured logging system for atlasbridge built
// on Go's standard slog package.
//
// All log entries carry a subsystem identifier for categorization, a level,
// and an optional error. Initialize once at startup with Init, then log via
// the level functions:
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//	logging.Info("OAuth", "Stored token for user=%s", id)
//	logging.Error("Agent", err, "Query execution failed")
package logging
