// Package sym defines canonical glyphs for Cadenza subsystem markers.
// These symbols are stable across CLI output, logs, and documentation;
// the logger attaches them as structured fields so log streams stay
// queryable by subsystem.
package sym

// Subsystem glyphs.
const (
	Beat   = "♩" // scheduling engine — timers, fires, re-arms
	Task   = "♪" // standalone task execution
	Budget = "¤" // budget envelopes and spend ledger
	Bus    = "⇶" // event bus publish/subscribe
	DB     = "⛁" // database and persistence
	Open   = "▶" // startup / resume operations
	Close  = "■" // shutdown / stop operations
)

// Names maps each glyph to its canonical subsystem name.
var Names = map[string]string{
	Beat:   "beat",
	Task:   "task",
	Budget: "budget",
	Bus:    "bus",
	DB:     "db",
	Open:   "open",
	Close:  "close",
}

// Name returns the canonical name for a glyph, or "" if unknown.
func Name(glyph string) string {
	return Names[glyph]
}
