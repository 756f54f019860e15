package logger

import (
	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/sym"
)

// Symbol-aware logging helpers.
// These wrap a logger with the subsystem glyph as a structured field,
// not in the message, so logs stay queryable by subsystem.
//
// Usage:
//
//	// At initialization:
//	type Engine struct {
//	    beatLog *zap.SugaredLogger
//	}
//	e.beatLog = logger.AddBeatSymbol(baseLogger)

// AddBeatSymbol wraps a logger with the scheduling glyph (♩)
func AddBeatSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Beat)
}

// AddTaskSymbol wraps a logger with the task glyph (♪)
func AddTaskSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Task)
}

// AddBudgetSymbol wraps a logger with the budget glyph (¤)
func AddBudgetSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Budget)
}

// AddBusSymbol wraps a logger with the bus glyph (⇶)
func AddBusSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Bus)
}

// AddDBSymbol wraps a logger with the DB glyph (⛁)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.DB)
}

// WithSymbol returns the global logger with the given glyph as a field.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}
