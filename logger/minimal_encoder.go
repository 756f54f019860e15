package logger

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/cadenzahq/cadenza/sym"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// palette holds the console colors for one theme. The encoder is meant to
// be calm enough to leave running in a terminal all day.
type palette struct {
	fg     string // prose
	aqua   string // timestamps
	orange string // component names
	yellow string // warnings
	green  string // glyphs, numbers
	blue   string // ids
	red    string // errors
	redBg  string
	yelBg  string
}

var palettes = map[string]palette{
	"gruvbox": {
		fg:     "\x1b[38;5;223m",
		aqua:   "\x1b[38;5;108m",
		orange: "\x1b[38;5;208m",
		yellow: "\x1b[38;5;214m",
		green:  "\x1b[38;5;142m",
		blue:   "\x1b[38;5;109m",
		red:    "\x1b[38;5;167m",
		redBg:  "\x1b[48;5;88m",
		yelBg:  "\x1b[48;5;58m",
	},
	"everforest": {
		fg:     "\x1b[38;5;252m",
		aqua:   "\x1b[38;5;109m",
		orange: "\x1b[38;5;173m",
		yellow: "\x1b[38;5;179m",
		green:  "\x1b[38;5;144m",
		blue:   "\x1b[38;5;110m",
		red:    "\x1b[38;5;131m",
		redBg:  "\x1b[48;5;52m",
		yelBg:  "\x1b[48;5;58m",
	},
}

var theme = palettes["gruvbox"]

// SetTheme selects the console color theme. Unknown names are ignored so a
// typo in config degrades to the default rather than failing startup.
func SetTheme(name string) {
	if p, ok := palettes[name]; ok {
		theme = p
	}
}

// bracketPattern matches bracketed contexts: [task:TK_abc], [service:digest], ...
var bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  engine  Timer armed  svc_digest 2m0s"
type minimalEncoder struct {
	zapcore.Encoder // embedded base encoder for field serialization
	buf             *buffer.Buffer
}

func newMinimalEncoder() *minimalEncoder {
	baseEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return &minimalEncoder{
		Encoder: baseEncoder,
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()

	final.AppendString(theme.aqua)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level shown only for WARN and above.
	if ent.Level > zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(theme.orange)
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	// Subsystem glyph (if tagged) leads the message.
	glyph := symbolField(fields)
	final.AppendString("  ")
	if glyph != "" {
		final.AppendString(theme.green)
		final.AppendString(glyph)
		final.AppendString(colorReset)
		final.AppendString(" ")
	}
	final.AppendString(colorizeMessage(ent.Message))

	if rest := extractFieldValues(fields); rest != "" {
		final.AppendString("  ")
		final.AppendString(rest)
	}

	final.AppendString("\n")
	return final, nil
}

// levelColorString returns bold + colored + background for WARN/ERROR.
func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + theme.yelBg + theme.yellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + theme.redBg + theme.red + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + theme.redBg + theme.red + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens component names: engine -> engine, task.executor -> t.executor
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

// symbolField pulls the sym glyph out of the structured fields, if present.
func symbolField(fields []zapcore.Field) string {
	for _, f := range fields {
		if f.Key == FieldSymbol && f.Type == zapcore.StringType {
			if sym.Name(f.String) != "" {
				return f.String
			}
		}
	}
	return ""
}

// colorizeMessage applies context-aware colors to bracketed ids
// ([task:TK_x], [service:digest]) while leaving prose in the base color.
func colorizeMessage(msg string) string {
	result := strings.Builder{}
	lastIndex := 0

	for _, match := range bracketPattern.FindAllStringSubmatchIndex(msg, -1) {
		if before := msg[lastIndex:match[0]]; before != "" {
			result.WriteString(theme.fg)
			result.WriteString(before)
			result.WriteString(colorReset)
		}
		result.WriteString(theme.blue)
		result.WriteString(msg[match[0]:match[1]])
		result.WriteString(colorReset)
		lastIndex = match[1]
	}

	if remaining := msg[lastIndex:]; remaining != "" {
		result.WriteString(theme.fg)
		result.WriteString(remaining)
		result.WriteString(colorReset)
	}

	return result.String()
}

// getFieldValue extracts the value from a zap field, handling common types.
func getFieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	case zapcore.DurationType:
		return time.Duration(field.Integer).String()
	}
	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}
	return ""
}

// extractFieldValues pulls just the values most useful at a glance:
// ids in blue, durations and spend in green. Everything else is omitted
// from console output (still present in JSON mode).
func extractFieldValues(fields []zapcore.Field) string {
	var values []string

	for _, field := range fields {
		switch field.Key {
		case FieldServiceID, FieldTaskID, FieldKey, FieldBudgetKey:
			if val := getFieldValue(field); val != "" {
				values = append(values, theme.blue+val+colorReset)
			}
		case FieldDurationMS:
			if val := getFieldValue(field); val != "" {
				values = append(values, theme.green+val+colorReset+"ms")
			}
		case FieldSpent, FieldAllocated:
			if val := getFieldValue(field); val != "" {
				values = append(values, theme.green+"$"+val+colorReset)
			}
		case FieldError:
			if val := getFieldValue(field); val != "" {
				values = append(values, theme.red+val+colorReset)
			}
		}
	}

	return strings.Join(values, " ")
}
