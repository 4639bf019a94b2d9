package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimestampLayout = "2006-01-02 15:04:05"

// subjectKeys are lifted out of the field list into the line header.
var subjectKeys = []string{FieldComponent, FieldWorkflowID, FieldStage, FieldBrand}

// fieldRank orders trailing fields: anomalies first, then everything else in
// insertion order.
var fieldRank = map[string]int{
	FieldAlert:     1,
	FieldEventType: 2,
	FieldStatus:    3,
	"outcome":      4,
	"reason":       5,
	FieldErrorHint: 6,
	"error":        7,
}

type field struct {
	key   string
	value slog.Value
}

// consoleHandler renders one human-oriented line per record:
//
//	2026-03-01 09:00:00 INFO [engine] Workflow 01234567 (render) · carz - message key=value
type consoleHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     slog.Leveler
	addSource bool

	// preset holds attrs from WithAttrs, already flattened under prefix.
	preset []field
	prefix string
}

func newConsoleHandler(w io.Writer, lvl slog.Leveler, addSource bool) slog.Handler {
	return &consoleHandler{mu: new(sync.Mutex), out: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.preset = slices.Clip(h.preset)
	for _, a := range attrs {
		next.preset = appendField(next.preset, h.prefix, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = joinKey(h.prefix, name)
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := slices.Clone(h.preset)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.prefix, a)
		return true
	})
	fields = lastWins(fields)

	subject := make(map[string]string, len(subjectKeys))
	fields = slices.DeleteFunc(fields, func(f field) bool {
		if !slices.Contains(subjectKeys, f.key) {
			return false
		}
		subject[f.key] = plainValue(f.value)
		return true
	})
	slices.SortStableFunc(fields, func(a, b field) int {
		return rankOf(a.key) - rankOf(b.key)
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var sb strings.Builder
	sb.WriteString(ts.Local().Format(consoleTimestampLayout))
	sb.WriteString(" " + levelLabel(r.Level))
	if c := subject[FieldComponent]; c != "" {
		sb.WriteString(" [" + c + "]")
	}
	if s := composeSubject(subject[FieldWorkflowID], subject[FieldStage], subject[FieldBrand]); s != "" {
		sb.WriteString(" " + s)
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	sb.WriteString(" - " + msg)
	if h.addSource {
		if src := r.Source(); src != nil && src.File != "" {
			fmt.Fprintf(&sb, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range fields {
		sb.WriteString(" " + f.key + "=" + quotedValue(f.value))
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

// composeSubject renders "Workflow 1a2b3c4d (render) · carz".
func composeSubject(workflowID, stage, brand string) string {
	var head string
	switch {
	case workflowID != "":
		head = "Workflow " + shortID(workflowID)
		if stage != "" {
			head += " (" + stage + ")"
		}
	case stage != "":
		head = stage
	}
	switch {
	case head == "":
		return brand
	case brand == "":
		return head
	default:
		return head + " · " + brand
	}
}

func shortID(id string) string {
	return id[:min(len(id), 8)]
}

func rankOf(key string) int {
	if r, ok := fieldRank[key]; ok {
		return r
	}
	return len(fieldRank) + 1
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// appendField flattens groups into dotted keys and drops empty attrs.
func appendField(dst []field, prefix string, a slog.Attr) []field {
	if a.Equal(slog.Attr{}) {
		return dst
	}
	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		return append(dst, field{key: joinKey(prefix, a.Key), value: v})
	}
	groupPrefix := prefix
	if a.Key != "" {
		groupPrefix = joinKey(prefix, a.Key)
	}
	for _, member := range v.Group() {
		dst = appendField(dst, groupPrefix, member)
	}
	return dst
}

// lastWins keeps the first position of each key with its latest value.
func lastWins(fields []field) []field {
	seen := make(map[string]int, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if i, ok := seen[f.key]; ok {
			out[i].value = f.value
			continue
		}
		seen[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func levelLabel(level slog.Level) string {
	for _, l := range []slog.Level{slog.LevelError, slog.LevelWarn, slog.LevelInfo} {
		if level >= l {
			return l.String()
		}
	}
	return slog.LevelDebug.String()
}

// plainValue renders v without quoting, for the line header.
func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

// quotedValue renders v for key=value output, quoting strings that would
// otherwise be ambiguous.
func quotedValue(v slog.Value) string {
	s := plainValue(v)
	if s == "" {
		return `""`
	}
	if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
