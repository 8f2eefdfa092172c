package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field names shared across packages.
const (
	KeyRunID      = "run_id"
	KeyVariant    = "variant"
	KeyStage      = "stage"
	KeyState      = "state"
	KeyRef        = "ref"
	KeyArch       = "arch"
	KeyTrigger    = "trigger"
	KeySink       = "sink"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

func RunID(id string) slog.Attr      { return slog.String(KeyRunID, id) }
func Variant(name string) slog.Attr  { return slog.String(KeyVariant, name) }
func Stage(name string) slog.Attr    { return slog.String(KeyStage, name) }
func State(s string) slog.Attr       { return slog.String(KeyState, s) }
func Ref(r string) slog.Attr         { return slog.String(KeyRef, r) }
func Arch(a string) slog.Attr        { return slog.String(KeyArch, a) }
func Trigger(kind string) slog.Attr  { return slog.String(KeyTrigger, kind) }
func Sink(name string) slog.Attr     { return slog.String(KeySink, name) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
