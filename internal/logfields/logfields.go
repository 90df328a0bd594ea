package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyOpID       = "op_id"
	KeySessionID  = "session_id"
	KeyTicket     = "ticket"
	KeyState      = "state"
	KeyEndpoint   = "endpoint"
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyAttempts   = "attempts"
	KeyDepth      = "queue_depth"
	KeyCollection = "collection"
	KeyKey        = "key"
	KeyTenant     = "tenant_id"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func OpID(id string) slog.Attr          { return slog.String(KeyOpID, id) }
func SessionID(id string) slog.Attr     { return slog.String(KeySessionID, id) }
func Ticket(n string) slog.Attr         { return slog.String(KeyTicket, n) }
func State(s string) slog.Attr          { return slog.String(KeyState, s) }
func Endpoint(e string) slog.Attr       { return slog.String(KeyEndpoint, e) }
func Method(m string) slog.Attr         { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr         { return slog.Int(KeyStatus, code) }
func Attempts(n int) slog.Attr          { return slog.Int(KeyAttempts, n) }
func Depth(n int) slog.Attr             { return slog.Int(KeyDepth, n) }
func Collection(c string) slog.Attr     { return slog.String(KeyCollection, c) }
func Key(k string) slog.Attr            { return slog.String(KeyKey, k) }
func Tenant(id string) slog.Attr        { return slog.String(KeyTenant, id) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
