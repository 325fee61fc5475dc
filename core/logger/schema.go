package logger

import "strings"

// normalizeStatus lower-cases a "status" value. The values in use are ok,
// fail, skip, retry, rate_limited, cancelled, fail_open and empty.
func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// defaultKeyOrder fixes where known keys appear in a line; unknown keys
// follow in alphabetical order.
var defaultKeyOrder = concatKeys(
	// envelope
	[]string{"ts", "level", "component", "event", "status"},
	// update context
	[]string{"rid", "rid_full", "ts_unix_nano", "tenant_id", "update_id", "user_id", "chat_id", "chat_type", "handler", "op", "cb_key"},
	// handler summary
	[]string{"duration_ms", "messages", "kb", "media"},
	// funnel and ledger
	[]string{"gate", "screen", "kind", "click_id", "trader_id", "lang", "username"},
	// broadcast
	[]string{"segment", "job_id", "at", "posts", "recipients", "sent", "failed"},
	// listings
	[]string{"count", "page", "pages", "payload"},
	// process
	[]string{"bot", "mode", "listen", "method", "route", "http_code", "reason", "db", "host", "port"},
	// failures
	[]string{"err", "err_code", "error_kind", "cause", "retryable", "attempts", "retry_after_s", "backoff_ms", "rate_limited", "stack"},
)

func concatKeys(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
