package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Error kinds reported by Classify and logged as error_kind.
const (
	kindTimeout  = "timeout"
	kindCanceled = "canceled"
	kindBlocked  = "blocked"
	kindFlood    = "flood"
	kindDNS      = "dns"
	kindDial     = "dial"
	kindTLS      = "tls"
	kindHTTP5xx  = "http_5xx"
	kindHTTP4xx  = "http_4xx"
	kindUnknown  = "unknown"
)

// unreachable errors mean the recipient cannot be messaged at all.
var unreachable = []error{
	tele.ErrBlockedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrChatNotFound,
	tele.ErrNotStartedByUser,
}

// Classify maps a send error to a short error_kind label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return kindTimeout
	case errors.Is(err, context.Canceled):
		return kindCanceled
	}
	for _, target := range unreachable {
		if errors.Is(err, target) {
			return kindBlocked
		}
	}
	if kind := transportKind(err); kind != "" {
		return kind
	}
	switch code := statusCode(err); {
	case code >= 500:
		return kindHTTP5xx
	case code >= 400:
		return kindHTTP4xx
	}
	return kindUnknown
}

// transportKind looks through url and net wrappers for a known cause.
func transportKind(err error) string {
	var (
		flood tele.FloodError
		dns   *net.DNSError
		nerr  net.Error
		op    *net.OpError
		alert tls.AlertError
	)
	switch {
	case errors.As(err, &flood):
		return kindFlood
	case errors.As(err, &dns):
		if dns.IsTimeout {
			return kindTimeout
		}
		return kindDNS
	case errors.As(err, &nerr) && nerr.Timeout():
		return kindTimeout
	case errors.As(err, &op) && op.Op == "dial":
		return kindDial
	case errors.As(err, &alert):
		return kindTLS
	}
	return ""
}

// statusCode extracts the Bot API status, falling back to a trailing
// "(NNN)" in the message.
func statusCode(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}
	msg := strings.TrimSpace(err.Error())
	if !strings.HasSuffix(msg, ")") {
		return 0
	}
	open := strings.LastIndexByte(msg, '(')
	if open < 0 {
		return 0
	}
	code, convErr := strconv.Atoi(msg[open+1 : len(msg)-1])
	if convErr != nil {
		return 0
	}
	return code
}
