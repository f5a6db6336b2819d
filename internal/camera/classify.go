package camera

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory groups transport failures for telemetry.
type ErrorCategory int

const (
	// ErrCategoryNetwork covers connection, timeout and DNS failures.
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec covers decode and stream format failures.
	ErrCategoryCodec
	// ErrCategoryAuth covers rejected credentials.
	ErrCategoryAuth
	// ErrCategoryUnknown is everything else.
	ErrCategoryUnknown
)

// String returns the category name.
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

var (
	authKeywords    = []string{"unauthorized", "401", "403", "forbidden", "authentication", "credentials"}
	codecKeywords   = []string{"codec", "decode", "decoder", "format", "caps", "not negotiated", "empty frame"}
	networkKeywords = []string{"connection", "refused", "timeout", "timed out", "unreachable", "no route", "dns", "resolve", "reset by peer", "no sample", "cannot read", "did not open", "end of stream"}
)

// Classify inspects err's message chain and assigns a category. Auth wins
// over codec, codec over network.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, authKeywords):
		return ErrCategoryAuth
	case containsAny(msg, codecKeywords):
		return ErrCategoryCodec
	case containsAny(msg, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
