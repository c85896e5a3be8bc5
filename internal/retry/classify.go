package retry

import (
	"errors"
	"strings"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
)

// Classify maps an error to a retry classification by Kind first (when the
// error is already a *bookingerr.Error) and falls back to a message/code
// match.
func Classify(err error) bookingerr.Kind {
	if err == nil {
		return ""
	}

	var be *bookingerr.Error
	if errors.As(err, &be) {
		return be.Kind
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return bookingerr.KindTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return bookingerr.KindRateLimited
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "dns") || strings.Contains(msg, "econnreset"):
		return bookingerr.KindNetwork
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "server error"):
		return bookingerr.KindServerError
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such element") || strings.Contains(msg, "selector"):
		return bookingerr.KindElementNotFound
	case strings.Contains(msg, "cancel"):
		return bookingerr.KindCancelled
	default:
		return bookingerr.KindUnknown
	}
}
