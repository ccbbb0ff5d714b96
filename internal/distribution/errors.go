package distribution

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidName  = errors.New("invalid model name")
	ErrNotFound     = errors.New("model not found")
	ErrHashMismatch = errors.New("model hash mismatch")

	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// StatusError is an unexpected HTTP status from the distribution service or artifact store.
type StatusError struct {
	Code     int
	Status   string
	URL      string
	HadAuth  bool
	TokenEnv string
}

func (e *StatusError) Error() string {
	return statusMessage(e.Code, e.Status, e.HadAuth, e.TokenEnv)
}

// statusMessage renders auth-related statuses with a hint about the token variable.
func statusMessage(code int, status string, hadAuth bool, tokenEnv string) string {
	env := strings.TrimSpace(tokenEnv)
	hint := func(base string) string {
		if env == "" {
			return base
		}
		if hadAuth {
			return fmt.Sprintf("%s (token from %s was rejected)", base, env)
		}
		return fmt.Sprintf("%s (export %s)", base, env)
	}
	switch code {
	case http.StatusTooManyRequests:
		return "429 Too Many Requests: rate limited"
	case http.StatusUnauthorized:
		if hadAuth {
			return hint("401 Unauthorized: token present but not authorized")
		}
		return hint("401 Unauthorized: token required")
	case http.StatusForbidden:
		if hadAuth {
			return hint("403 Forbidden: token lacks permission")
		}
		return hint("403 Forbidden: access denied (may require token)")
	default:
		if status == "" {
			return fmt.Sprintf("unexpected status: %d", code)
		}
		return "unexpected status: " + status
	}
}
