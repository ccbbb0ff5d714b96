package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"mldownloader/internal/distribution"
	"mldownloader/internal/session"
)

// UserFriendlyError provides actionable error messages for end users
type UserFriendlyError struct {
	Message    string // User-facing message explaining what went wrong
	Suggestion string // Actionable steps to fix the issue
	Details    error  // Original error for debugging/logs
}

func (e *UserFriendlyError) Error() string {
	if e.Suggestion == "" {
		return e.Message
	}
	var sb strings.Builder
	sb.WriteString(e.Message)
	sb.WriteString("\n\nHow to fix:\n")
	sb.WriteString(e.Suggestion)
	return sb.String()
}

func (e *UserFriendlyError) Unwrap() error {
	return e.Details
}

// NetworkError returns a network-related error with helpful suggestions
func NetworkError(err error) *UserFriendlyError {
	msg := "Network error occurred"
	suggestion := "Check your internet connection and try again"
	if err != nil {
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "no such host") || strings.Contains(errStr, "name resolution"):
			msg = "Cannot resolve hostname - DNS lookup failed"
			suggestion = "1. Check your internet connection\n2. Verify service.base_url in the config"
		case strings.Contains(errStr, "connection refused"):
			msg = "Model service refused connection"
			suggestion = "The service may be down. Verify service.base_url and try again later."
		case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
			msg = "Connection timed out"
			suggestion = "Increase service.timeout_seconds in the config or try again later"
		case strings.Contains(errStr, "certificate") || strings.Contains(errStr, "x509"):
			msg = "SSL/TLS certificate verification failed"
			suggestion = "You may be behind a corporate proxy; install its CA certificate"
		}
	}
	return &UserFriendlyError{Message: msg, Suggestion: suggestion, Details: err}
}

// ConfigError returns configuration-related errors
func ConfigError(path string, err error) *UserFriendlyError {
	return &UserFriendlyError{
		Message:    fmt.Sprintf("Configuration error in %s: %v", path, err),
		Suggestion: "Run 'mldownloader config validate --config " + path + "' after fixing the file",
		Details:    err,
	}
}

// Explain maps errors from session operations to user-facing messages.
// Errors it does not recognise are returned unchanged.
func Explain(err error) error {
	if err == nil {
		return nil
	}
	var fe *UserFriendlyError
	if stderrors.As(err, &fe) {
		return fe
	}
	var se *distribution.StatusError
	switch {
	case stderrors.Is(err, distribution.ErrInvalidName):
		return &UserFriendlyError{
			Message:    "Invalid model name",
			Suggestion: "Model names start with a letter or digit and contain only letters, digits, '.', '_' and '-'",
			Details:    err,
		}
	case stderrors.Is(err, distribution.ErrNotFound):
		return &UserFriendlyError{
			Message:    "Model not found",
			Suggestion: "Check the model name; run 'mldownloader list' to see models on this device",
			Details:    err,
		}
	case stderrors.Is(err, distribution.ErrHashMismatch):
		return &UserFriendlyError{
			Message:    "Downloaded model failed integrity verification",
			Suggestion: "The artifact was discarded. Retry the download; if it keeps failing the published hash is wrong",
			Details:    err,
		}
	case stderrors.Is(err, distribution.ErrInsufficientSpace):
		return &UserFriendlyError{
			Message:    "Not enough disk space for the model",
			Suggestion: "Free space under general.download_root or point it at a larger volume",
			Details:    err,
		}
	case stderrors.Is(err, session.ErrNoModels):
		return &UserFriendlyError{
			Message:    "No models found on device.",
			Suggestion: "Download one first: mldownloader download --name <model>",
			Details:    err,
		}
	case stderrors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden):
		env := strings.TrimSpace(se.TokenEnv)
		if env == "" {
			env = "a token variable via service.token_env"
		}
		return &UserFriendlyError{
			Message:    fmt.Sprintf("Authentication failed (%d)", se.Code),
			Suggestion: "Set " + env + " to a token with access to the model",
			Details:    err,
		}
	case stderrors.Is(err, context.Canceled):
		return err
	}
	if isNetwork(err) {
		return NetworkError(err)
	}
	return err
}

func isNetwork(err error) bool {
	s := err.Error()
	for _, k := range []string{"no such host", "name resolution", "connection refused", "timeout", "deadline exceeded", "x509", "certificate"} {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
