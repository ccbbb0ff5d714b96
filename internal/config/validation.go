package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError is an advisory finding about an otherwise loadable config.
type ValidationError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Config validation warning in '%s': %s", e.Field, e.Message)
}

// ValidateDetailed reports settings that load fine but are likely mistakes.
// Hard errors are Validate's job.
func (c *Config) ValidateDetailed() []ValidationError {
	var errs []ValidationError

	if c.Service.TimeoutSeconds > 3600 {
		errs = append(errs, ValidationError{
			Field:      "service.timeout_seconds",
			Value:      c.Service.TimeoutSeconds,
			Message:    "Very long timeout (>1 hour)",
			Suggestion: "Consider reducing to 30-300 seconds",
		})
	}

	if strings.HasPrefix(c.Service.BaseURL, "http://") && c.Service.TokenEnv != "" {
		errs = append(errs, ValidationError{
			Field:      "service.base_url",
			Value:      c.Service.BaseURL,
			Message:    "Bearer token would be sent over plain HTTP",
			Suggestion: "Use an https:// base_url",
		})
	}

	if env := strings.TrimSpace(c.Service.TokenEnv); env != "" && os.Getenv(env) == "" {
		errs = append(errs, ValidationError{
			Field:      "service.token_env",
			Value:      env,
			Message:    fmt.Sprintf("%s is not set", env),
			Suggestion: fmt.Sprintf("Set the token:\n  export %s=...", env),
		})
	}

	if p := c.Inference.SampleInput; p != "" {
		if _, err := os.Stat(p); err != nil {
			errs = append(errs, ValidationError{
				Field:      "inference.sample_input",
				Value:      p,
				Message:    "Sample input file not readable",
				Suggestion: "Point it at a JSON file like {\"voltages\": [...]} or leave it empty",
			})
		}
	}

	if c.General.DataRoot != "" && c.General.DataRoot == c.General.DownloadRoot {
		errs = append(errs, ValidationError{
			Field:      "general.download_root",
			Value:      c.General.DownloadRoot,
			Message:    "Same directory as data_root",
			Suggestion: "Keep artifacts apart from the registry and lock file",
		})
	}

	return errs
}

// FormatValidationErrors renders findings as a numbered list.
func FormatValidationErrors(errs []ValidationError) string {
	var msg strings.Builder
	for i, err := range errs {
		msg.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
		if err.Value != nil {
			msg.WriteString(fmt.Sprintf("   Current value: %v\n", err.Value))
		}
		if err.Suggestion != "" {
			for _, line := range strings.Split(err.Suggestion, "\n") {
				msg.WriteString(fmt.Sprintf("   → %s\n", line))
			}
		}
	}
	return msg.String()
}
