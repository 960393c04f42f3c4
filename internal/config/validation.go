package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrInvalidConfig is wrapped by the Loader when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the offending fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

// ValidateConfig checks every section and returns all problems at once as
// ValidationErrors, or nil.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateInput(&c.Input)...)
	errs = append(errs, validateIME(&c.IME)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateHTTP(&c.HTTP)...)
	errs = append(errs, validateDaemon(&c.Daemon)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
		if l.MaxSizeMB < 1 {
			errs = append(errs, ValidationError{
				Field:   "logging.max_size_mb",
				Message: "max size must be at least 1 MB",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	return errs
}

func validateInput(in *InputConfig) ValidationErrors {
	var errs ValidationErrors

	if in.Source == "" {
		errs = append(errs, ValidationError{
			Field:   "input.source",
			Message: "source is required (a recording path or - for stdin)",
		})
	}
	if in.WindowMs <= 0 {
		errs = append(errs, ValidationError{Field: "input.window_ms", Message: "window must be positive"})
	}
	if in.BurstGapMs <= 0 {
		errs = append(errs, ValidationError{Field: "input.burst_gap_ms", Message: "burst gap must be positive"})
	}
	if in.PauseMs < in.BurstGapMs {
		errs = append(errs, ValidationError{
			Field:   "input.pause_ms",
			Message: fmt.Sprintf("pause threshold %v must not be shorter than the burst gap %v", in.PauseMs, in.BurstGapMs),
		})
	}
	if in.MinFlightMs < 0 {
		errs = append(errs, ValidationError{Field: "input.min_flight_ms", Message: "minimum flight cannot be negative"})
	}

	return errs
}

func validateIME(i *IMEConfig) ValidationErrors {
	var errs ValidationErrors
	if i.StaleTimeoutMs < 100 || i.StaleTimeoutMs > 600_000 {
		errs = append(errs, ValidationError{
			Field:   "ime.stale_timeout_ms",
			Message: "value must be between 100 and 600000",
		})
	}
	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors
	if j.Enabled && j.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "journal.path",
			Message: "path is required when the journal is enabled",
		})
	}
	return errs
}

func validateHTTP(h *HTTPConfig) ValidationErrors {
	var errs ValidationErrors
	if !h.Enabled {
		return errs
	}
	if _, _, err := net.SplitHostPort(h.Listen); err != nil {
		errs = append(errs, ValidationError{
			Field:   "http.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", h.Listen, err),
		})
	}
	return errs
}

func validateDaemon(d *DaemonConfig) ValidationErrors {
	var errs ValidationErrors
	if d.PidFile == "" {
		errs = append(errs, ValidationError{Field: "daemon.pid_file", Message: "required field is missing"})
	}
	return errs
}
