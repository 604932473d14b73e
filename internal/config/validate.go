package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem found joined together.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.ScratchDir) == "" {
		errs = append(errs, ValidationError{Field: "scratch_dir", Message: "must not be empty"})
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{Field: "poll_interval", Message: "must be positive"})
	}
	if cfg.Duration < 0 {
		errs = append(errs, ValidationError{Field: "duration", Message: "must not be negative"})
	}
	if cfg.KillAfter < 0 {
		errs = append(errs, ValidationError{Field: "kill_after", Message: "must not be negative (0 waits indefinitely)"})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.LogLevel),
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{Field: "metrics_addr", Message: err.Error()})
		}
	}

	if strings.TrimSpace(cfg.SSHPath) == "" {
		errs = append(errs, ValidationError{Field: "ssh_path", Message: "must not be empty"})
	}

	for name, t := range cfg.Targets {
		if t.Host == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("targets.%s.host", name),
				Message: "must not be empty",
			})
		}
	}

	seen := make(map[string]bool, len(cfg.Processes))
	for i, p := range cfg.Processes {
		field := fmt.Sprintf("process[%d]", i)
		if p.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "must not be empty"})
		} else if seen[p.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate process name %q", p.Name),
			})
		}
		seen[p.Name] = true

		if strings.TrimSpace(p.Command) == "" {
			errs = append(errs, ValidationError{Field: field + ".command", Message: "must not be empty"})
		}
		if err := validateTarget(cfg, field, p.Target); err != nil {
			errs = append(errs, err)
		}
		if p.ReadyTimeout < 0 {
			errs = append(errs, ValidationError{Field: field + ".ready_timeout", Message: "must not be negative"})
		}
		if p.ReadyTimeout > 0 && p.ReadyMarker == "" {
			errs = append(errs, ValidationError{Field: field + ".ready_timeout", Message: "requires ready_marker"})
		}
	}

	errs = append(errs, validateSteps(cfg, "setup", cfg.Setup)...)
	errs = append(errs, validateSteps(cfg, "after", cfg.After)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateSteps(cfg *Config, section string, steps []StepSpec) []error {
	var errs []error
	for i, s := range steps {
		field := fmt.Sprintf("%s[%d]", section, i)
		if strings.TrimSpace(s.Command) == "" {
			errs = append(errs, ValidationError{Field: field + ".command", Message: "must not be empty"})
		}
		if err := validateTarget(cfg, field, s.Target); err != nil {
			errs = append(errs, err)
		}
		if s.Expect != "" && !s.Capture {
			errs = append(errs, ValidationError{Field: field + ".expect", Message: "requires capture = true"})
		}
		if s.Interactive && s.Capture {
			errs = append(errs, ValidationError{Field: field + ".capture", Message: "cannot be combined with interactive"})
		}
		if s.Interactive && s.Target == "" {
			errs = append(errs, ValidationError{Field: field + ".interactive", Message: "requires a remote target"})
		}
	}
	return errs
}

// validateTarget checks that name refers to a configured target.
// An empty name means the local host.
func validateTarget(cfg *Config, field, name string) error {
	if name == "" {
		return nil
	}
	if _, ok := cfg.Targets[name]; !ok {
		return ValidationError{
			Field:   field + ".target",
			Message: fmt.Sprintf("unknown target %q", name),
		}
	}
	return nil
}
