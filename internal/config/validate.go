package config

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"textmill/internal/codec"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateArchives(); err != nil {
		return err
	}
	if err := c.validateDecode(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.InputDir) == "" {
		return errors.New("paths.input_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateArchives() error {
	if len(c.Archives.Extensions) == 0 {
		return errors.New("archives.extensions must include at least one suffix")
	}
	if c.Archives.MaxOpenHandles <= 0 {
		return errors.New("archives.max_open_handles must be positive")
	}
	return nil
}

func (c *Config) validateDecode() error {
	switch c.Decode.Errors {
	case DecodeStrict, DecodeReplace, DecodeIgnore:
	default:
		return fmt.Errorf("decode.errors must be one of %q, %q, %q (got %q)", DecodeStrict, DecodeReplace, DecodeIgnore, c.Decode.Errors)
	}
	enc, err := ianaindex.IANA.Encoding(c.Decode.Encoding)
	if err != nil || enc == nil {
		return fmt.Errorf("decode.encoding %q is not a supported character set", c.Decode.Encoding)
	}
	if _, err := codec.NewRegistry(c.Decode.SecondarySuffixes); err != nil {
		return fmt.Errorf("decode.secondary_suffixes: %w", err)
	}
	if c.Decode.MaxMemberBytes <= 0 {
		return errors.New("decode.max_member_bytes must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.poll_interval":        c.Workflow.PollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.max_store_failures":   c.Workflow.MaxStoreFailures,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.ClaimTimeout <= 0 {
		return errors.New("workflow.claim_timeout must be positive")
	}
	if c.Workflow.ClaimTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.claim_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
