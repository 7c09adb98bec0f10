package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeArchives()
	c.normalizeDecode()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("TEXTMILL_INPUT_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.InputDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("TEXTMILL_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}

	var err error
	if c.Paths.InputDir, err = expandPath(c.Paths.InputDir); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SampleDir) == "" {
		c.Paths.SampleDir = defaultSampleDir
	}
	if c.Paths.SampleDir, err = expandPath(c.Paths.SampleDir); err != nil {
		return fmt.Errorf("paths.sample_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeArchives() {
	c.Archives.Extensions = normalizeSuffixes(c.Archives.Extensions)
	if len(c.Archives.Extensions) == 0 {
		c.Archives.Extensions = defaultArchiveExtensions()
	}
	if c.Archives.MaxOpenHandles <= 0 {
		c.Archives.MaxOpenHandles = defaultMaxOpenHandles
	}
}

func (c *Config) normalizeDecode() {
	c.Decode.Encoding = strings.ToLower(strings.TrimSpace(c.Decode.Encoding))
	if c.Decode.Encoding == "" {
		c.Decode.Encoding = defaultEncoding
	}
	c.Decode.Errors = strings.ToLower(strings.TrimSpace(c.Decode.Errors))
	if c.Decode.Errors == "" {
		c.Decode.Errors = defaultDecodeErrors
	}
	// An explicitly empty list disables secondary decompression entirely.
	if c.Decode.SecondarySuffixes != nil {
		c.Decode.SecondarySuffixes = normalizeSuffixes(c.Decode.SecondarySuffixes)
	}
	if c.Decode.MaxMemberBytes <= 0 {
		c.Decode.MaxMemberBytes = defaultMaxMemberBytes
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.MaxStoreFailures <= 0 {
		c.Workflow.MaxStoreFailures = defaultMaxStoreFailures
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json", "auto":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// normalizeSuffixes lower-cases, dot-prefixes, and de-duplicates suffixes,
// ordering longer suffixes first so ".tar.gz" wins over ".gz".
func normalizeSuffixes(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i]) > len(out[j])
	})
	return out
}
