// settings.go: Persistent defaults for loading datasets
//
// Settings are read from a YAML file and may be overridden by QPFORMAT_*
// environment variables. They translate into LoadOptions, a Registry and
// an AuditLogger.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/agilira/qpformat/qpimage"
	"go.yaml.in/yaml/v3"
)

// EnvPrefix prefixes every environment variable read by qpformat.
const EnvPrefix = "QPFORMAT"

// Settings holds user defaults applied to every Load.
type Settings struct {
	Precision       string         `yaml:"precision"`
	Meta            map[string]any `yaml:"meta"`
	RetrieveKW      map[string]any `yaml:"retrieve_kw"`
	DisabledFormats []string       `yaml:"disabled_formats"`
	Audit           AuditSettings  `yaml:"audit"`
}

// AuditSettings selects the audit trail output.
type AuditSettings struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
	MinLevel   string `yaml:"min_level"`
	BufferSize int    `yaml:"buffer_size"`
}

// DefaultSettings returns float32 precision with auditing disabled.
func DefaultSettings() Settings {
	return Settings{
		Precision: string(qpimage.Float32),
		Audit:     AuditSettings{BufferSize: DefaultAuditConfig().BufferSize},
	}
}

// LoadSettings reads path over DefaultSettings. A missing file is not an
// error; the defaults are returned.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- user supplied settings path
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, errors.Wrap(err, ErrCodeIOError, "failed to read settings").WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse settings").WithContext("path", path)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// ParseSettings decodes YAML settings from data over DefaultSettings.
func ParseSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse settings")
	}
	return s, s.Validate()
}

// Validate checks precision, metadata keys, audit level and that disabled
// formats are registered in the default registry.
func (s Settings) Validate() error {
	if _, err := qpimage.ParsePrecision(s.Precision); err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "invalid precision")
	}
	if err := s.meta().Validate(); err != nil {
		return errors.Wrap(err, ErrCodeInvalidMetadataKey, "invalid default metadata")
	}
	if _, err := ParseAuditLevel(s.Audit.MinLevel); err != nil {
		return err
	}
	for _, name := range s.DisabledFormats {
		if _, ok := DefaultRegistry().Lookup(name); !ok {
			return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("cannot disable unknown format %q", name))
		}
	}
	return nil
}

// ApplyEnv overrides s with QPFORMAT_PRECISION, QPFORMAT_AUDIT_FILE,
// QPFORMAT_AUDIT_ENABLED and QPFORMAT_DISABLED_FORMATS (comma separated).
func (s *Settings) ApplyEnv() error {
	if v, ok := lookupEnv("PRECISION"); ok {
		s.Precision = v
	}
	if v, ok := lookupEnv("AUDIT_FILE"); ok {
		s.Audit.OutputFile = v
		s.Audit.Enabled = v != ""
	}
	if v, ok := lookupEnv("AUDIT_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, "invalid "+EnvPrefix+"_AUDIT_ENABLED")
		}
		s.Audit.Enabled = b
	}
	if v, ok := lookupEnv("DISABLED_FORMATS"); ok {
		s.DisabledFormats = splitList(v)
	}
	return s.Validate()
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + "_" + name)
	return strings.TrimSpace(v), ok
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// meta converts YAML numbers to float64 so that values compare equal to
// metadata read from files.
func (s Settings) meta() qpimage.Meta {
	if len(s.Meta) == 0 {
		return nil
	}
	m := qpimage.Meta{}
	for k, v := range s.Meta {
		if f, ok := toFloat(v); ok {
			v = f
		}
		m[k] = v
	}
	return m
}

// Registry returns the default registry without the disabled formats.
func (s Settings) Registry() (*Registry, error) {
	if len(s.DisabledFormats) == 0 {
		return DefaultRegistry(), nil
	}
	return DefaultRegistry().Without(s.DisabledFormats...)
}

// AuditConfig converts the audit section.
func (s Settings) AuditConfig() (AuditConfig, error) {
	lvl, err := ParseAuditLevel(s.Audit.MinLevel)
	if err != nil {
		return AuditConfig{}, err
	}
	cfg := DefaultAuditConfig()
	cfg.Enabled = s.Audit.Enabled
	cfg.OutputFile = s.Audit.OutputFile
	cfg.MinLevel = lvl
	if s.Audit.BufferSize > 0 {
		cfg.BufferSize = s.Audit.BufferSize
	}
	return cfg, nil
}

// OpenAudit returns nil when auditing is disabled.
func (s Settings) OpenAudit() (*AuditLogger, error) {
	if !s.Audit.Enabled {
		return nil, nil
	}
	cfg, err := s.AuditConfig()
	if err != nil {
		return nil, err
	}
	return NewAuditLogger(cfg)
}

// LoadOptions returns the options carrying s. Options passed to Load
// after these take precedence.
func (s Settings) LoadOptions() ([]LoadOption, error) {
	p, err := qpimage.ParsePrecision(s.Precision)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid precision")
	}
	meta := s.meta()
	reg, err := s.Registry()
	if err != nil {
		return nil, err
	}
	opts := []LoadOption{WithPrecision(p), WithRegistry(reg)}
	if meta != nil {
		opts = append(opts, WithMeta(meta))
	}
	if len(s.RetrieveKW) > 0 {
		opts = append(opts, WithRetrieveKW(cloneKW(s.RetrieveKW)))
	}
	return opts, nil
}
