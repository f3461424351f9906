// integration.go: Command line, environment and file settings in one place
//
// ConfigManager registers the global flags of the qpformat binary with
// FlashFlags and resolves them into Settings. Precedence, lowest first:
// defaults, the YAML settings file, QPFORMAT_* environment variables,
// explicitly passed flags.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"strings"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// Global flag names.
const (
	FlagConfig    = "config"
	FlagAuditFile = "audit-file"
	FlagPrecision = "precision"
)

// ConfigManager combines flags, environment and settings file.
type ConfigManager struct {
	flags *flashflags.FlagSet
}

// NewConfigManager registers the global flags.
func NewConfigManager(appName string) *ConfigManager {
	fs := flashflags.New(appName)
	fs.String(FlagConfig, "", "Settings file (YAML)")
	fs.String(FlagAuditFile, "", "Audit trail output (.jsonl or .db)")
	fs.String(FlagPrecision, "", "Image precision (float32|float64)")
	return &ConfigManager{flags: fs}
}

// SetDescription sets the application description for help text
func (cm *ConfigManager) SetDescription(description string) *ConfigManager {
	cm.flags.SetDescription(description)
	return cm
}

// SetVersion sets the application version for help text
func (cm *ConfigManager) SetVersion(version string) *ConfigManager {
	cm.flags.SetVersion(version)
	return cm
}

// SplitArgs separates the registered global flags from the command and
// its own arguments. Both "--name value" and "--name=value" are accepted.
func (cm *ConfigManager) SplitArgs(args []string) (global, rest []string) {
	known := map[string]bool{}
	cm.flags.VisitAll(func(f *flashflags.Flag) { known[f.Name()] = true })

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name := strings.TrimLeft(arg, "-")
		if !strings.HasPrefix(arg, "--") || name == "" {
			rest = append(rest, arg)
			continue
		}
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			if known[name[:eq]] {
				global = append(global, arg)
			} else {
				rest = append(rest, arg)
			}
			continue
		}
		if !known[name] {
			rest = append(rest, arg)
			continue
		}
		global = append(global, arg)
		if i+1 < len(args) {
			global = append(global, args[i+1])
			i++
		}
	}
	return global, rest
}

// Parse parses global flags only; see SplitArgs.
func (cm *ConfigManager) Parse(args []string) error {
	if err := cm.flags.Parse(args); err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse command-line flags")
	}
	return nil
}

// GetString retrieves a string flag value
func (cm *ConfigManager) GetString(key string) string {
	return cm.flags.GetString(key)
}

// changed reports whether flag name was passed explicitly.
func (cm *ConfigManager) changed(name string) bool {
	set := false
	cm.flags.VisitAll(func(f *flashflags.Flag) {
		if f.Name() == name && f.Changed() {
			set = true
		}
	})
	return set
}

// Settings resolves the effective settings.
func (cm *ConfigManager) Settings() (Settings, error) {
	path := cm.GetString(FlagConfig)
	if path == "" {
		path, _ = lookupEnv("CONFIG")
	}
	s, err := LoadSettings(path)
	if err != nil {
		return s, err
	}
	if err := s.ApplyEnv(); err != nil {
		return s, err
	}
	if cm.changed(FlagPrecision) {
		s.Precision = cm.GetString(FlagPrecision)
	}
	if cm.changed(FlagAuditFile) {
		s.Audit.OutputFile = cm.GetString(FlagAuditFile)
		s.Audit.Enabled = s.Audit.OutputFile != ""
	}
	return s, s.Validate()
}

// PrintUsage prints help information for the global flags
func (cm *ConfigManager) PrintUsage() {
	cm.flags.PrintHelp()
}

// FlagToEnvKey converts "audit-file" to "QPFORMAT_AUDIT_FILE".
func (cm *ConfigManager) FlagToEnvKey(flagName string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
