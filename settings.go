package ecs

import (
	"io"

	"gopkg.in/yaml.v3"
)

// LogLevel controls how the build pass reacts to a non-fatal structural
// finding (redundant hierarchy edges, unresolved ambiguity).
type LogLevel uint8

const (
	// LogLevelIgnore silently accepts the finding.
	LogLevelIgnore LogLevel = iota
	// LogLevelWarn logs the finding through the schedule's Logger and
	// continues.
	LogLevelWarn
	// LogLevelError turns the finding into a BuildError, failing Initialize.
	LogLevelError
)

// UnmarshalYAML lets LogLevel decode from the lowercase strings a config
// file would naturally spell ("ignore", "warn", "error").
func (l *LogLevel) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "ignore", "":
		*l = LogLevelIgnore
	case "warn":
		*l = LogLevelWarn
	case "error":
		*l = LogLevelError
	default:
		return &yaml.TypeError{Errors: []string{"ecs: unknown log level " + s}}
	}
	return nil
}

// BuildSettings controls how strictly Initialize treats non-cycle
// structural findings, and whether it inserts synthetic apply_deferred
// barrier nodes automatically. Use DefaultBuildSettings for the scheduler's
// default policy: warn on hierarchy redundancy, ignore unresolved ambiguity
// (matching upstream's own defaults), no auto-inserted barriers.
type BuildSettings struct {
	HierarchyDetection     LogLevel `yaml:"hierarchy_detection"`
	AmbiguityDetection     LogLevel `yaml:"ambiguity_detection"`
	AutoInsertApplyDeferred bool    `yaml:"auto_insert_apply_deferred"`
}

// DefaultBuildSettings returns the scheduler's default policy.
func DefaultBuildSettings() BuildSettings {
	return BuildSettings{
		HierarchyDetection: LogLevelWarn,
		AmbiguityDetection: LogLevelIgnore,
	}
}

// LoadBuildSettings decodes a BuildSettings from YAML. This is the only file
// I/O surface the scheduler exposes: callers own reading the file (or any
// other io.Reader) and the scheduler never persists, watches, or rewrites
// it.
func LoadBuildSettings(r io.Reader) (BuildSettings, error) {
	settings := DefaultBuildSettings()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&settings); err != nil && err != io.EOF {
		return BuildSettings{}, err
	}
	return settings, nil
}
