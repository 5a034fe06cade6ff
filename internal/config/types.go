package config

import (
	"bytes"
	"encoding/json"
)

// Config is acsd's daemon configuration. The HTTP/SSE transport that would
// normally sit in front of the core (spec.md's "outer collaborator") owns its
// own host/port/CORS settings outside this file; this config only covers the
// core the daemon itself runs.
type Config struct {
	// DataDir is the root directory for jobs.json, the per-run log tree, and
	// the PID file. Created (with subdirectories) on startup if missing.
	DataDir string `json:"data_dir"`

	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`

	// Audit enables the supplemental SQLite change/trigger trail. Nil (or an
	// empty Path) disables it.
	Audit *AuditConfig `json:"audit,omitempty"`
}

// SchedulerConfig controls the Scheduler, Dispatcher and Log Store defaults.
type SchedulerConfig struct {
	// Timezone is read from the config file and logged on reload. The
	// Scheduler and Job Store do not apply it: a job without its own timezone
	// is evaluated in UTC.
	Timezone string `json:"timezone,omitempty"`

	// DefaultTimeoutSecs applies to jobs whose own timeout_secs is 0
	// (meaning "unset"). 0 here means "no timeout" is acceptable too.
	DefaultTimeoutSecs int64 `json:"default_timeout_secs"`

	// BroadcastCapacity is the Event Bus ring size.
	BroadcastCapacity int `json:"broadcast_capacity"`

	// MaxLogFilesPerJob bounds how many run logs the Log Store keeps per job
	// before Log Store.cleanup prunes the oldest.
	MaxLogFilesPerJob int `json:"max_log_files_per_job"`
}

// LoggingConfig mirrors the teacher's logx.Config, minus the Telegram sink.
type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AuditConfig controls the optional SQLite audit trail (internal/audit).
type AuditConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Defaults matches the zero-value behavior of the original DaemonConfig:
// every field has a sane default so an empty/partial JSON object is valid
// config.
func Defaults() Config {
	return Config{
		DataDir: "./data",
		Scheduler: SchedulerConfig{
			Timezone:           "",
			DefaultTimeoutSecs: 0,
			BroadcastCapacity:  4096,
			MaxLogFilesPerJob:  50,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// applyDefaults fills zero-valued fields left unset by partial JSON, mirroring
// the teacher's own "valid config minus a section" tolerance.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.Scheduler.BroadcastCapacity <= 0 {
		cfg.Scheduler.BroadcastCapacity = def.Scheduler.BroadcastCapacity
	}
	if cfg.Scheduler.MaxLogFilesPerJob <= 0 {
		cfg.Scheduler.MaxLogFilesPerJob = def.Scheduler.MaxLogFilesPerJob
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

// UnmarshalJSON disallows unknown fields so a typo or a removed legacy key is
// caught at load time, and fills defaults for an omitted/partial config.
func (c *Config) UnmarshalJSON(b []byte) error {
	type plain Config
	var p plain
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)
	applyDefaults(c)
	return nil
}
