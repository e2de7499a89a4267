// Package config defines read-only access to application configuration.
// The interface hides the configuration source (JSON, ENV, defaults) so
// the application layer never depends on how settings are loaded.
package config

import "time"

type Config interface {
	// Core settings
	Home() string     // base directory for weave state (WEAVE_HOME)
	RepoRoot() string // git repository the orchestrator operates on (WEAVE_REPO_ROOT)
	DBPath() string   // sqlite database path (WEAVE_DB_PATH)

	// Catalog
	CatalogPath() string // process template catalog path (WEAVE_CATALOG_PATH)

	// Dispatch
	Baseline() string                // target baseline branch (WEAVE_BASELINE)
	ConcurrencyMode() string         // sequential, parallel-bounded, parallel-unbounded (WEAVE_CONCURRENCY_MODE)
	MaxParallel() int                // agent cap for parallel-bounded (WEAVE_MAX_PARALLEL)
	ReservationTTL() time.Duration   // work-item reservation ttl (WEAVE_RESERVATION_TTL_SEC)
	ReservationTTLSec() int          // same, in seconds

	// Worker agents
	AgentBin() string       // worker binary launched per execution (WEAVE_AGENT_BIN)
	TimeoutSec() int        // per-run worker timeout in seconds (WEAVE_TIMEOUT_SEC)
	Timeout() time.Duration // same, as Duration

	// Failure handling
	RetryBudget() int    // substantive retries per execution (WEAVE_RETRY_BUDGET)
	GlobalRetryCap() int // substantive retries across the run (WEAVE_GLOBAL_RETRY_CAP)

	// Archival
	ArchiveBackend() string // "local" or "s3" (WEAVE_ARCHIVE_BACKEND)
	ArchiveDir() string     // local backend directory (WEAVE_ARCHIVE_DIR)
	ArchiveBucket() string  // s3 backend bucket (WEAVE_ARCHIVE_BUCKET)
	ArchivePrefix() string  // s3 key prefix (WEAVE_ARCHIVE_PREFIX)
	ArchiveRegion() string  // s3 region (WEAVE_ARCHIVE_REGION)

	// Logging
	StderrLevel() string // stderr log level (WEAVE_STDERR_LEVEL)

	// Metadata
	ConfigSource() string // "json", "env", or "default"
	SettingPath() string  // path to setting.json if loaded from file
}

// AppConfig is the concrete implementation of Config
type AppConfig struct {
	home     string
	repoRoot string
	dbPath   string

	catalogPath string

	baseline          string
	concurrencyMode   string
	maxParallel       int
	reservationTTLSec int

	agentBin   string
	timeoutSec int

	retryBudget    int
	globalRetryCap int

	archiveBackend string
	archiveDir     string
	archiveBucket  string
	archivePrefix  string
	archiveRegion  string

	stderrLevel string

	configSource string
	settingPath  string
}

func (c *AppConfig) Home() string     { return c.home }
func (c *AppConfig) RepoRoot() string { return c.repoRoot }
func (c *AppConfig) DBPath() string   { return c.dbPath }

func (c *AppConfig) CatalogPath() string { return c.catalogPath }

func (c *AppConfig) Baseline() string        { return c.baseline }
func (c *AppConfig) ConcurrencyMode() string { return c.concurrencyMode }
func (c *AppConfig) MaxParallel() int        { return c.maxParallel }
func (c *AppConfig) ReservationTTLSec() int  { return c.reservationTTLSec }
func (c *AppConfig) ReservationTTL() time.Duration {
	return time.Duration(c.reservationTTLSec) * time.Second
}

func (c *AppConfig) AgentBin() string { return c.agentBin }
func (c *AppConfig) TimeoutSec() int  { return c.timeoutSec }
func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.timeoutSec) * time.Second
}

func (c *AppConfig) RetryBudget() int    { return c.retryBudget }
func (c *AppConfig) GlobalRetryCap() int { return c.globalRetryCap }

func (c *AppConfig) ArchiveBackend() string { return c.archiveBackend }
func (c *AppConfig) ArchiveDir() string     { return c.archiveDir }
func (c *AppConfig) ArchiveBucket() string  { return c.archiveBucket }
func (c *AppConfig) ArchivePrefix() string  { return c.archivePrefix }
func (c *AppConfig) ArchiveRegion() string  { return c.archiveRegion }

func (c *AppConfig) StderrLevel() string { return c.stderrLevel }

func (c *AppConfig) ConfigSource() string { return c.configSource }
func (c *AppConfig) SettingPath() string  { return c.settingPath }

// Values carries configuration values from the loader into AppConfig.
// Zero values mean the loader's defaults were not applied; the loader
// always fills every field.
type Values struct {
	Home     string
	RepoRoot string
	DBPath   string

	CatalogPath string

	Baseline          string
	ConcurrencyMode   string
	MaxParallel       int
	ReservationTTLSec int

	AgentBin   string
	TimeoutSec int

	RetryBudget    int
	GlobalRetryCap int

	ArchiveBackend string
	ArchiveDir     string
	ArchiveBucket  string
	ArchivePrefix  string
	ArchiveRegion  string

	StderrLevel string

	ConfigSource string
	SettingPath  string
}

// NewAppConfig builds an AppConfig from loaded values
func NewAppConfig(v Values) *AppConfig {
	return &AppConfig{
		home:              v.Home,
		repoRoot:          v.RepoRoot,
		dbPath:            v.DBPath,
		catalogPath:       v.CatalogPath,
		baseline:          v.Baseline,
		concurrencyMode:   v.ConcurrencyMode,
		maxParallel:       v.MaxParallel,
		reservationTTLSec: v.ReservationTTLSec,
		agentBin:          v.AgentBin,
		timeoutSec:        v.TimeoutSec,
		retryBudget:       v.RetryBudget,
		globalRetryCap:    v.GlobalRetryCap,
		archiveBackend:    v.ArchiveBackend,
		archiveDir:        v.ArchiveDir,
		archiveBucket:     v.ArchiveBucket,
		archivePrefix:     v.ArchivePrefix,
		archiveRegion:     v.ArchiveRegion,
		stderrLevel:       v.StderrLevel,
		configSource:      v.ConfigSource,
		settingPath:       v.SettingPath,
	}
}
