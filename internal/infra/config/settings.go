// Package config loads application settings from setting.json and
// WEAVE_* environment variables. Priority: env > setting.json > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hmiyata/weave/internal/app/config"
)

// RawSettings mirrors setting.json. Pointer fields distinguish an absent
// key from an explicit zero.
type RawSettings struct {
	Home     *string `json:"home"`
	RepoRoot *string `json:"repo_root"`
	DBPath   *string `json:"db_path"`

	CatalogPath *string `json:"catalog_path"`

	Baseline          *string `json:"baseline"`
	ConcurrencyMode   *string `json:"concurrency_mode"`
	MaxParallel       *int    `json:"max_parallel"`
	ReservationTTLSec *int    `json:"reservation_ttl_sec"`

	AgentBin   *string `json:"agent_bin"`
	TimeoutSec *int    `json:"timeout_sec"`

	RetryBudget    *int `json:"retry_budget"`
	GlobalRetryCap *int `json:"global_retry_cap"`

	ArchiveBackend *string `json:"archive_backend"`
	ArchiveDir     *string `json:"archive_dir"`
	ArchiveBucket  *string `json:"archive_bucket"`
	ArchivePrefix  *string `json:"archive_prefix"`
	ArchiveRegion  *string `json:"archive_region"`

	StderrLevel *string `json:"stderr_level"`
}

// LoadSettings loads configuration for the given base directory.
// The base directory is where setting.json lives, normally ".weave".
func LoadSettings(baseDir string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	jsonPath := filepath.Join(baseDir, "setting.json")
	if data, err := os.ReadFile(jsonPath); err == nil {
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("parse %s: %w", jsonPath, err)
		}
		configSource = "json"
		settingPath = jsonPath
	}

	if applyEnvOverrides(settings) {
		configSource = "env"
	}

	applyDefaults(settings)

	return buildAppConfig(settings, configSource, settingPath), nil
}

// applyEnvOverrides applies WEAVE_* variables and reports whether any
// were present
func applyEnvOverrides(settings *RawSettings) bool {
	overridden := false

	setString := func(key string, dst **string) {
		if v := os.Getenv(key); v != "" {
			*dst = &v
			overridden = true
		}
	}
	setInt := func(key string, dst **int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = &n
				overridden = true
			}
		}
	}

	setString("WEAVE_HOME", &settings.Home)
	setString("WEAVE_REPO_ROOT", &settings.RepoRoot)
	setString("WEAVE_DB_PATH", &settings.DBPath)
	setString("WEAVE_CATALOG_PATH", &settings.CatalogPath)
	setString("WEAVE_BASELINE", &settings.Baseline)
	setString("WEAVE_CONCURRENCY_MODE", &settings.ConcurrencyMode)
	setInt("WEAVE_MAX_PARALLEL", &settings.MaxParallel)
	setInt("WEAVE_RESERVATION_TTL_SEC", &settings.ReservationTTLSec)
	setString("WEAVE_AGENT_BIN", &settings.AgentBin)
	setInt("WEAVE_TIMEOUT_SEC", &settings.TimeoutSec)
	setInt("WEAVE_RETRY_BUDGET", &settings.RetryBudget)
	setInt("WEAVE_GLOBAL_RETRY_CAP", &settings.GlobalRetryCap)
	setString("WEAVE_ARCHIVE_BACKEND", &settings.ArchiveBackend)
	setString("WEAVE_ARCHIVE_DIR", &settings.ArchiveDir)
	setString("WEAVE_ARCHIVE_BUCKET", &settings.ArchiveBucket)
	setString("WEAVE_ARCHIVE_PREFIX", &settings.ArchivePrefix)
	setString("WEAVE_ARCHIVE_REGION", &settings.ArchiveRegion)
	setString("WEAVE_STDERR_LEVEL", &settings.StderrLevel)

	return overridden
}

// applyDefaults fills in default values for any nil fields
func applyDefaults(settings *RawSettings) {
	strDef := func(dst **string, v string) {
		if *dst == nil {
			*dst = &v
		}
	}
	intDef := func(dst **int, v int) {
		if *dst == nil {
			*dst = &v
		}
	}

	strDef(&settings.Home, ".weave")
	strDef(&settings.RepoRoot, ".")
	strDef(&settings.DBPath, filepath.Join(*settings.Home, "weave.db"))
	strDef(&settings.CatalogPath, filepath.Join(*settings.Home, "catalog"))
	strDef(&settings.Baseline, "main")
	strDef(&settings.ConcurrencyMode, "sequential")
	intDef(&settings.MaxParallel, 4)
	intDef(&settings.ReservationTTLSec, 1800)
	strDef(&settings.AgentBin, "weave-worker")
	intDef(&settings.TimeoutSec, 900)
	intDef(&settings.RetryBudget, 3)
	intDef(&settings.GlobalRetryCap, 10)
	strDef(&settings.ArchiveBackend, "local")
	strDef(&settings.ArchiveDir, filepath.Join(*settings.Home, "var"))
	strDef(&settings.ArchiveBucket, "")
	strDef(&settings.ArchivePrefix, "")
	strDef(&settings.ArchiveRegion, "")
	strDef(&settings.StderrLevel, "warn")
}

func buildAppConfig(settings *RawSettings, configSource, settingPath string) *config.AppConfig {
	return config.NewAppConfig(config.Values{
		Home:              *settings.Home,
		RepoRoot:          *settings.RepoRoot,
		DBPath:            *settings.DBPath,
		CatalogPath:       *settings.CatalogPath,
		Baseline:          *settings.Baseline,
		ConcurrencyMode:   *settings.ConcurrencyMode,
		MaxParallel:       *settings.MaxParallel,
		ReservationTTLSec: *settings.ReservationTTLSec,
		AgentBin:          *settings.AgentBin,
		TimeoutSec:        *settings.TimeoutSec,
		RetryBudget:       *settings.RetryBudget,
		GlobalRetryCap:    *settings.GlobalRetryCap,
		ArchiveBackend:    *settings.ArchiveBackend,
		ArchiveDir:        *settings.ArchiveDir,
		ArchiveBucket:     *settings.ArchiveBucket,
		ArchivePrefix:     *settings.ArchivePrefix,
		ArchiveRegion:     *settings.ArchiveRegion,
		StderrLevel:       *settings.StderrLevel,
		ConfigSource:      configSource,
		SettingPath:       settingPath,
	})
}

// CreateDefaultSettings renders a setting.json populated with defaults
func CreateDefaultSettings() []byte {
	settings := &RawSettings{}
	applyDefaults(settings)

	data, _ := json.MarshalIndent(settings, "", "  ")
	return data
}
