// Package config snapshots the environment once at startup into an immutable
// struct. Jobs and policies read the snapshot by reference; nothing reloads
// at runtime.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is the frozen configuration surface of the maintenance core.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig

	Withdraw   WithdrawConfig
	Fraud      FraudConfig
	Suspicion  SuspicionConfig
	Wellness   WellnessConfig
	Remote     RemoteConfig
	Retention  RetentionConfig
	JobPeriods JobPeriods
}

// DatabaseConfig selects the backing store. When DSN is empty the in-memory
// store is used.
type DatabaseConfig struct {
	Driver          string `env:"DATABASE_DRIVER,default=postgres"`
	DSN             string `env:"DATABASE_DSN"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=16"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=4"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME_SEC,default=300"`
}

// RedisConfig enables the shared probe cache when Addr is set.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// LoggingConfig mirrors pkg/logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=text"`
	Output     string `env:"LOG_OUTPUT,default=stderr"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=maintenance"`
}

// MetricsConfig exposes the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR"`
}

// WithdrawConfig governs withdrawal admission and settlement.
type WithdrawConfig struct {
	HoldHours      int   `env:"WITHDRAW_HOLD_HOURS,default=48"`
	LockHours      int   `env:"WITHDRAW_LOCK_HOURS,default=96"`
	MinTasks       int   `env:"WITHDRAW_MIN_TASKS,default=50"`
	MinAccountDays int   `env:"WITHDRAW_MIN_ACCOUNT_DAYS,default=7"`
	EarnCapHourly  int64 `env:"EARN_CAP_HOURLY,default=500"`
	EarnCapDaily   int64 `env:"EARN_CAP_DAILY,default=2000"`
	MaxPerDay      int   `env:"WITHDRAW_MAX_PER_DAY,default=3"`
}

// Hold returns the normal settlement hold.
func (c WithdrawConfig) Hold() time.Duration { return time.Duration(c.HoldHours) * time.Hour }

// Lock returns the fraud-branch hold.
func (c WithdrawConfig) Lock() time.Duration { return time.Duration(c.LockHours) * time.Hour }

// FraudConfig holds the scorer thresholds.
type FraudConfig struct {
	LockThreshold   float64 `env:"FRAUD_LOCK_THRESHOLD,default=0.8"`
	VolumeThreshold int     `env:"FRAUD_VOLUME_THRESHOLD,default=30"`
	VelocitySeconds int     `env:"FRAUD_VELOCITY_SECONDS,default=120"`
	VelocityMinN    int     `env:"FRAUD_VELOCITY_MIN_COMPLETIONS,default=5"`
	IPChurn         int     `env:"FRAUD_IP_CHURN,default=5"`
	DeviceChurn     int     `env:"FRAUD_DEVICE_CHURN,default=3"`
	YieldRatio      float64 `env:"FRAUD_YIELD_RATIO,default=20"`
}

// SuspicionConfig governs the rapid-completion detector.
type SuspicionConfig struct {
	WindowMinutes int `env:"SUSPICION_WINDOW_MIN,default=60"`
	TaskThreshold int `env:"SUSPICION_TASK_THRESHOLD,default=10"`
	RelockHours   int `env:"SUSPICION_RELOCK_HOURS,default=48"`
	RecheckDays   int `env:"SUSPICION_RECHECK_DAYS,default=7"`
}

// Window returns the detector's look-back window.
func (c SuspicionConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// WellnessConfig governs the over-work nudges.
type WellnessConfig struct {
	TaskThreshold int `env:"WELLNESS_TASK_THRESHOLD,default=20"`
	SuppressHours int `env:"WELLNESS_SUPPRESS_HOURS,default=6"`
}

// RemoteConfig governs outbound probes against the remote service. An empty
// BaseURL selects the canned validator, for dev and test environments.
type RemoteConfig struct {
	BaseURL          string `env:"REMOTE_BASE_URL"`
	APIKey           string `env:"REMOTE_API_KEY"`
	RateGapMS        int    `env:"RATE_GAP_MS,default=2000"`
	TimeoutSeconds   int    `env:"REMOTE_TIMEOUT_SEC,default=30"`
	NotFoundCacheMin int    `env:"REMOTE_NOT_FOUND_CACHE_MIN,default=10"`
	MaxRetries       int    `env:"REMOTE_MAX_RETRIES,default=3"`
}

// RateGap returns the minimum spacing between remote calls.
func (c RemoteConfig) RateGap() time.Duration {
	return time.Duration(c.RateGapMS) * time.Millisecond
}

// RetentionConfig governs purgeStaleLogs.
type RetentionConfig struct {
	DeviceLogDays   int `env:"PURGE_DEVICE_LOG_DAYS,default=90"`
	GDPRRequestDays int `env:"PURGE_GDPR_REQUEST_DAYS,default=30"`
	NudgeLogDays    int `env:"PURGE_NUDGE_LOG_DAYS,default=30"`
}

// JobPeriods holds each scheduler job's period in seconds.
type JobPeriods struct {
	ExpireTasksSec         int `env:"JOB_EXPIRE_TASKS_SEC,default=300"`
	OrderLivenessSec       int `env:"JOB_ORDER_LIVENESS_SEC,default=600"`
	DetectSuspiciousSec    int `env:"JOB_DETECT_SUSPICIOUS_SEC,default=900"`
	SettleWithdrawalsSec   int `env:"JOB_SETTLE_WITHDRAWALS_SEC,default=1800"`
	WellnessNudgesSec      int `env:"JOB_WELLNESS_NUDGES_SEC,default=3600"`
	RebuildLeaderboardsSec int `env:"JOB_REBUILD_LEADERBOARDS_SEC,default=7200"`
	ProcessGDPRSec         int `env:"JOB_PROCESS_GDPR_SEC,default=21600"`
	PurgeStaleLogsSec      int `env:"JOB_PURGE_STALE_LOGS_SEC,default=86400"`
}

// Load decodes the environment into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration the core runs with when every knob is
// left at its documented default. Tests construct their own from here.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "postgres", MaxOpenConns: 16, MaxIdleConns: 4, ConnMaxLifetime: 300},
		Logging:  LoggingConfig{Level: "info", Format: "text", Output: "stderr", FilePrefix: "maintenance"},
		Withdraw: WithdrawConfig{
			HoldHours: 48, LockHours: 96, MinTasks: 50, MinAccountDays: 7,
			EarnCapHourly: 500, EarnCapDaily: 2000, MaxPerDay: 3,
		},
		Fraud: FraudConfig{
			LockThreshold: 0.8, VolumeThreshold: 30, VelocitySeconds: 120,
			VelocityMinN: 5, IPChurn: 5, DeviceChurn: 3, YieldRatio: 20,
		},
		Suspicion: SuspicionConfig{WindowMinutes: 60, TaskThreshold: 10, RelockHours: 48, RecheckDays: 7},
		Wellness:  WellnessConfig{TaskThreshold: 20, SuppressHours: 6},
		Remote:    RemoteConfig{RateGapMS: 2000, TimeoutSeconds: 30, NotFoundCacheMin: 10, MaxRetries: 3},
		Retention: RetentionConfig{DeviceLogDays: 90, GDPRRequestDays: 30, NudgeLogDays: 30},
		JobPeriods: JobPeriods{
			ExpireTasksSec: 300, OrderLivenessSec: 600, DetectSuspiciousSec: 900,
			SettleWithdrawalsSec: 1800, WellnessNudgesSec: 3600,
			RebuildLeaderboardsSec: 7200, ProcessGDPRSec: 21600, PurgeStaleLogsSec: 86400,
		},
	}
}
