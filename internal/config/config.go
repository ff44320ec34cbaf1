package config

import "time"

// Config holds all runtime configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server  ServerConfig            `mapstructure:"server" validate:"required"`
	Redis   RedisConfig             `mapstructure:"redis" validate:"required"`
	Scaling ScalingConfig           `mapstructure:"scaling" validate:"required"`
	Domains map[string]DomainConfig `mapstructure:"domains" validate:"required,min=1,dive"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// RedisConfig contains the shared state-store connection settings.
// Namespace prefixes every key this process writes, so several
// deployments can share one store without colliding.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" validate:"required"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	Namespace string `mapstructure:"namespace" validate:"required"`
}

// ScalingConfig contains the settings shared by every domain's autoscaler.
type ScalingConfig struct {
	// MaxCPUPercent is the host CPU ceiling. Above it the autoscaler only
	// shrinks pools, never grows them.
	MaxCPUPercent float64 `mapstructure:"max_cpu_percent" validate:"required,gt=0,lte=100"`

	// ScaleCheckInterval is how often each domain's control loop runs.
	ScaleCheckInterval time.Duration `mapstructure:"scale_check_interval" validate:"required"`

	// GlobalWorkerCeiling caps the total worker count summed across all
	// domains in this process. Zero means "derive from CPU count".
	GlobalWorkerCeiling int `mapstructure:"global_worker_ceiling" validate:"gte=0"`

	// CleanupInterval is how often the state-manager sweep runs.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"required"`

	// CleanupMaxAge is how old a terminal session or status record must be
	// before the sweep deletes it.
	CleanupMaxAge time.Duration `mapstructure:"cleanup_max_age" validate:"required"`
}

// DomainConfig is the scaling policy and worker shape for one worker domain
// (e.g. "downloads", "disk-io", "media-prep"). Policies are read by the
// autoscaler and never mutated at runtime.
type DomainConfig struct {
	MinWorkers int `mapstructure:"min_workers" validate:"required,gte=1"`
	MaxWorkers int `mapstructure:"max_workers" validate:"required,gtefield=MinWorkers"`

	// TargetQueuePerWorker is the queue-pressure threshold above which the
	// pool grows; ScaleDownQueuePerWorker the threshold below which it
	// shrinks.
	TargetQueuePerWorker    float64 `mapstructure:"target_queue_per_worker" validate:"required,gt=0"`
	ScaleDownQueuePerWorker float64 `mapstructure:"scale_down_queue_per_worker" validate:"gte=0"`

	// CooldownPeriod is the minimum gap between two scaling changes.
	CooldownPeriod time.Duration `mapstructure:"cooldown_period" validate:"required"`

	// WorkerConcurrency is how many tasks a single worker may run at once.
	WorkerConcurrency int64 `mapstructure:"worker_concurrency" validate:"required,gte=1"`

	// TaskTimeout is the hard wall-clock limit for one task.
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"required"`

	// Priority orders domains in operator output; it does not affect
	// dispatch.
	Priority int `mapstructure:"priority" validate:"gte=0"`

	// Command, when set, is the external prepare program this domain's
	// tasks run. The task payload is written to its stdin.
	Command []string `mapstructure:"command"`
}
