package sched

import (
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml
type Config struct {
	TickSeconds        float64 `yaml:"tick_seconds"`        // idle-proposal interval, 8.0 by default
	DispatchWaitMS     int     `yaml:"dispatch_wait_ms"`    // bounded wait for the new-task signal
	PreemptGraceMS     int     `yaml:"preempt_grace_ms"`    // how long a cancelled planner may take before we complain
	StopTimeoutMS      int     `yaml:"stop_timeout_ms"`     // bounded wait for orderly shutdown
	PriorityExternal   int     `yaml:"priority_external"`   // 0 (most urgent)
	PriorityAutonomous int     `yaml:"priority_autonomous"` // 10
	DefaultGoal        string  `yaml:"default_goal"`        // fallback when the proposer comes up empty
	MaxSplitSteps      int     `yaml:"max_split_steps"`     // cap on sub-goals per split
	LogLevel           string  `yaml:"log_level"`
}

// If the config file is not found, we use default values
func defaultConfig() Config {
	return Config{
		TickSeconds:        8.0,
		DispatchWaitMS:     500,
		PreemptGraceMS:     2000,
		StopTimeoutMS:      5000,
		PriorityExternal:   PriorityExternal,
		PriorityAutonomous: PriorityAutonomous,
		DefaultGoal:        "look around and decide what to do next",
		MaxSplitSteps:      5,
		LogLevel:           "INFO",
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, &cfg)

	// sanity clamps
	if cfg.TickSeconds <= 0 {
		cfg.TickSeconds = 8.0
	}
	if cfg.DispatchWaitMS <= 0 {
		cfg.DispatchWaitMS = 500
	}
	if cfg.PreemptGraceMS <= 0 {
		cfg.PreemptGraceMS = 2000
	}
	if cfg.StopTimeoutMS <= 0 {
		cfg.StopTimeoutMS = 5000
	}
	if cfg.PriorityAutonomous <= cfg.PriorityExternal {
		cfg.PriorityExternal = PriorityExternal
		cfg.PriorityAutonomous = PriorityAutonomous
	}
	if cfg.DefaultGoal == "" {
		cfg.DefaultGoal = defaultConfig().DefaultGoal
	}
	if cfg.MaxSplitSteps <= 0 {
		cfg.MaxSplitSteps = 5
	}

	return cfg
}

func (c Config) tickInterval() time.Duration {
	return time.Duration(c.TickSeconds * float64(time.Second))
}

func (c Config) dispatchWait() time.Duration {
	return time.Duration(c.DispatchWaitMS) * time.Millisecond
}

func (c Config) preemptGrace() time.Duration {
	return time.Duration(c.PreemptGraceMS) * time.Millisecond
}

func (c Config) stopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMS) * time.Millisecond
}
