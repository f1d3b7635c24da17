// Copyright 2024 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/internal/constants"
	"gopkg.in/yaml.v3"
)

var (
	instance   *Config
	once       sync.Once
	configPath string // Tracks where the config was loaded from
)

// Config holds the engine's process-wide, immutable-after-startup settings.
// children_max is the one field control messages mutate at runtime; callers
// treat the value returned by GetConfig as a template; the live cap is a
// plain int in the engine's worker pool, read through Manager.ChildrenMax.
type Config struct {
	Engine struct {
		ChildrenMax       int    `mapstructure:"childrenMax"`       // 0 means "compute the default"
		EventTimeoutSec   int    `mapstructure:"eventTimeoutSec"`   // per-event hard deadline
		ExecDelaySec      int    `mapstructure:"execDelaySec"`      // copied into engine.Config.ExecDelay; no worker reads it
		ResolveNames       string `mapstructure:"resolveNames"`      // early|late|never
		LogPriority        int    `mapstructure:"logPriority"`       // syslog priority, 0-7
		RulesFreshnessCron string `mapstructure:"rulesFreshnessCron"`
	} `mapstructure:"engine"`

	Paths struct {
		RulesDir       string `mapstructure:"rulesDir"`
		QueueMarker    string `mapstructure:"queueMarker"`
		ControlSocket  string `mapstructure:"controlSocket"`
		PIDFile        string `mapstructure:"pidFile"`
		// WorkerCgroupKill, if set, names the cgroup.kill file of a
		// cgroup reserved for worker descendants (spec.md §4.1's post
		// hook). Assigning workers to that cgroup happens outside this
		// process; empty means "no cgroup, skip the reap".
		WorkerCgroupKill string `mapstructure:"workerCgroupKill"`
	} `mapstructure:"paths"`

	Daemon struct {
		Detach bool `mapstructure:"detach"`
	} `mapstructure:"daemon"`

	Logs struct {
		Path   string `mapstructure:"path"`
		Output string `mapstructure:"output"` // stdout or file
	} `mapstructure:"logs"`

	Logger struct {
		LogLevel     string `mapstructure:"logLevel"`
		EnableSentry bool   `mapstructure:"enableSentry"`
		SentryDSN    string `mapstructure:"sentryDSN"`
	} `mapstructure:"logger"`

	Environment string `mapstructure:"environment"`
}

// LoadConfig loads the configuration with precedence rules: explicit path >
// UDEVD_CONFIG env override > system default path. Kernel cmdline udev.*
// keys and then CLI flags are overlaid afterward by the caller (ApplyCmdline,
// then the serve command's flag overlay), matching spec.md §6's stated precedence (flags >
// cmdline > file > builtin default).
func LoadConfig(configFilePath string) *Config {
	once.Do(func() {
		logConfig := logger.Config{
			LogLevel:     "info",
			EnableSentry: false,
			SentryDSN:    "",
		}
		l, err := logger.NewTag(logConfig, "config")
		if err != nil {
			fmt.Printf("Failed to create logger: %v\n", err)
			os.Exit(1)
		}

		viper.Reset()
		viper.SetConfigType("yaml")

		systemConfigPath := filepath.Join(GetConfigDir(), constants.ConfigFileName)

		if configFilePath != "" {
			configPath = configFilePath
		} else if envPath := os.Getenv("UDEVD_CONFIG"); envPath != "" {
			configPath = envPath
		} else {
			configPath = systemConfigPath
		}

		l.Info("Using config file", "path", configPath)

		if absPath, err := filepath.Abs(configPath); err == nil {
			configPath = absPath
		}
		viper.SetConfigFile(configPath)

		setDefaults()

		viper.AutomaticEnv()
		viper.SetEnvPrefix("UDEVD")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		err = viper.ReadInConfig()
		if err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				l.Info("Config file not found, creating default at system path", "path", systemConfigPath)

				if err := os.MkdirAll(GetConfigDir(), 0755); err != nil {
					l.Error("Failed to create config directory", "err", err)
				}

				var cfg Config
				if err := viper.Unmarshal(&cfg); err != nil {
					l.Error("Failed to unmarshal default configuration", "err", err)
				}
				instance = &cfg
				configPath = systemConfigPath

				if err := SaveConfig(systemConfigPath); err != nil {
					l.Error("Failed to save default configuration", "err", err)
				}
			} else {
				l.Error("Error reading config file", "err", err)
				var cfg Config
				if err := viper.Unmarshal(&cfg); err != nil {
					l.Error("Failed to unmarshal default configuration", "err", err)
				}
				instance = &cfg
			}
		} else {
			l.Info("Config file loaded successfully", "path", viper.ConfigFileUsed())
			configPath = viper.ConfigFileUsed()

			var cfg Config
			if err := viper.Unmarshal(&cfg); err != nil {
				l.Error("Failed to parse configuration", "err", err)
			} else {
				instance = &cfg
			}
		}

		l.Debug("Loaded configuration", "config", fmt.Sprintf("%+v", *instance))
	})

	return instance
}

func setDefaults() {
	viper.SetDefault("environment", "dev")

	viper.SetDefault("engine.childrenMax", 0)
	viper.SetDefault("engine.eventTimeoutSec", 180)
	viper.SetDefault("engine.execDelaySec", 0)
	viper.SetDefault("engine.resolveNames", "early")
	viper.SetDefault("engine.logPriority", 6) // LOG_INFO
	viper.SetDefault("engine.rulesFreshnessCron", "@every 3s")

	viper.SetDefault("paths.rulesDir", "/etc/udevd/rules.d")
	viper.SetDefault("paths.queueMarker", constants.QueueMarkerPath)
	viper.SetDefault("paths.controlSocket", constants.ControlSocketPath)
	viper.SetDefault("paths.pidFile", constants.PIDFilePath)
	viper.SetDefault("paths.workerCgroupKill", "")

	viper.SetDefault("daemon.detach", false)

	viper.SetDefault("logs.path", "/var/log/udevd/udevd.log")
	viper.SetDefault("logs.output", "stdout")

	viper.SetDefault("logger.logLevel", "info")
	viper.SetDefault("logger.enableSentry", false)
	viper.SetDefault("logger.sentryDSN", "")
}

// SaveConfig persists the current configuration to a specified path.
func SaveConfig(path string) error {
	if path == "" {
		if os.Geteuid() == 0 {
			if err := os.MkdirAll(GetConfigDir(), 0755); err != nil {
				return fmt.Errorf("failed to create system config directory: %w", err)
			}
			path = filepath.Join(GetConfigDir(), constants.ConfigFileName)
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}
			userConfigDir := filepath.Join(home, ".udevd")
			if err := os.MkdirAll(userConfigDir, 0755); err != nil {
				return fmt.Errorf("failed to create user config directory: %w", err)
			}
			path = filepath.Join(userConfigDir, constants.ConfigFileName)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configYAML, err := yaml.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}

	if err := os.WriteFile(path, configYAML, 0644); err != nil {
		return fmt.Errorf("failed to write configuration to file: %w", err)
	}

	configPath = path
	return nil
}

// GetLoadedConfigPath returns the path of the currently loaded configuration file.
func GetLoadedConfigPath() string {
	return configPath
}

// GetConfig returns the current configuration instance, loading defaults on
// first use.
func GetConfig() *Config {
	if instance == nil {
		return LoadConfig("")
	}
	return instance
}

func NewLoggerConfig(cfg *Config) logger.Config {
	if cfg == nil {
		return logger.Config{
			LogLevel:     "info",
			EnableSentry: false,
			SentryDSN:    "",
		}
	}

	return logger.Config{
		LogLevel:     cfg.Logger.LogLevel,
		EnableSentry: cfg.Logger.EnableSentry,
		SentryDSN:    cfg.Logger.SentryDSN,
	}
}
