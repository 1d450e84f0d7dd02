// Package config loads the notebook settings from a yml file, an optional
// per-environment overlay and NOTEBOOK_* environment variables.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	AppName    = "notebook"
	ConfigName = "notebook"
)

type Notebook struct {
	// Env selects the overlay file, notebook-<env>.yml next to the base file.
	Env            string        `mapstructure:"env"`
	Log            Log           `mapstructure:"log"`
	DataDir        string        `mapstructure:"data_dir"`
	CheckpointRoot string        `mapstructure:"checkpoint_root"`
	Trigger        string        `mapstructure:"trigger"`
	SocketDuration time.Duration `mapstructure:"socket_duration"`
	Broadcast      Broadcast     `mapstructure:"broadcast"`
	Metrics        Metrics       `mapstructure:"metrics"`
}

type Log struct {
	Level   string `mapstructure:"level"`
	Encoder string `mapstructure:"encoder"`
}

type Broadcast struct {
	Addr  string        `mapstructure:"addr"`
	File  string        `mapstructure:"file"`
	Delay time.Duration `mapstructure:"delay"`
	Loop  bool          `mapstructure:"loop"`
}

// Metrics exposes query metrics on Addr/metrics when Enabled.
type Metrics struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Prefix   string        `mapstructure:"prefix"`
	Interval time.Duration `mapstructure:"interval"`
}

var defaults = map[string]any{
	"log.level":        "info",
	"log.encoder":      "console",
	"data_dir":         "data",
	"checkpoint_root":  "",
	"trigger":          "availableNow",
	"socket_duration":  10 * time.Second,
	"broadcast.addr":   "localhost:9999",
	"broadcast.file":   "lines.txt",
	"broadcast.delay":  time.Second,
	"broadcast.loop":   true,
	"metrics.enabled":  false,
	"metrics.addr":     "localhost:9090",
	"metrics.prefix":   "streaming",
	"metrics.interval": time.Second,
}

// Load reads file, or notebook.yml from "." and "./config/" when file is empty.
// A missing notebook.yml is not an error when file is empty.
func Load(file string) (Notebook, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("env", "")
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yml")

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config/")
		v.SetConfigName(ConfigName)
	}
	var config Notebook
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return config, errors.WithMessage(err, "failed to read config")
		}
	} else if overlay := extendConfigFile(v); overlay != "" {
		v.SetConfigFile(overlay)
		//overlay is optional
		_ = v.MergeInConfig()
	}
	if err := v.Unmarshal(&config); err != nil {
		return config, errors.WithMessage(err, "failed to unmarshal config")
	}
	return config, nil
}

func extendConfigFile(v *viper.Viper) string {
	env := v.GetString("env")
	used := v.ConfigFileUsed()
	if env == "" || used == "" {
		return ""
	}
	ext := filepath.Ext(used)
	return strings.TrimSuffix(used, ext) + "-" + env + ext
}
