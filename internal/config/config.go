// Package config loads configuration for both binaries through viper:
// programmatic defaults, an optional YAML file, and environment overrides.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/nodemesh/meshlb/internal/meshapi"
)

// Controller is the full configuration for cmd/meshctl.
type Controller struct {
	Listen        string               `mapstructure:"listen"`
	ProxyListen   string               `mapstructure:"proxy_listen"`
	LogLevel      string               `mapstructure:"log_level"`
	StateDir      string               `mapstructure:"state_dir"`
	PanicRedirect string               `mapstructure:"panic_redirect"`
	Nodes         []meshapi.NodeConfig `mapstructure:"nodes"`
}

// Agent is the full configuration for cmd/meshagent.
type Agent struct {
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`
	StateDir string `mapstructure:"state_dir"`
	Region   string `mapstructure:"region"`
	WebPort  int    `mapstructure:"web_port"`
}

// LoadController reads meshctl.yaml (if present, searched in "." and
// "./config") and the MESHCTL_* environment, layered over defaults.
func LoadController(configName string) (*Controller, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("listen", ":5000")
	v.SetDefault("proxy_listen", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("state_dir", "./meshctl-data")
	v.SetDefault("panic_redirect", "")
	v.SetDefault("nodes", []map[string]any{})

	v.SetEnvPrefix("MESHCTL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read controller config: %w", err)
		}
	}

	var cfg Controller
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal controller config: %w", err)
	}
	return &cfg, nil
}

// LoadAgent reads meshagent.yaml (if present) and the MESHAGENT_*
// environment, layered over defaults.
func LoadAgent(configName string) (*Agent, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("listen", ":8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("state_dir", "./meshagent-data")
	v.SetDefault("region", "NA-EAST")
	v.SetDefault("web_port", 8080)

	v.SetEnvPrefix("MESHAGENT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read agent config: %w", err)
		}
	}

	var cfg Agent
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal agent config: %w", err)
	}
	return &cfg, nil
}
