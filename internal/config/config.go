// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rqlite/rqlite/v8/random"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverInMemory = "inmemory"
	StorageDriverSqlite   = "sqlite"
)

type Config struct {
	Server     Server     `yaml:"server" json:"server"`                // configuration of the public HTTP server
	Name       string     `yaml:"name" json:"name" env:"ZENFLOW_NAME"` // used for OTEL as an application identifier
	Log        Log        `yaml:"log" json:"log"`
	Storage    Storage    `yaml:"storage" json:"storage"`
	Tracing    Tracing    `yaml:"tracing" json:"tracing"`
	Script     Script     `yaml:"script" json:"script"`
	ModelCache ModelCache `yaml:"modelCache" json:"modelCache"`
}

type Server struct {
	Addr string `yaml:"addr" json:"addr" env:"ZENFLOW_SERVER_ADDR" env-default:":8080"`
}

type Log struct {
	Level string `yaml:"level" json:"level" env:"ZENFLOW_LOG_LEVEL" env-default:"info"`
	JSON  bool   `yaml:"json" json:"json" env:"ZENFLOW_LOG_JSON"`
}

type Storage struct {
	// Driver is either inmemory or sqlite
	Driver string `yaml:"driver" json:"driver" env:"ZENFLOW_STORAGE_DRIVER" env-default:"inmemory"`
	Path   string `yaml:"path" json:"path" env:"ZENFLOW_STORAGE_PATH"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"ZENFLOW_TRACING_ENABLED"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"ZENFLOW_TRACING_ENDPOINT" env-default:"localhost:4318"`
	Name     string `yaml:"name" json:"name" env:"ZENFLOW_TRACING_NAME"`
	// SampleRatio is the share of root traces exported, values outside (0,1) export all of them
	SampleRatio float64 `yaml:"sampleRatio" json:"sampleRatio" env:"ZENFLOW_TRACING_SAMPLE_RATIO" env-default:"1"`
}

// Script sizes the pool of javascript VMs used by activity actions.
type Script struct {
	MinPool int `yaml:"minPool" json:"minPool" env:"ZENFLOW_SCRIPT_MIN_POOL" env-default:"1"`
	MaxPool int `yaml:"maxPool" json:"maxPool" env:"ZENFLOW_SCRIPT_MAX_POOL" env-default:"4"`
}

type ModelCache struct {
	Size int           `yaml:"size" json:"size" env:"ZENFLOW_MODEL_CACHE_SIZE" env-default:"128"`
	TTL  time.Duration `yaml:"ttl" json:"ttl" env:"ZENFLOW_MODEL_CACHE_TTL" env-default:"10m"`
}

func (c Config) defaults() Config {
	if c.Name == "" {
		c.Name = "zenflow-" + random.String()
	}
	if c.Tracing.Name == "" {
		c.Tracing.Name = c.Name
	}
	if c.Storage.Driver == StorageDriverSqlite && c.Storage.Path == "" {
		c.Storage.Path = "zenflow.db"
	}
	return c
}

func (c Config) validate() error {
	var errJoin error
	if c.Storage.Driver != StorageDriverInMemory && c.Storage.Driver != StorageDriverSqlite {
		errJoin = errors.Join(errJoin, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Script.MaxPool < 1 || c.Script.MaxPool < c.Script.MinPool {
		errJoin = errors.Join(errJoin, fmt.Errorf("invalid script pool bounds min=%d max=%d", c.Script.MinPool, c.Script.MaxPool))
	}
	if c.ModelCache.Size < 1 {
		errJoin = errors.Join(errJoin, fmt.Errorf("model cache size must be positive, got %d", c.ModelCache.Size))
	}
	return errJoin
}

// Dump renders the effective configuration as yaml.
func (c Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return string(out), nil
}

// InitConfig reads the file named by CONFIG_FILE (conf.yaml in the working directory by default)
// and falls back to environment variables when the file does not exist.
func InitConfig() (Config, error) {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			return c, err
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return c, fmt.Errorf("error occurred while reading the configuration: %w", err)
	}
	c = c.defaults()
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}
