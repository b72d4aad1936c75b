// Package config loads the coordinator's settings from an optional YAML
// file and the environment. Environment variables win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Setting is one configuration key forwarded to the engines, in file order.
type Setting struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Coordinator holds everything cmd/coordinator needs to start.
type Coordinator struct {
	Addr           string        `yaml:"addr"`
	Policy         string        `yaml:"policy"`
	Player         string        `yaml:"player"`
	LocalPlayer    string        `yaml:"localPlayer"`
	Book           string        `yaml:"book"`
	Settings       []Setting     `yaml:"settings"`
	BoardSize      int           `yaml:"boardSize"`
	Komi           float64       `yaml:"komi"`
	SearchTimeout  time.Duration `yaml:"searchTimeout"`
	MoveTime       time.Duration `yaml:"moveTime"`
	CallTimeout    time.Duration `yaml:"callTimeout"`
	HealthInterval time.Duration `yaml:"healthInterval"`
}

// Default returns the settings used when neither file nor environment say
// otherwise.
func Default() Coordinator {
	return Coordinator{
		Addr:           ":8080",
		Policy:         "sum",
		Player:         "montecarlo",
		BoardSize:      9,
		Komi:           7.5,
		SearchTimeout:  10 * time.Second,
		CallTimeout:    5 * time.Second,
		HealthInterval: 5 * time.Second,
	}
}

// Environment variables read by Load.
const (
	EnvFile          = "TENUKI_CONFIG"
	EnvAddr          = "COORDINATOR_ADDR"
	EnvPolicy        = "TENUKI_POLICY"
	EnvPlayer        = "TENUKI_PLAYER"
	EnvLocalPlayer   = "TENUKI_LOCAL_PLAYER"
	EnvBook          = "TENUKI_BOOK"
	EnvBoardSize     = "TENUKI_BOARD_SIZE"
	EnvKomi          = "TENUKI_KOMI"
	EnvMoveTime      = "TENUKI_MOVE_TIME_MSEC"
	EnvSearchTimeout = "TENUKI_SEARCH_TIMEOUT_MSEC"
	EnvHealth        = "TENUKI_HEALTH_INTERVAL_MSEC"
)

// Load reads the file named by TENUKI_CONFIG, if any, over the defaults and
// then applies the environment. getenv is os.Getenv outside tests.
func Load(getenv func(string) string) (Coordinator, error) {
	cfg := Default()
	if path := getenv(EnvFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes a YAML document over the defaults. Unknown fields are
// rejected.
func Parse(data []byte) (Coordinator, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Coordinator) applyEnv(getenv func(string) string) error {
	for env, dst := range map[string]*string{
		EnvAddr:        &c.Addr,
		EnvPolicy:      &c.Policy,
		EnvPlayer:      &c.Player,
		EnvLocalPlayer: &c.LocalPlayer,
		EnvBook:        &c.Book,
	} {
		if v := getenv(env); v != "" {
			*dst = v
		}
	}
	if v := getenv(EnvBoardSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvBoardSize, v, err)
		}
		c.BoardSize = n
	}
	if v := getenv(EnvKomi); v != "" {
		k, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvKomi, v, err)
		}
		c.Komi = k
	}
	for env, dst := range map[string]*time.Duration{
		EnvMoveTime:      &c.MoveTime,
		EnvSearchTimeout: &c.SearchTimeout,
		EnvHealth:        &c.HealthInterval,
	} {
		v := getenv(env)
		if v == "" {
			continue
		}
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return fmt.Errorf("%s=%q: want milliseconds", env, v)
		}
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// Validate checks ranges that the coordinator would otherwise only catch
// later.
func (c Coordinator) Validate() error {
	switch {
	case c.BoardSize < 2 || c.BoardSize > 19:
		return fmt.Errorf("board size %d out of range 2..19", c.BoardSize)
	case c.SearchTimeout <= 0:
		return errors.New("search timeout must be positive")
	case c.MoveTime < 0:
		return errors.New("move time must not be negative")
	}
	for i, s := range c.Settings {
		if s.Key == "" {
			return fmt.Errorf("setting %d has no key", i)
		}
	}
	return nil
}
