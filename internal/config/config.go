// Package config loads the daemon configuration.
// Priority: defaults < YAML file < environment < command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given. A missing file there
// is not an error.
const DefaultPath = "/etc/irrigator/config.yaml"

// Config holds all daemon configuration.
type Config struct {
	Site      string        `yaml:"site"`
	Broker    string        `yaml:"broker"`
	Poll      time.Duration `yaml:"poll"`
	Heartbeat time.Duration `yaml:"heartbeat"` // 0 disables
	HTTPAddr  string        `yaml:"http"`      // empty disables
	Timezone  string        `yaml:"timezone"`

	Schedule ScheduleConfig `yaml:"schedule"`
	GPIO     GPIOConfig     `yaml:"gpio"`
}

// ScheduleConfig locates the event files.
type ScheduleConfig struct {
	Dir           string        `yaml:"dir"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// GPIOConfig maps valves to relay pins. Valve n drives Pins[n].
type GPIOConfig struct {
	Chip      string `yaml:"chip"`
	Pins      []int  `yaml:"pins"`
	ActiveLow bool   `yaml:"active_low"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Site:      "garden",
		Broker:    "tcp://192.168.1.200:1883",
		Poll:      time.Second,
		Heartbeat: 15 * time.Minute,
		HTTPAddr:  ":80",
		Timezone:  "Local",
		Schedule: ScheduleConfig{
			Dir:           "/var/lib/irrigator",
			Watch:         true,
			WatchDebounce: 500 * time.Millisecond,
		},
		GPIO: GPIOConfig{
			Chip: "gpiochip0",
			Pins: []int{5, 6, 13, 19},
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path and the
// environment. An empty path skips the file. A missing file at DefaultPath
// is ignored; anywhere else it is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if !(errors.Is(err, os.ErrNotExist) && path == DefaultPath) {
				return nil, err
			}
		}
	}
	cfg.loadEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields absent from the file keep their current values.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("IRRIGATOR_SITE"); v != "" {
		c.Site = v
	}
	if v := os.Getenv("IRRIGATOR_BROKER"); v != "" {
		c.Broker = v
	}
	if v := os.Getenv("IRRIGATOR_SCHEDULE_DIR"); v != "" {
		c.Schedule.Dir = v
	}
	if v := os.Getenv("IRRIGATOR_TZ"); v != "" {
		c.Timezone = v
	}
}

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	if c.Site == "" {
		return errors.New("site must not be empty")
	}
	if c.Poll <= 0 {
		return fmt.Errorf("poll must be positive, got %v", c.Poll)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat)
	}
	if c.Schedule.Dir == "" {
		return errors.New("schedule.dir must not be empty")
	}
	if len(c.GPIO.Pins) == 0 {
		return errors.New("gpio.pins must list at least one valve")
	}
	seen := make(map[int]int, len(c.GPIO.Pins))
	for valve, pin := range c.GPIO.Pins {
		if pin < 0 {
			return fmt.Errorf("gpio.pins[%d]: invalid pin %d", valve, pin)
		}
		if other, ok := seen[pin]; ok {
			return fmt.Errorf("gpio.pins[%d]: pin %d already used by valve %d", valve, pin, other)
		}
		seen[pin] = valve
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. Start times in event files are wall-clock
// times in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
