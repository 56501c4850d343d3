// Package config loads the parameters of a simulation run.
//
// Values are resolved in this order, later sources winning: struct defaults,
// a .env file, INTERSIM_* environment variables, an optional YAML scenario
// file and finally command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sarchlab/intersim/sim"
)

// EnvPrefix is the prefix of all environment variables.
const EnvPrefix = "INTERSIM"

// Config holds all the parameters of a run.
type Config struct {
	// Ticks a green phase lasts.
	GreenDuration int `envconfig:"GREEN" default:"5" yaml:"green_duration"`
	// Ticks a yellow phase lasts.
	YellowDuration int `envconfig:"YELLOW" default:"2" yaml:"yellow_duration"`
	// Vehicles that may leave one green lane per tick.
	CapacityPerTick int `envconfig:"CAPACITY" default:"2" yaml:"capacity_per_tick"`
	// Chance that a vehicle arrives at a lane in a tick.
	ArrivalProbability float64 `envconfig:"ARRIVAL_PROBABILITY" default:"0.6" yaml:"arrival_probability"`
	// Wall-clock pause between ticks when a runner drives the engine.
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"300ms" yaml:"tick_interval"`
	// Completed cycles after which a run is done. Zero means run TotalTicks.
	MinCycles int `envconfig:"MIN_CYCLES" default:"10" yaml:"min_cycles"`
	// Tick budget used when MinCycles is zero.
	TotalTicks int `envconfig:"TOTAL_TICKS" default:"100" yaml:"total_ticks"`
	// Seed of the arrival generator.
	Seed int64 `envconfig:"SEED" default:"1" yaml:"seed"`
	// Execution model, "shared" or "isolated".
	Engine string `envconfig:"ENGINE" default:"shared" yaml:"engine"`

	Timeouts TimeoutConfig `envconfig:"TIMEOUT" yaml:"timeouts"`
	Monitor  MonitorConfig `envconfig:"MONITOR" yaml:"monitor"`
	Logging  LogConfig     `envconfig:"LOG" yaml:"logging"`
}

// TimeoutConfig bounds every wait of the engines.
type TimeoutConfig struct {
	// Longest the coordinator waits on a barrier.
	Barrier time.Duration `envconfig:"BARRIER" default:"2s" yaml:"barrier"`
	// Longest the coordinator waits for the responses of one request round.
	Response time.Duration `envconfig:"RESPONSE" default:"2s" yaml:"response"`
	// How often an idle worker wakes up to check whether it should exit.
	WorkerPoll time.Duration `envconfig:"WORKER_POLL" default:"1s" yaml:"worker_poll"`
	// How long Stop waits for workers before abandoning them.
	StopGrace time.Duration `envconfig:"STOP_GRACE" default:"2s" yaml:"stop_grace"`
}

// MonitorConfig controls the monitoring server.
type MonitorConfig struct {
	Enabled     bool `envconfig:"ENABLED" default:"false" yaml:"enabled"`
	Port        int  `envconfig:"PORT" default:"0" yaml:"port"`
	OpenBrowser bool `envconfig:"OPEN_BROWSER" default:"false" yaml:"open_browser"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"DEV" default:"false" yaml:"development"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		GreenDuration:      5,
		YellowDuration:     2,
		CapacityPerTick:    2,
		ArrivalProbability: 0.6,
		TickInterval:       300 * time.Millisecond,
		MinCycles:          10,
		TotalTicks:         100,
		Seed:               1,
		Engine:             "shared",
		Timeouts: TimeoutConfig{
			Barrier:    2 * time.Second,
			Response:   2 * time.Second,
			WorkerPoll: time.Second,
			StopGrace:  2 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the .env file at envFile (if it exists) and the environment, then
// applies the scenario file if scenarioFile is not empty.
func Load(envFile, scenarioFile string) (Config, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	if scenarioFile != "" {
		if err := cfg.ApplyScenarioFile(scenarioFile); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// ApplyScenarioFile overrides the fields present in a YAML scenario file.
func (c *Config) ApplyScenarioFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read scenario %s: %w", path, err)
	}

	return c.ApplyScenario(data)
}

// ApplyScenario overrides the fields present in a YAML document.
func (c *Config) ApplyScenario(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse scenario: %w", err)
	}

	return nil
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error

	if c.GreenDuration < 1 {
		errs = append(errs, fmt.Errorf("green duration must be at least 1 tick, got %d", c.GreenDuration))
	}

	if c.YellowDuration < 1 {
		errs = append(errs, fmt.Errorf("yellow duration must be at least 1 tick, got %d", c.YellowDuration))
	}

	if c.CapacityPerTick < 0 {
		errs = append(errs, fmt.Errorf("capacity per tick must not be negative, got %d", c.CapacityPerTick))
	}

	if c.ArrivalProbability < 0 || c.ArrivalProbability > 1 {
		errs = append(errs, fmt.Errorf("arrival probability must be within [0, 1], got %g", c.ArrivalProbability))
	}

	if c.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("tick interval must not be negative, got %s", c.TickInterval))
	}

	if c.MinCycles < 0 || c.TotalTicks < 0 {
		errs = append(errs, errors.New("min cycles and total ticks must not be negative"))
	}

	if c.MinCycles == 0 && c.TotalTicks == 0 {
		errs = append(errs, errors.New("either min cycles or total ticks must be set"))
	}

	if c.Engine != "shared" && c.Engine != "isolated" {
		errs = append(errs, fmt.Errorf("engine must be shared or isolated, got %q", c.Engine))
	}

	if c.Timeouts.Barrier <= 0 || c.Timeouts.Response <= 0 ||
		c.Timeouts.WorkerPoll <= 0 || c.Timeouts.StopGrace <= 0 {
		errs = append(errs, errors.New("all timeouts must be positive"))
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		errs = append(errs, fmt.Errorf("monitor port out of range: %d", c.Monitor.Port))
	}

	return errors.Join(errs...)
}

// CycleLength returns the number of ticks of one full phase rotation.
func (c Config) CycleLength() int {
	return 2 * (c.GreenDuration + c.YellowDuration)
}

// Echo returns the part of the configuration that snapshots repeat.
func (c Config) Echo() sim.ConfigEcho {
	return sim.ConfigEcho{
		GreenDuration:      c.GreenDuration,
		YellowDuration:     c.YellowDuration,
		CapacityPerTick:    c.CapacityPerTick,
		ArrivalProbability: c.ArrivalProbability,
		TickInterval:       c.TickInterval,
		MinCycles:          c.MinCycles,
		Seed:               c.Seed,
	}
}
