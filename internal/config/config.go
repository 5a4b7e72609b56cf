// Package config loads the cluster configuration from flags, environment
// variables and an optional .env file.
//
// Precedence, highest first: explicitly set flag, environment variable,
// .env entry (never overrides a real environment variable), flag default.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultPort         = 4000
	DefaultWorkerHost   = "127.0.0.1"
	DefaultStoreTimeout = 5 * time.Second

	// EnvWorkerPort carries the slot port from the coordinator to a spawned worker.
	EnvWorkerPort = "WORKER_PORT"

	maxPort = 65535
)

// Config is the coordinator (and standalone) configuration.
type Config struct {
	Port          int           // public port of the load balancer
	Workers       int           // number of worker slots
	WorkerHost    string        // host workers bind to and the balancer dials
	StoreTimeout  time.Duration // store access protocol round-trip timeout
	MetricsListen string        // metrics listen address, empty disables it
	Debug         bool
}

// WorkerConfig is the configuration of a spawned worker process.
type WorkerConfig struct {
	Port         int
	Host         string
	StoreTimeout time.Duration
	Debug        bool
}

// DefaultWorkers returns the available parallelism minus one, at least 1.
// One CPU is left to the coordinator.
func DefaultWorkers() int {
	return max(runtime.GOMAXPROCS(0)-1, 1)
}

// BindFlags registers the coordinator flags.
func BindFlags(fs *pflag.FlagSet) {
	fs.Int("port", DefaultPort, "public port of the load balancer")
	fs.Int("workers", DefaultWorkers(), "number of worker processes")
	fs.String("metrics-listen", "", "listen address of the metrics endpoint, e.g. :9100 (disabled if empty)")
	BindWorkerFlags(fs)
}

// BindWorkerFlags registers the flags shared by the coordinator and its workers.
func BindWorkerFlags(fs *pflag.FlagSet) {
	fs.String("worker-host", DefaultWorkerHost, "host the worker processes bind to")
	fs.Duration("store-timeout", DefaultStoreTimeout, "timeout of a store request sent by a worker")
	fs.Bool("debug", false, "enable debug logging")
}

// Load reads the coordinator configuration.
func Load(fs *pflag.FlagSet) (Config, error) {
	v, err := newViper(fs)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:          v.GetInt("port"),
		Workers:       v.GetInt("workers"),
		WorkerHost:    v.GetString("worker-host"),
		StoreTimeout:  v.GetDuration("store-timeout"),
		MetricsListen: v.GetString("metrics-listen"),
		Debug:         v.GetBool("debug"),
	}
	return cfg, cfg.Validate()
}

// LoadWorker reads the configuration of a spawned worker.
// The port comes from the WORKER_PORT environment variable set by the coordinator.
func LoadWorker(fs *pflag.FlagSet) (WorkerConfig, error) {
	v, err := newViper(fs)
	if err != nil {
		return WorkerConfig{}, err
	}

	raw := os.Getenv(EnvWorkerPort)
	if raw == "" {
		return WorkerConfig{}, fmt.Errorf("missing env %s", EnvWorkerPort)
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("invalid %s %q: %w", EnvWorkerPort, raw, err)
	}

	cfg := WorkerConfig{
		Port:         port,
		Host:         v.GetString("worker-host"),
		StoreTimeout: v.GetDuration("store-timeout"),
		Debug:        v.GetBool("debug"),
	}
	return cfg, cfg.Validate()
}

// LoadDotEnv loads environment variables from the given files.
// Missing files are skipped; variables already present in the environment win.
// It returns the files actually loaded.
func LoadDotEnv(files ...string) ([]string, error) {
	var loaded []string
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return loaded, fmt.Errorf("cannot load env file %q: %w", file, err)
		}
		loaded = append(loaded, file)
	}
	return loaded, nil
}

func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("cannot bind flags: %w", err)
	}
	return v, nil
}

// Validate checks the port range and timeouts.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > maxPort {
		return fmt.Errorf("port %d out of range 1-%d", c.Port, maxPort)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Port+c.Workers > maxPort {
		return fmt.Errorf("worker ports %d-%d exceed %d", c.Port+1, c.Port+c.Workers, maxPort)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive, got %s", c.StoreTimeout)
	}
	return nil
}

// WorkerPorts returns the contiguous slot ports [Port+1, Port+Workers].
func (c Config) WorkerPorts() []int {
	ports := make([]int, c.Workers)
	for i := range ports {
		ports[i] = c.Port + i + 1
	}
	return ports
}

// ListenAddr is the address of the public listener.
func (c Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// WorkerArgs returns the flags a spawned worker needs to share this configuration.
func (c Config) WorkerArgs() []string {
	return []string{
		"--worker-host=" + c.WorkerHost,
		"--store-timeout=" + c.StoreTimeout.String(),
		"--debug=" + strconv.FormatBool(c.Debug),
	}
}

// Validate checks the worker port and timeout.
func (c WorkerConfig) Validate() error {
	if c.Port < 1 || c.Port > maxPort {
		return fmt.Errorf("worker port %d out of range 1-%d", c.Port, maxPort)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive, got %s", c.StoreTimeout)
	}
	return nil
}

// ListenAddr is the address the worker's HTTP server binds to.
func (c WorkerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
