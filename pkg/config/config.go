package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vrischmann/envconfig"

	"github.com/cuemby/burrow/pkg/types"
)

// Platform backends
const (
	PlatformAWS    = "aws"
	PlatformDocker = "docker"
	PlatformMemory = "memory"
)

// State store backends
const (
	StateNone = "none"
	StateBolt = "bolt"
	StateEtcd = "etcd"
)

// Config is the process configuration, resolved once from the environment
type Config struct {
	Cluster         string `envconfig:"CLUSTER,default=minecraft"`
	Service         string `envconfig:"SERVICE,default=minecraft-server"`
	ServerName      string `envconfig:"SERVERNAME,optional"`
	HostnamePattern string `envconfig:"HOSTNAME_PATTERN,optional"`
	LogGroup        string `envconfig:"LOG_GROUP,optional"`
	AllocationID    string `envconfig:"EIP,optional"`
	Region          string `envconfig:"AWS_REGION,default=us-east-1"`

	Platform      string   `envconfig:"PLATFORM,default=aws"`
	StateBackend  string   `envconfig:"STATE_BACKEND,default=none"`
	DataDir       string   `envconfig:"DATA_DIR,default=/var/lib/burrow"`
	EtcdEndpoints []string `envconfig:"ETCD_ENDPOINTS,optional"`
	EtcdPrefix    string   `envconfig:"ETCD_PREFIX,default=/burrow"`
	WorkloadFile  string   `envconfig:"WORKLOAD_FILE,optional"`

	LogLevel   string `envconfig:"LOG_LEVEL,default=info"`
	LogJSON    bool   `envconfig:"LOG_JSON,default=false"`
	ListenAddr string `envconfig:"LISTEN_ADDR,default=:8080"`

	DNSListen   string `envconfig:"DNS_LISTEN,optional"`
	DNSAnswerIP string `envconfig:"DNS_ANSWER_IP,optional"`
	DNSUpstream string `envconfig:"DNS_UPSTREAM,optional"`

	StartupMinutes   int           `envconfig:"STARTUPMIN,default=10"`
	ShutdownMinutes  int           `envconfig:"SHUTDOWNMIN,default=20"`
	WatchdogInterval time.Duration `envconfig:"WATCHDOG_INTERVAL,default=30s"`
	GamePort         int           `envconfig:"GAME_PORT,default=19132"`
	GameProtocol     string        `envconfig:"GAME_PROTOCOL,default=udp"`
	ProcRoot         string        `envconfig:"PROC_ROOT,default=/proc"`

	SampleInterval time.Duration `envconfig:"SAMPLE_INTERVAL,default=15s"`
	ResyncInterval time.Duration `envconfig:"RESYNC_INTERVAL,default=1m"`
}

// Load reads an optional .env file (never overriding the real environment)
// and then the environment itself
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Init(cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations and cross-field requirements
func (c *Config) Validate() error {
	if err := c.Workload().Validate(); err != nil {
		return err
	}

	switch c.Platform {
	case PlatformAWS, PlatformDocker, PlatformMemory:
	default:
		return fmt.Errorf("unknown platform %q (want aws, docker or memory)", c.Platform)
	}

	switch c.StateBackend {
	case StateNone, StateBolt:
	case StateEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return fmt.Errorf("ETCD_ENDPOINTS is required for the etcd state backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q (want none, bolt or etcd)", c.StateBackend)
	}

	if c.StartupMinutes <= 0 || c.ShutdownMinutes <= 0 {
		return fmt.Errorf("watchdog windows must be positive (STARTUPMIN=%d, SHUTDOWNMIN=%d)", c.StartupMinutes, c.ShutdownMinutes)
	}

	for name, d := range map[string]time.Duration{
		"WATCHDOG_INTERVAL": c.WatchdogInterval,
		"SAMPLE_INTERVAL":   c.SampleInterval,
		"RESYNC_INTERVAL":   c.ResyncInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	switch strings.ToLower(c.GameProtocol) {
	case "tcp", "udp":
	default:
		return fmt.Errorf("unknown game protocol %q (want tcp or udp)", c.GameProtocol)
	}

	if c.DNSListen != "" && c.DNSAnswerIP == "" {
		return fmt.Errorf("DNS_ANSWER_IP is required when DNS_LISTEN is set")
	}
	return nil
}

// Workload returns the managed workload identity
func (c *Config) Workload() types.Workload {
	return types.Workload{Cluster: c.Cluster, Service: c.Service}
}

// Hostname returns the hostname demand signals are matched against.
// HOSTNAME_PATTERN wins over SERVERNAME.
func (c *Config) Hostname() string {
	if c.HostnamePattern != "" {
		return c.HostnamePattern
	}
	return c.ServerName
}

// GuardEnabled reports whether a lifecycle state store is configured
func (c *Config) GuardEnabled() bool {
	return c.StateBackend != StateNone
}

// StartupWindow is how long the watchdog waits for the first connection
func (c *Config) StartupWindow() time.Duration {
	return time.Duration(c.StartupMinutes) * time.Minute
}

// ShutdownWindow is how long the server may stay idle after the last connection
func (c *Config) ShutdownWindow() time.Duration {
	return time.Duration(c.ShutdownMinutes) * time.Minute
}

// Actor identifies this process in lifecycle records
func Actor(component string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return component
	}
	return component + "@" + host
}
