package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Token      string `env:"DISCORD_TOKEN,required"`
	APIBaseURL string `env:"DISCORD_API_URL"        envDefault:"https://discord.com/api/v10"`
	// GatewayURL skips resolving the gateway over REST when set.
	GatewayURL string `env:"GATEWAY_URL"`

	Intents        int  `env:"GATEWAY_INTENTS"  envDefault:"513"`
	LargeThreshold int  `env:"LARGE_THRESHOLD"  envDefault:"50"`
	Compress       bool `env:"GATEWAY_COMPRESS" envDefault:"true"`

	// ShardIDs empty means every shard of ShardCount. ShardCount 0 uses the
	// recommended count from the gateway.
	ShardIDs   []int `env:"SHARD_IDS"   envSeparator:","`
	ShardCount int   `env:"SHARD_COUNT" envDefault:"0"`

	HeartbeatOffset time.Duration `env:"HEARTBEAT_OFFSET"   envDefault:"0s"`
	HeartbeatGrace  time.Duration `env:"HEARTBEAT_GRACE"    envDefault:"5s"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"    envDefault:"10s"`
	CloseTimeout    time.Duration `env:"CLOSE_TIMEOUT"      envDefault:"5s"`
	FlushWindow     time.Duration `env:"CLOSE_FLUSH_WINDOW" envDefault:"1s"`

	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY"     envDefault:"1s"`
	MaxReconnectDelay time.Duration `env:"MAX_RECONNECT_DELAY" envDefault:"2m"`

	// NATSURL empty disables the identify lock.
	NATSURL      string        `env:"NATS_URL"`
	LockPrefix   string        `env:"IDENTIFY_LOCK_PREFIX"   envDefault:"gateway.identify"`
	MainLock     string        `env:"IDENTIFY_MAIN_LOCK"     envDefault:"main"`
	MainLockTTL  time.Duration `env:"IDENTIFY_MAIN_LOCK_TTL" envDefault:"5s"`
	Locks        []string      `env:"IDENTIFY_LOCKS"         envSeparator:","`
	LockTTL      time.Duration `env:"IDENTIFY_LOCK_TTL"      envDefault:"30s"`
	LockTimeout  time.Duration `env:"IDENTIFY_LOCK_TIMEOUT"  envDefault:"2m"`
	LockFallback bool          `env:"IDENTIFY_LOCK_FALLBACK" envDefault:"false"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	// TraceExporter is "none" or "stdout".
	TraceExporter string `env:"TRACE_EXPORTER" envDefault:"none"`
}

// Load reads the given .env files (".env" when none are given) and then the
// process environment, which wins over the files. Missing files are skipped.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	vars := make(map[string]string)
	for _, file := range files {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("error loading %s: %w", file, err)
		}
		for k, v := range values {
			vars[k] = v
		}
	}
	for k, v := range env.ToMap(os.Environ()) {
		vars[k] = v
	}

	return Parse(vars)
}

// Parse decodes vars and validates the result.
func Parse(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("could not parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Token) == "" {
		errs = append(errs, errors.New("DISCORD_TOKEN cannot be empty"))
	}
	if c.ShardCount < 0 {
		errs = append(errs, errors.New("SHARD_COUNT must be >= 0"))
	}
	for _, id := range c.ShardIDs {
		if id < 0 {
			errs = append(errs, fmt.Errorf("shard id %d must be >= 0", id))
		}
		if c.ShardCount > 0 && id >= c.ShardCount {
			errs = append(errs, fmt.Errorf("shard id (%d) must be < SHARD_COUNT (%d)", id, c.ShardCount))
		}
	}
	if len(c.ShardIDs) > 0 && c.ShardCount == 0 {
		errs = append(errs, errors.New("SHARD_IDS requires SHARD_COUNT"))
	}
	if c.LargeThreshold < 50 || c.LargeThreshold > 250 {
		errs = append(errs, fmt.Errorf("LARGE_THRESHOLD (%d) must be between 50 and 250", c.LargeThreshold))
	}

	if c.HeartbeatOffset < 0 {
		errs = append(errs, errors.New("HEARTBEAT_OFFSET must be >= 0"))
	}
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"HEARTBEAT_GRACE", c.HeartbeatGrace},
		{"CONNECT_TIMEOUT", c.ConnectTimeout},
		{"CLOSE_TIMEOUT", c.CloseTimeout},
		{"RECONNECT_DELAY", c.ReconnectDelay},
		{"IDENTIFY_LOCK_TIMEOUT", c.LockTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", p.name))
		}
	}
	if c.FlushWindow < 0 {
		errs = append(errs, errors.New("CLOSE_FLUSH_WINDOW must be >= 0"))
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		errs = append(errs, fmt.Errorf("MAX_RECONNECT_DELAY (%s) must be >= RECONNECT_DELAY (%s)",
			c.MaxReconnectDelay, c.ReconnectDelay))
	}

	if c.NATSURL != "" && !strings.HasPrefix(c.NATSURL, "nats://") && !strings.HasPrefix(c.NATSURL, "tls://") {
		errs = append(errs, fmt.Errorf("NATS_URL has invalid scheme (must be one of: nats://, tls://): %s", c.NATSURL))
	}
	if c.NATSURL != "" && (c.LockTTL <= 0 || c.MainLockTTL <= 0) {
		errs = append(errs, errors.New("identify lock TTLs must be > 0"))
	}

	switch c.TraceExporter {
	case TraceExporterNone, TraceExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("TRACE_EXPORTER (%s) must be one of: none, stdout", c.TraceExporter))
	}

	return errors.Join(errs...)
}

// Shards returns the shard ids this process runs given the total count.
func (c *Config) Shards(count int) []int {
	if len(c.ShardIDs) > 0 {
		return c.ShardIDs
	}
	ids := make([]int, count)
	for i := range ids {
		ids[i] = i
	}
	return ids
}
