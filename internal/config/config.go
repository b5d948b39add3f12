package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
)

const (
	appConfDir  = "letstream"
	appConfFile = "config.toml"

	// hard ceiling on chunks per upload session, guards against
	// pathological allocation regardless of what the config asks for
	MaxTotalChunksCeiling = 10_000
)

var (
	ErrNoConfig = errors.New("config must be loaded")
)

type ServerConfig struct {
	Addr string `toml:"addr"`
	// log_level is one of debug, info, warn, error
	LogLevel            string `toml:"log_level"`
	ShutdownTimeoutSecs int    `toml:"shutdown_timeout_secs"`
	// token bucket limits for the API endpoints, stream
	// endpoints bypass this and answer to the pool caps only
	RateLimitRPS   int `toml:"rate_limit_rps"`
	RateLimitBurst int `toml:"rate_limit_burst"`
}

// SizeTier maps resources of at least MinSize to a response chunk size.
// Both fields take humanized byte sizes, e.g. "512 MB".
type SizeTier struct {
	MinSize string `toml:"min_size"`
	Chunk   string `toml:"chunk"`
}

type StreamConfig struct {
	// default_window sizes the provisional end of an open-ended range
	// before the tier table widens it
	DefaultWindow    string     `toml:"default_window"`
	Tiers            []SizeTier `toml:"tier"`
	MediaCacheHours  int        `toml:"media_cache_hours"`
	MediaStaleHours  int        `toml:"media_stale_hours"`
	DefaultCacheMins int        `toml:"default_cache_mins"`
}

type TokenConfig struct {
	TTLMins           int `toml:"ttl_mins"`
	SweepIntervalSecs int `toml:"sweep_interval_secs"`
}

type UploadConfig struct {
	MaxFileSize       string `toml:"max_file_size"`
	MaxChunkSize      string `toml:"max_chunk_size"`
	MaxTotalChunks    int    `toml:"max_total_chunks"`
	IdleExpiryHours   int    `toml:"idle_expiry_hours"`
	SweepIntervalSecs int    `toml:"sweep_interval_secs"`
}

type PoolConfig struct {
	MaxPerResource    int `toml:"max_per_resource"`
	MaxPerRequester   int `toml:"max_per_requester"`
	StalenessSecs     int `toml:"staleness_secs"`
	SweepIntervalSecs int `toml:"sweep_interval_secs"`
}

type ArtifactConfig struct {
	// bucket_url is a gocloud.dev blob URL, e.g. "file:///var/letstream?create_dir=true",
	// "s3://bucket" or "mem://" for tests
	BucketURL string `toml:"bucket_url"`
}

type DiscoveryConfig struct {
	Announce bool   `toml:"announce"`
	Instance string `toml:"instance"`
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Stream    StreamConfig    `toml:"stream"`
	Token     TokenConfig     `toml:"token"`
	Upload    UploadConfig    `toml:"upload"`
	Pool      PoolConfig      `toml:"pool"`
	Artifact  ArtifactConfig  `toml:"artifact"`
	Discovery DiscoveryConfig `toml:"discovery"`
}

var (
	mu     sync.Mutex
	config *Config
)

// Get returns the lastest loaded/saved config,
// if it returns ErrNoConfig, Load OR Save must be called.
func Get() (Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if config != nil {
		return *config, nil
	}
	return Config{}, ErrNoConfig
}

// Load loads the configuration from the user's config file.
// If not exists, it creates a new config file with default values.
// Invalid values are replaced with defaults and logged, a bad config
// line must not keep the server from coming up.
func Load() (Config, error) {
	f, err := getUserConfigFile()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f, err = createConfigFile()
			if err != nil {
				return Config{}, fmt.Errorf("config file not exists, creating config file: %w", err)
			}
			defer f.Close()

			var cfg Config
			if cfg, err = defaultConfig(); err != nil {
				return Config{}, fmt.Errorf("getting default config: %w", err)
			}

			if err = writeConfig(f, cfg); err != nil {
				return Config{}, fmt.Errorf("writing default config to app config file: %w", err)
			}

			mu.Lock()
			defer mu.Unlock()
			config = &cfg
			return cfg, nil
		} else {
			return Config{}, fmt.Errorf("opening config file: %w", err)
		}
	}
	defer f.Close()

	cfg, err := readConfig(f)
	if err != nil {
		return Config{}, err
	}
	cfg.normalize()
	// update config
	mu.Lock()
	defer mu.Unlock()
	config = &cfg

	return cfg, nil
}

// Save saves the configuration to the user's config file.
func Save(c Config) error {
	f, err := createConfigFile()
	if err != nil {
		return fmt.Errorf("creating/truncating config file: %w", err)
	}
	defer f.Close()
	if err = writeConfig(f, c); err != nil {
		return fmt.Errorf("writing new config to file: %w", err)
	}
	// update config
	mu.Lock()
	defer mu.Unlock()
	config = &c

	return nil
}

func defaultConfig() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Config{}, fmt.Errorf("hostname look-up: %w", err)
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	artifactDir := filepath.Join(cacheDir, appConfDir, "artifacts")
	if err = os.MkdirAll(artifactDir, 0o750); err != nil {
		return Config{}, fmt.Errorf("creating artifact folder: %w", err)
	}
	cfg := Config{
		Server: ServerConfig{
			Addr:                ":8080",
			LogLevel:            "info",
			ShutdownTimeoutSecs: 10,
			RateLimitRPS:        10,
			RateLimitBurst:      20,
		},
		Stream: StreamConfig{
			DefaultWindow:    "1 MiB",
			Tiers:            defaultTiers(),
			MediaCacheHours:  6,
			MediaStaleHours:  24,
			DefaultCacheMins: 60,
		},
		Token: TokenConfig{
			TTLMins:           10,
			SweepIntervalSecs: 60,
		},
		Upload: UploadConfig{
			MaxFileSize:       "50 GiB",
			MaxChunkSize:      "8 MiB",
			MaxTotalChunks:    MaxTotalChunksCeiling,
			IdleExpiryHours:   24,
			SweepIntervalSecs: 900,
		},
		Pool: PoolConfig{
			MaxPerResource:    6,
			MaxPerRequester:   10,
			StalenessSecs:     300,
			SweepIntervalSecs: 60,
		},
		Artifact: ArtifactConfig{
			BucketURL: "file://" + filepath.ToSlash(artifactDir) + "?create_dir=true",
		},
		Discovery: DiscoveryConfig{
			Announce: true,
			Instance: hostname,
		},
	}
	return cfg, nil
}

func defaultTiers() []SizeTier {
	return []SizeTier{
		{MinSize: "20 GiB", Chunk: "4 MiB"},
		{MinSize: "5 GiB", Chunk: "3 MiB"},
		{MinSize: "512 MiB", Chunk: "2 MiB"},
		{MinSize: "128 MiB", Chunk: "2 MiB"},
		{MinSize: "0 B", Chunk: "1 MiB"},
	}
}

// normalize replaces invalid values with defaults, logging each fallback.
func (c *Config) normalize() {
	def, err := defaultConfig()
	if err != nil { // hostname/cache dir look-ups failed, nothing sane to fall back on
		slog.Warn("config defaults unavailable, keeping file values as-is", "err", err)
		return
	}

	normSize(&c.Stream.DefaultWindow, def.Stream.DefaultWindow, "stream.default_window")
	normSize(&c.Upload.MaxFileSize, def.Upload.MaxFileSize, "upload.max_file_size")
	normSize(&c.Upload.MaxChunkSize, def.Upload.MaxChunkSize, "upload.max_chunk_size")

	normInt(&c.Server.ShutdownTimeoutSecs, def.Server.ShutdownTimeoutSecs, "server.shutdown_timeout_secs")
	normInt(&c.Server.RateLimitRPS, def.Server.RateLimitRPS, "server.rate_limit_rps")
	normInt(&c.Server.RateLimitBurst, def.Server.RateLimitBurst, "server.rate_limit_burst")
	normInt(&c.Stream.MediaCacheHours, def.Stream.MediaCacheHours, "stream.media_cache_hours")
	normInt(&c.Stream.MediaStaleHours, def.Stream.MediaStaleHours, "stream.media_stale_hours")
	normInt(&c.Stream.DefaultCacheMins, def.Stream.DefaultCacheMins, "stream.default_cache_mins")
	normInt(&c.Token.TTLMins, def.Token.TTLMins, "token.ttl_mins")
	normInt(&c.Token.SweepIntervalSecs, def.Token.SweepIntervalSecs, "token.sweep_interval_secs")
	normInt(&c.Upload.MaxTotalChunks, def.Upload.MaxTotalChunks, "upload.max_total_chunks")
	normInt(&c.Upload.IdleExpiryHours, def.Upload.IdleExpiryHours, "upload.idle_expiry_hours")
	normInt(&c.Upload.SweepIntervalSecs, def.Upload.SweepIntervalSecs, "upload.sweep_interval_secs")
	normInt(&c.Pool.MaxPerResource, def.Pool.MaxPerResource, "pool.max_per_resource")
	normInt(&c.Pool.MaxPerRequester, def.Pool.MaxPerRequester, "pool.max_per_requester")
	normInt(&c.Pool.StalenessSecs, def.Pool.StalenessSecs, "pool.staleness_secs")
	normInt(&c.Pool.SweepIntervalSecs, def.Pool.SweepIntervalSecs, "pool.sweep_interval_secs")

	if c.Upload.MaxTotalChunks > MaxTotalChunksCeiling {
		slog.Warn("config value above ceiling, clamping",
			"key", "upload.max_total_chunks", "ceiling", MaxTotalChunksCeiling)
		c.Upload.MaxTotalChunks = MaxTotalChunksCeiling
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Artifact.BucketURL == "" {
		c.Artifact.BucketURL = def.Artifact.BucketURL
	}
	if c.Discovery.Instance == "" {
		c.Discovery.Instance = def.Discovery.Instance
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		slog.Warn("config value invalid, using default",
			"key", "server.log_level", "value", c.Server.LogLevel, "default", def.Server.LogLevel)
		c.Server.LogLevel = def.Server.LogLevel
	}

	if !validTiers(c.Stream.Tiers) {
		if len(c.Stream.Tiers) > 0 {
			slog.Warn("config tier table invalid, using defaults", "key", "stream.tier")
		}
		c.Stream.Tiers = defaultTiers()
	}
}

func normSize(v *string, def, key string) {
	if _, err := humanize.ParseBytes(*v); err != nil || *v == "" {
		slog.Warn("config value invalid, using default", "key", key, "value", *v, "default", def)
		*v = def
	}
}

func normInt(v *int, def int, key string) {
	if *v <= 0 {
		slog.Warn("config value invalid, using default", "key", key, "value", *v, "default", def)
		*v = def
	}
}

// validTiers reports whether every tier row parses and chunk sizes are
// monotonic non-decreasing in min_size, the contract ChooseChunkSize relies on.
func validTiers(tiers []SizeTier) bool {
	if len(tiers) == 0 {
		return false
	}
	type row struct{ min, chunk uint64 }
	rows := make([]row, 0, len(tiers))
	for _, t := range tiers {
		minSize, err := humanize.ParseBytes(t.MinSize)
		if err != nil {
			return false
		}
		chunk, err := humanize.ParseBytes(t.Chunk)
		if err != nil || chunk == 0 {
			return false
		}
		rows = append(rows, row{minSize, chunk})
	}
	slices.SortFunc(rows, func(a, b row) int {
		switch {
		case a.min > b.min:
			return -1
		case a.min < b.min:
			return 1
		}
		return 0
	})
	for i := 1; i < len(rows); i++ {
		if rows[i].chunk > rows[i-1].chunk {
			return false
		}
	}
	return true
}

// WindowBytes returns the parsed default range window.
func (s StreamConfig) WindowBytes() uint64 {
	return sizeBytes(s.DefaultWindow)
}

// ParsedTier is a SizeTier with both sizes parsed to bytes.
type ParsedTier struct{ MinSize, Chunk uint64 }

// TierTable returns the tier rows parsed and sorted largest min_size first,
// the order ChooseChunkSize consults them in.
func (s StreamConfig) TierTable() []ParsedTier {
	rows := make([]ParsedTier, 0, len(s.Tiers))
	for _, t := range s.Tiers {
		rows = append(rows, ParsedTier{sizeBytes(t.MinSize), sizeBytes(t.Chunk)})
	}
	slices.SortFunc(rows, func(a, b ParsedTier) int {
		switch {
		case a.MinSize > b.MinSize:
			return -1
		case a.MinSize < b.MinSize:
			return 1
		}
		return 0
	})
	return rows
}

func (s StreamConfig) MediaCache() time.Duration { return time.Duration(s.MediaCacheHours) * time.Hour }
func (s StreamConfig) MediaStale() time.Duration { return time.Duration(s.MediaStaleHours) * time.Hour }
func (s StreamConfig) DefaultCache() time.Duration {
	return time.Duration(s.DefaultCacheMins) * time.Minute
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSecs) * time.Second
}

// SlogLevel maps the configured log_level to a slog.Level.
func (s ServerConfig) SlogLevel() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (t TokenConfig) TTL() time.Duration { return time.Duration(t.TTLMins) * time.Minute }
func (t TokenConfig) SweepInterval() time.Duration {
	return time.Duration(t.SweepIntervalSecs) * time.Second
}

func (u UploadConfig) MaxFileSizeBytes() uint64  { return sizeBytes(u.MaxFileSize) }
func (u UploadConfig) MaxChunkSizeBytes() uint64 { return sizeBytes(u.MaxChunkSize) }
func (u UploadConfig) IdleExpiry() time.Duration {
	return time.Duration(u.IdleExpiryHours) * time.Hour
}
func (u UploadConfig) SweepInterval() time.Duration {
	return time.Duration(u.SweepIntervalSecs) * time.Second
}

func (p PoolConfig) Staleness() time.Duration {
	return time.Duration(p.StalenessSecs) * time.Second
}
func (p PoolConfig) SweepInterval() time.Duration {
	return time.Duration(p.SweepIntervalSecs) * time.Second
}

// sizeBytes parses a humanized size, normalize guarantees parseable values
// for loaded configs, hand-built ones get a zero on garbage.
func sizeBytes(s string) uint64 {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return n
}

func getUserConfigFile() (*os.File, error) {
	cfgPath, err := GetDir()
	if err != nil {
		return nil, err
	}
	cfgPath = filepath.Join(cfgPath, appConfFile)
	var f *os.File
	if f, err = os.Open(cfgPath); err != nil {
		return nil, fmt.Errorf("opening app config file: %w", err)
	}
	return f, nil
}

func createConfigFile() (*os.File, error) {
	cfgPath, err := GetDir()
	if err != nil {
		return nil, err
	}
	cfgPath = filepath.Join(cfgPath, appConfFile)
	f, err := os.Create(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("creating app config file: %w", err)
	}
	return f, nil
}

func readConfig(r io.Reader) (Config, error) {
	cfg := new(Config)
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config file: %w", err)
	}
	return *cfg, nil
}

func writeConfig(w io.Writer, c Config) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("encoding config file: %w", err)
	}
	return nil
}
