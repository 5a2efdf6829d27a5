// Package config assembles the screencast-runner configuration from
// defaults, an optional YAML file, and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/screencast-runner/pkg/encoder"
)

// Store providers.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is built once at the boundary and handed to the core as a value.
type Config struct {
	Browser   BrowserConfig     `yaml:"browser"`
	Recording RecordingConfig   `yaml:"recording"`
	Gif       GifConfig         `yaml:"gif"`
	Server    ServerConfig      `yaml:"server"`
	Store     StoreConfig       `yaml:"store"`
	Tools     ToolsConfig       `yaml:"tools"`
	Log       LogConfig         `yaml:"log"`
	Env       map[string]string `yaml:"env"` // Default variables for flow expansion
}

// BrowserConfig controls the browser session.
type BrowserConfig struct {
	Headless    bool   `yaml:"headless"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	UserAgent   string `yaml:"userAgent"`
	ChromePath  string `yaml:"chromePath"`
	NoSandbox   bool   `yaml:"noSandbox"`   // Required inside most containers
	PageLogging bool   `yaml:"pageLogging"` // Forward console and page errors to the log
}

// RecordingConfig controls pacing and timeouts. Durations are milliseconds.
type RecordingConfig struct {
	OutputDir           string `yaml:"outputDir"`
	StepDelayMs         int    `yaml:"stepDelayMs"`
	NavigationSettleMs  int    `yaml:"navigationSettleMs"`
	TrailingSettleMs    int    `yaml:"trailingSettleMs"`
	LocatorTimeoutMs    int    `yaml:"locatorTimeoutMs"`
	NavigationTimeoutMs int    `yaml:"navigationTimeoutMs"`
	CaptureFPS          int    `yaml:"captureFps"`
}

// GifConfig holds the default encoding options.
type GifConfig struct {
	FPS     int    `yaml:"fps"`
	Scale   string `yaml:"scale"`
	Quality string `yaml:"quality"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port             int `yaml:"port"`
	RequestTimeoutMs int `yaml:"requestTimeoutMs"`
	MaxConcurrent    int `yaml:"maxConcurrent"`
}

// StoreConfig selects the flow repository.
type StoreConfig struct {
	Provider  string `yaml:"provider"` // file, memory or redis
	FlowsFile string `yaml:"flowsFile"`
	RedisURL  string `yaml:"redisUrl"`
}

// ToolsConfig locates external binaries.
type ToolsConfig struct {
	FFmpegPath  string `yaml:"ffmpegPath"`
	FFprobePath string `yaml:"ffprobePath"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Browser: BrowserConfig{
			Headless: true,
			Width:    1920,
			Height:   1080,
		},
		Recording: RecordingConfig{
			OutputDir:           GetRecordingsDir(),
			StepDelayMs:         1000,
			NavigationSettleMs:  2000,
			TrailingSettleMs:    2000,
			LocatorTimeoutMs:    10000,
			NavigationTimeoutMs: 30000,
			CaptureFPS:          25,
		},
		Gif: GifConfig{
			FPS:     10,
			Scale:   "800:-1",
			Quality: string(encoder.QualityMedium),
		},
		Server: ServerConfig{
			Port:             8080,
			RequestTimeoutMs: 300000,
			MaxConcurrent:    2,
		},
		Store: StoreConfig{
			Provider:  StoreFile,
			FlowsFile: GetFlowsFile(),
		},
		Tools: ToolsConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load overlays the YAML file at path on base.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return base, err
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
// A missing file leaves base unchanged.
func LoadFromDir(dir string, base Config) (Config, error) {
	for _, name := range []string{"config.yaml", "config.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath, base)
		}
	}
	return base, nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnv overlays environment variables on base. lookup is normally
// os.LookupEnv.
func FromEnv(base Config, lookup func(string) (string, bool)) (Config, error) {
	cfg := base
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a number", key, v))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
			return
		}
		*dst = b
	}

	flag("HEADLESS_MODE", &cfg.Browser.Headless)
	num("DEFAULT_VIEWPORT_WIDTH", &cfg.Browser.Width)
	num("DEFAULT_VIEWPORT_HEIGHT", &cfg.Browser.Height)
	str("USER_AGENT", &cfg.Browser.UserAgent)
	str("CHROME_PATH", &cfg.Browser.ChromePath)
	if v, ok := lookup("DOCKER_ENV"); ok && v != "" && v != "0" && !strings.EqualFold(v, "false") {
		cfg.Browser.NoSandbox = true
	}

	str("OUTPUT_DIR", &cfg.Recording.OutputDir)
	num("DEFAULT_STEP_DELAY", &cfg.Recording.StepDelayMs)

	str("GIF_QUALITY", &cfg.Gif.Quality)
	num("GIF_FPS", &cfg.Gif.FPS)
	str("GIF_SCALE", &cfg.Gif.Scale)

	num("PORT", &cfg.Server.Port)
	num("REQUEST_TIMEOUT", &cfg.Server.RequestTimeoutMs)
	num("MAX_CONCURRENT_RECORDINGS", &cfg.Server.MaxConcurrent)

	str("FLOW_STORE", &cfg.Store.Provider)
	str("FLOWS_FILE", &cfg.Store.FlowsFile)
	str("REDIS_URL", &cfg.Store.RedisURL)

	str("FFMPEG_PATH", &cfg.Tools.FFmpegPath)
	str("FFPROBE_PATH", &cfg.Tools.FFprobePath)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)
	flag("LOG_JSON", &cfg.Log.JSON)

	return cfg, errors.Join(errs...)
}

// Validate checks the configuration before anything is started.
func (c Config) Validate() error {
	var errs []error

	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive, got %dx%d", c.Browser.Width, c.Browser.Height))
	}
	if c.Recording.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Recording.StepDelayMs < 0 || c.Recording.NavigationSettleMs < 0 || c.Recording.TrailingSettleMs < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if c.Recording.LocatorTimeoutMs <= 0 || c.Recording.NavigationTimeoutMs <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Recording.CaptureFPS <= 0 {
		errs = append(errs, fmt.Errorf("capture fps must be positive, got %d", c.Recording.CaptureFPS))
	}
	if err := c.GifOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gif: %w", err))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	if c.Server.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent recordings must be positive, got %d", c.Server.MaxConcurrent))
	}
	if c.Server.RequestTimeoutMs <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	switch c.Store.Provider {
	case StoreFile:
		if c.Store.FlowsFile == "" {
			errs = append(errs, errors.New("flows file is required for the file store"))
		}
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("redis url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown flow store %q", c.Store.Provider))
	}

	return errors.Join(errs...)
}

// GifOptions returns the default encoding options.
func (c Config) GifOptions() encoder.Options {
	return encoder.Options{
		FPS:     c.Gif.FPS,
		Scale:   c.Gif.Scale,
		Quality: encoder.Quality(strings.ToLower(c.Gif.Quality)),
	}
}

// StepDelay returns the default inter-step delay.
func (c Config) StepDelay() time.Duration { return ms(c.Recording.StepDelayMs) }

// NavigationSettle returns the pause after the first page load.
func (c Config) NavigationSettle() time.Duration { return ms(c.Recording.NavigationSettleMs) }

// TrailingSettle returns the pause before capture stops.
func (c Config) TrailingSettle() time.Duration { return ms(c.Recording.TrailingSettleMs) }

// LocatorTimeout returns the element wait bound.
func (c Config) LocatorTimeout() time.Duration { return ms(c.Recording.LocatorTimeoutMs) }

// NavigationTimeout returns the network idle wait bound.
func (c Config) NavigationTimeout() time.Duration { return ms(c.Recording.NavigationTimeoutMs) }

// RequestTimeout returns the ceiling for one API recording request.
func (c Config) RequestTimeout() time.Duration { return ms(c.Server.RequestTimeoutMs) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
