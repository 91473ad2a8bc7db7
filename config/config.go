package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Authentication modes.
const (
	ModePrivate   = "private"
	ModeUnprivate = "unprivate"
	ModePublic    = "public"
)

const (
	minRetention     = time.Minute
	minSweepInterval = 10 * time.Second
)

type Config struct {
	FFBin                      string        `mapstructure:"FFMPEG_PATH"`
	FFGlobalArgs               string        `mapstructure:"FF_GLOBAL_ARGS"`
	YTDLPBin                   string        `mapstructure:"YTDLP_BIN"`
	TaskRetentionMinutes       int           `mapstructure:"TASK_RETENTION_MINUTES"`
	TaskCleanupIntervalSeconds int           `mapstructure:"TASK_CLEANUP_INTERVAL_SECONDS"`
	MaxConcurrency             int           `mapstructure:"MAX_CONCURRENCY"`
	QueueSize                  int           `mapstructure:"QUEUE_SIZE"`
	ThrottleCPU                float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem            int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk           int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthMode                   string        `mapstructure:"AUTH_MODE"`
	APIKeys                    []string      `mapstructure:"API_KEYS"`
	Host                       string        `mapstructure:"HOST"`
	Port                       string        `mapstructure:"PORT"`
	RateLimit                  float64       `mapstructure:"RATE_LIMIT"`
	RateBurst                  int           `mapstructure:"RATE_BURST"`
	CORSOrigins                []string      `mapstructure:"CORS_ORIGINS"`
	ShutdownTimeout            time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	TempDir                    string        `mapstructure:"TEMP_DIR"`
}

// RetentionWindow is how long finished tasks stay queryable, never less
// than a minute.
func (c *Config) RetentionWindow() time.Duration {
	return max(time.Duration(c.TaskRetentionMinutes)*time.Minute, minRetention)
}

// SweepInterval is the period of the retention sweeper, never less than ten
// seconds.
func (c *Config) SweepInterval() time.Duration {
	return max(time.Duration(c.TaskCleanupIntervalSeconds)*time.Second, minSweepInterval)
}

// ScratchDir is where merge inputs are staged.
func (c *Config) ScratchDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}

func (c *Config) Validate() error {
	switch c.AuthMode {
	case ModePrivate, ModePublic:
	case ModeUnprivate:
		if len(c.APIKeys) == 0 {
			return fmt.Errorf("AUTH_MODE %q requires at least one entry in API_KEYS", c.AuthMode)
		}
	default:
		return fmt.Errorf("invalid AUTH_MODE %q: must be one of %s, %s, %s", c.AuthMode, ModePrivate, ModeUnprivate, ModePublic)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	}
	return nil
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

// Environment names honoured without the YTDLAPI_ prefix.
var legacyEnv = []string{
	"TASK_RETENTION_MINUTES",
	"TASK_CLEANUP_INTERVAL_SECONDS",
	"FFMPEG_PATH",
}

// Integer settings that fall back to their default when the value does not
// parse, instead of failing startup.
var lenientIntDefaults = map[string]int{
	"TASK_RETENTION_MINUTES":        30,
	"TASK_CLEANUP_INTERVAL_SECONDS": 60,
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("FFMPEG_PATH", "")
	vp.SetDefault("FF_GLOBAL_ARGS", "")
	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	for key, def := range lenientIntDefaults {
		vp.SetDefault(key, def)
	}
	vp.SetDefault("MAX_CONCURRENCY", 4)
	vp.SetDefault("QUEUE_SIZE", 100)
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "100MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("AUTH_MODE", ModePrivate)
	vp.SetDefault("API_KEYS", []string{})
	vp.SetDefault("HOST", "127.0.0.1")
	vp.SetDefault("PORT", "49153")
	vp.SetDefault("RATE_LIMIT", 5.0)
	vp.SetDefault("RATE_BURST", 10)
	vp.SetDefault("CORS_ORIGINS", []string{})
	vp.SetDefault("SHUTDOWN_TIMEOUT", "5s")
	vp.SetDefault("TEMP_DIR", "")

	// Load from config file
	vp.SetConfigName("ytdlapi_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/ytdlapi/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("YTDLAPI")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	for _, key := range legacyEnv {
		if err := vp.BindEnv(key, "YTDLAPI_"+key, key); err != nil {
			return nil, err
		}
	}

	for key, def := range lenientIntDefaults {
		raw := strings.TrimSpace(vp.GetString(key))
		if _, err := strconv.Atoi(raw); err != nil {
			log.Printf("Invalid %s value %q, using default %d", key, raw, def)
			vp.Set(key, def)
		}
	}

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}

	cfg.AuthMode = strings.ToLower(strings.TrimSpace(cfg.AuthMode))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
