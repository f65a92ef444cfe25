// Package config loads VoltMap configuration from an optional YAML file overlaid with
// environment variables.
//
// Every field maps to an environment variable built from the VOLTMAP prefix and the
// field path, e.g. Feed.URL is VOLTMAP_FEED_URL. An `env` tag replaces the field name
// in the key; `env:"-"` skips the field.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voltmap/voltmap/internal/station"
)

// PathEnv names the variable holding the YAML file path.
const PathEnv = "VOLTMAP_CONFIG"

const envPrefix = "VOLTMAP"

// Scan modes.
const (
	ScanModeAny       = "any"
	ScanModeChallenge = "challenge"
)

// Geolocation modes.
const (
	GeolocationFallback = "fallback"
	GeolocationStatic   = "static"
	GeolocationPlace    = "place"
)

// Config is the full client configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	App         AppConfig         `yaml:"app"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"OTEL"`
	Map         MapConfig         `yaml:"map"`
	Directions  DirectionsConfig  `yaml:"directions"`
	Feed        FeedConfig        `yaml:"feed"`
	Scan        ScanConfig        `yaml:"scan"`
	Geolocation GeolocationConfig `yaml:"geolocation"`
}

// HTTPConfig configures the local shell bridge.
type HTTPConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// RateLimit is requests per minute per client IP.
	RateLimit int `yaml:"rate_limit" env:"RATE_LIMIT"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// MapConfig configures the initial map region.
type MapConfig struct {
	FallbackLat float64 `yaml:"fallback_lat" env:"FALLBACK_LAT"`
	FallbackLng float64 `yaml:"fallback_lng" env:"FALLBACK_LNG"`
	Zoom        int     `yaml:"zoom"`
}

// Fallback returns the fallback region as a coordinate.
func (m MapConfig) Fallback() station.Coordinate {
	return station.Coordinate{Lat: m.FallbackLat, Lng: m.FallbackLng}
}

type DirectionsConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

// FeedConfig selects the station source. With neither URL nor File set the built-in demo
// stations are used.
type FeedConfig struct {
	URL             string        `yaml:"url"`
	File            string        `yaml:"file"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      uint64        `yaml:"max_retries" env:"MAX_RETRIES"`
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`
}

// ScanConfig selects how scanned payloads are authorized.
type ScanConfig struct {
	Mode         string        `yaml:"mode"`
	Secret       string        `yaml:"secret"`
	ChallengeTTL time.Duration `yaml:"challenge_ttl" env:"CHALLENGE_TTL"`
}

// GeolocationConfig selects how the device position is resolved.
type GeolocationConfig struct {
	Mode   string  `yaml:"mode"`
	Lat    float64 `yaml:"lat"`
	Lng    float64 `yaml:"lng"`
	Place  string  `yaml:"place"`
	Server string  `yaml:"server"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimit:    300,
		},
		App: AppConfig{
			Env:      "development",
			LogLevel: "info",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			SampleRatio: 1,
		},
		Map: MapConfig{
			FallbackLat: 25.7617,
			FallbackLng: -80.1918,
			Zoom:        13,
		},
		Directions: DirectionsConfig{
			BaseURL: "https://www.google.com/maps",
		},
		Feed: FeedConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			CacheTTL:   5 * time.Minute,
		},
		Scan: ScanConfig{
			Mode:         ScanModeAny,
			ChallengeTTL: 10 * time.Minute,
		},
		Geolocation: GeolocationConfig{
			Mode:   GeolocationFallback,
			Server: "https://nominatim.openstreetmap.org",
		},
	}
}

// Load builds the configuration: defaults, then the file named by VOLTMAP_CONFIG if set,
// then environment variables. The result is validated.
func Load() (Config, error) {
	return LoadFile(os.Getenv(PathEnv))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode yaml: %w", err)
		}
	}

	if err := populateFromEnv(reflect.ValueOf(&cfg).Elem(), envPrefix); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.HTTP.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("http.port: invalid port %q", c.HTTP.Port))
	}
	if c.HTTP.RateLimit <= 0 {
		errs = append(errs, errors.New("http.rate_limit: must be positive"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio: must be between 0 and 1"))
	}
	if !c.Map.Fallback().Valid() {
		errs = append(errs, errors.New("map: fallback coordinate out of range"))
	}
	if c.Map.Zoom < 1 || c.Map.Zoom > 20 {
		errs = append(errs, errors.New("map.zoom: must be between 1 and 20"))
	}
	if c.Feed.URL != "" && c.Feed.File != "" {
		errs = append(errs, errors.New("feed: url and file are mutually exclusive"))
	}

	switch c.Scan.Mode {
	case ScanModeAny:
	case ScanModeChallenge:
		if len(c.Scan.Secret) < 32 {
			errs = append(errs, errors.New("scan.secret: must be at least 32 bytes in challenge mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("scan.mode: unknown mode %q", c.Scan.Mode))
	}

	switch c.Geolocation.Mode {
	case GeolocationFallback:
	case GeolocationStatic:
		if !(station.Coordinate{Lat: c.Geolocation.Lat, Lng: c.Geolocation.Lng}).Valid() {
			errs = append(errs, errors.New("geolocation: static coordinate out of range"))
		}
	case GeolocationPlace:
		if strings.TrimSpace(c.Geolocation.Place) == "" {
			errs = append(errs, errors.New("geolocation.place: required in place mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("geolocation.mode: unknown mode %q", c.Geolocation.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func populateFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		fieldVal := v.Field(i)
		fieldType := t.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		name := fieldType.Tag.Get("env")
		if name == "-" {
			continue
		}
		if name == "" {
			name = fieldType.Name
		}
		envKey := normalizeKey(prefix, name)

		if fieldVal.Kind() == reflect.Struct {
			if err := populateFromEnv(fieldVal, envKey); err != nil {
				return err
			}
			continue
		}

		if val, ok := os.LookupEnv(envKey); ok {
			if err := assign(fieldVal, val); err != nil {
				return fmt.Errorf("config: parse %s: %w", envKey, err)
			}
		}
	}
	return nil
}

func normalizeKey(prefix, key string) string {
	key = strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

var durationType = reflect.TypeOf(time.Duration(0))

func assign(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(parsed)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(parsed)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsed, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(parsed)
	case reflect.Float32, reflect.Float64:
		parsed, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(parsed)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type().String())
	}
	return nil
}
