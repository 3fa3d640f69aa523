package config

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/i474232898/sensebox-frequency/internal/common"
	"github.com/i474232898/sensebox-frequency/internal/sensebox"
	"github.com/i474232898/sensebox-frequency/internal/sensebox/providers"
)

var validate = validator.New()

type AppConfig struct {
	AppEnv   string `validate:"oneof=dev prod"`
	LogLevel slog.Level

	// Pipeline inputs. The run command uses the first city only.
	Cities    []string              `validate:"min=1,dive,required"`
	Phenomena []sensebox.Phenomenon `validate:"min=1"`
	From      time.Time             // zero = now - 24h
	To        time.Time             // zero = now
	Limit     int                   `validate:"min=1,max=10000"`
	OutputDir string                `validate:"required"`

	// Upstream APIs.
	HTTPTimeout     time.Duration `validate:"gt=0"`
	HTTPMaxRetries  int           `validate:"min=0,max=10"`
	NominatimURL    string        `validate:"required,url"`
	OpenSenseMapURL string        `validate:"required,url"`
	UserAgent       string        `validate:"required"`

	// Serve mode scheduling. FetchCron, when set, takes precedence over FetchInterval.
	FetchInterval time.Duration
	FetchCron     string

	// Report store.
	StoreDriver     string        `validate:"oneof=memory sqlite3"`
	StoreMaxHistory int           // max number of reports per city (0 = unlimited)
	StoreMaxAge     time.Duration // max age of reports (0 = unlimited)
	SQLitePath      string

	Port string

	// MQTT publishing is disabled when MQTTBroker is empty.
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.AppEnv = getenvDefault("APP_ENV", "dev")
	level, err := parseLogLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	cities := getenvDefault("CITIES", getenvDefault("CITY", "Budapest"))
	cfg.Cities = common.SplitList(cities)
	cfg.Phenomena = parsePhenomena(getenvDefault("PHENOMENA", "Temperatur,Temperature,temperature"))
	cfg.Limit = getenvInt("RESULT_LIMIT", sensebox.DefaultLimit)
	cfg.OutputDir = getenvDefault("OUTPUT_DIR", ".")

	if cfg.From, err = getenvTime("FROM"); err != nil {
		return nil, err
	}
	if cfg.To, err = getenvTime("TO"); err != nil {
		return nil, err
	}

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	cfg.HTTPMaxRetries = getenvInt("HTTP_MAX_RETRIES", 0)
	cfg.NominatimURL = getenvDefault("NOMINATIM_URL", providers.DefaultNominatimURL)
	cfg.OpenSenseMapURL = getenvDefault("OPENSENSEMAP_URL", providers.DefaultOpenSenseMapURL)
	cfg.UserAgent = getenvDefault("USER_AGENT", "sensebox-frequency/1.0")

	// Scheduler interval: default 1 hour.
	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	cfg.FetchCron = os.Getenv("FETCH_CRON")

	cfg.StoreDriver = getenvDefault("STORE_DRIVER", "memory")
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 168) // a week of hourly runs
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "168h"); err != nil {
		return nil, err
	}
	cfg.SQLitePath = getenvDefault("SQLITE_PATH", "data/reports.db")
	cfg.Port = getenvDefault("PORT", "8080")

	cfg.MQTTBroker = os.Getenv("MQTT_BROKER")
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", "sensebox-frequency")
	cfg.MQTTTopicPrefix = getenvDefault("MQTT_TOPIC_PREFIX", "sensebox/frequency")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the field constraints shared by every command.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.From.IsZero() && !c.To.IsZero() && !c.To.After(c.From) {
		return fmt.Errorf("invalid config: TO must be after FROM")
	}
	return nil
}

// ValidateSchedule checks the serve-only scheduling settings.
func (c *AppConfig) ValidateSchedule() error {
	if c.FetchCron != "" {
		if _, err := cron.ParseStandard(c.FetchCron); err != nil {
			return fmt.Errorf("invalid FETCH_CRON %q: %w", c.FetchCron, err)
		}
	} else if c.FetchInterval < time.Minute {
		return fmt.Errorf("invalid FETCH_INTERVAL %s: must be at least 1m", c.FetchInterval)
	}
	return nil
}

// ApplyRunFlags overlays command-line flags of the run command on c.
// Every flag defaults to the value already loaded from the environment.
func (c *AppConfig) ApplyRunFlags(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)

	city := fs.String("city", c.Cities[0], "City name to geocode")
	phenomena := fs.String("phenomena", joinPhenomena(c.Phenomena), "Comma-separated phenomenon list")
	from := fs.String("from", formatOptionalTime(c.From), "Window start (RFC3339 or unix seconds); default now-24h")
	to := fs.String("to", formatOptionalTime(c.To), "Window end (RFC3339 or unix seconds); default now")
	out := fs.String("out", c.OutputDir, "Output directory")
	limit := fs.Int("limit", c.Limit, "Result limit per phenomenon")

	if err := fs.Parse(args); err != nil {
		return err
	}

	c.Cities = []string{strings.TrimSpace(*city)}
	c.Phenomena = parsePhenomena(*phenomena)
	c.OutputDir = *out
	c.Limit = *limit

	var err error
	if c.From, err = parseOptionalTime("from", *from); err != nil {
		return err
	}
	if c.To, err = parseOptionalTime("to", *to); err != nil {
		return err
	}

	return c.Validate()
}

// RunRequests builds one pipeline request per configured city. With perCity
// set, each city writes into its own subdirectory of OutputDir.
func (c *AppConfig) RunRequests(perCity bool) []sensebox.RunRequest {
	reqs := make([]sensebox.RunRequest, 0, len(c.Cities))
	for _, city := range c.Cities {
		dir := c.OutputDir
		if perCity {
			dir = filepath.Join(dir, common.Slug(city))
		}
		reqs = append(reqs, sensebox.RunRequest{
			City:      city,
			Phenomena: c.Phenomena,
			Window:    sensebox.TimeWindow{From: c.From, To: c.To},
			Limit:     c.Limit,
			OutputDir: dir,
		})
	}
	return reqs
}

func parsePhenomena(s string) []sensebox.Phenomenon {
	var out []sensebox.Phenomenon
	for _, p := range common.SplitList(s) {
		out = append(out, sensebox.Phenomenon(p))
	}
	return out
}

func joinPhenomena(ps []sensebox.Phenomenon) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseOptionalTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := common.ParseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return t, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvTime(key string) (time.Time, error) {
	return parseOptionalTime(key, os.Getenv(key))
}
