package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/cds"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
)

var validate = validator.New()

// Config holds all service settings, populated from environment variables
// and the optional pipeline file named by NAO_CONFIG.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Climate Data Store access. URL and Key may be empty here and resolved
	// from ~/.cdsapirc later.
	CDSURL          string
	CDSKey          string
	CDSTimeout      time.Duration
	CDSPollInterval time.Duration
	CDSMaxRetries   int

	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool

	ScheduleCron string

	Pipeline Pipeline
}

// Stations is the station pair of the index: the first minus the second.
type Stations struct {
	South domain.Station `yaml:"south"`
	North domain.Station `yaml:"north"`
}

// Pipeline is the static description of the data tree and the retrievals.
type Pipeline struct {
	Dirs         domain.Dirs             `yaml:"dirs"`
	ModelSystems map[domain.Model]string `yaml:"model_systems" validate:"required,dive,keys,oneof=cmcc dwd eccc ecmwf jma meteo_france ncep ukmo,endkeys,required"`
	Variable     string                  `yaml:"variable" validate:"required"`
	Area         cds.Area                `yaml:"area"`
	Grid         cds.Grid                `yaml:"grid"`
	LeadMonths   int                     `yaml:"lead_months" validate:"gte=1,lte=12"`
	Stations     Stations                `yaml:"stations"`
	FallbackInit string                  `yaml:"fallback_init" validate:"required,datetime=2006-01"`
	ImputePolicy domain.ImputePolicy     `yaml:"impute_policy" validate:"oneof=fill reject"`
	// RefreshFrom is the first initialization the service keeps in the
	// reanalysis index.
	RefreshFrom string `yaml:"refresh_from" validate:"required,datetime=2006-01"`
}

// DefaultPipeline returns the settings used when no pipeline file is given.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Dirs: domain.DefaultDirs(),
		ModelSystems: map[domain.Model]string{
			domain.CMCC:        "35",
			domain.DWD:         "21",
			domain.ECCC:        "3",
			domain.ECMWF:       "51",
			domain.JMA:         "3",
			domain.MeteoFrance: "8",
			domain.NCEP:        "2",
			domain.UKMO:        "604",
		},
		Variable:     "msl",
		Area:         cds.Area{North: 74, West: -27, South: 33, East: 45},
		Grid:         cds.Grid{Lat: 1, Lon: 1},
		LeadMonths:   6,
		Stations:     Stations{South: domain.Azores, North: domain.Iceland},
		FallbackInit: "2010-01",
		ImputePolicy: domain.ImputeFill,
		RefreshFrom:  "1993-01",
	}
}

// Layout builds the path layout of the pipeline.
func (p Pipeline) Layout() domain.Layout {
	return domain.Layout{Dirs: p.Dirs, Variable: p.Variable, Systems: p.ModelSystems}
}

// Leads returns the lead months 1..LeadMonths.
func (p Pipeline) Leads() []int {
	leads := make([]int, p.LeadMonths)
	for i := range leads {
		leads[i] = i + 1
	}
	return leads
}

// Fallback returns the parsed fallback initialization month.
func (p Pipeline) Fallback() domain.Month {
	return mustMonth(p.FallbackInit, domain.NewMonth(2010, time.January))
}

// RefreshStart returns the parsed first month of the service refresh.
func (p Pipeline) RefreshStart() domain.Month {
	return mustMonth(p.RefreshFrom, domain.NewMonth(1993, time.January))
}

// mustMonth parses a validated YYYY-MM value.
func mustMonth(s string, def domain.Month) domain.Month {
	m, err := domain.ParseMonth(s)
	if err != nil {
		return def
	}
	return m
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	cdsTimeout, err := parseDuration("CDS_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	pollInterval, err := parseDuration("CDS_POLL_INTERVAL", "5s")
	if err != nil {
		return nil, err
	}
	maxRetries, err := parseNonNegative("CDS_MAX_RETRIES", "0")
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", "false")
	if err != nil {
		return nil, err
	}

	pipeline, err := LoadPipeline(os.Getenv("NAO_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CDSURL:          os.Getenv("CDSAPI_URL"),
		CDSKey:          os.Getenv("CDSAPI_KEY"),
		CDSTimeout:      cdsTimeout,
		CDSPollInterval: pollInterval,
		CDSMaxRetries:   maxRetries,

		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "nao-index-records"),
		KafkaEnabled: kafkaEnabled,

		ScheduleCron: sharedcfg.EnvOrDefault("SCHEDULE_CRON", "0 6 8 * *"),

		Pipeline: pipeline,
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	if cfg.ScheduleCron == "" {
		return nil, errors.New("SCHEDULE_CRON is required")
	}

	return cfg, nil
}

// CDSOptions resolves archive credentials, falling back to ~/.cdsapirc, and
// returns client options carrying the CDS_* settings.
func (c *Config) CDSOptions() (cds.Options, error) {
	creds, err := cds.ResolveCredentials(c.CDSURL, c.CDSKey, cds.RCPath())
	if err != nil {
		return cds.Options{}, err
	}
	return cds.Options{
		Credentials:  creds,
		Timeout:      c.CDSTimeout,
		PollInterval: c.CDSPollInterval,
		Backoff: cds.BackoffConfig{
			MaxRetries:      c.CDSMaxRetries,
			InitialInterval: 2 * time.Second,
			MaxInterval:     time.Minute,
		},
	}, nil
}

// LoadPipeline reads the YAML pipeline file at path on top of the defaults.
// An empty path yields the defaults.
func LoadPipeline(path string) (Pipeline, error) {
	p := DefaultPipeline()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Pipeline{}, fmt.Errorf("NAO_CONFIG: %w", err)
		}
		// Keys absent from the file keep their defaults; model_systems entries
		// are merged into the default mapping.
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("NAO_CONFIG: parse %s: %w", path, err)
		}
	}
	if err := validate.Struct(p); err != nil {
		return Pipeline{}, fmt.Errorf("NAO_CONFIG: invalid pipeline: %w", err)
	}
	return p, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseNonNegative(key, def string) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, def))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseBool(key, def string) (bool, error) {
	b, err := strconv.ParseBool(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}
