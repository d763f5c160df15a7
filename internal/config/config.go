package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tsdata/internal/domain"
	"tsdata/internal/util"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tsdata crawler.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Tushare  Tushare        `yaml:"tushare"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   ServerConfig   `yaml:"server"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	ParquetDir string `yaml:"parquet_dir"`
}

// Tushare holds credentials and limits for the Tushare Pro HTTP API.
type Tushare struct {
	Token           string        `yaml:"token"`
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// GatherConfig controls data gathering jobs.
type GatherConfig struct {
	CNDaily CNDailyConfig `yaml:"cn_daily"`
}

// CNDailyConfig holds parameters for the A-share daily crawl.
type CNDailyConfig struct {
	StartDate    string         `yaml:"start_date"`
	EndDate      string         `yaml:"end_date"` // empty means today
	DownloadType string         `yaml:"download_type"`
	BatchSize    int            `yaml:"batch_size"`
	Markets      []MarketConfig `yaml:"markets"`
}

// MarketConfig names one exchange/board pair whose listed stocks are crawled.
type MarketConfig struct {
	Exchange string `yaml:"exchange"`
	Market   string `yaml:"market"`
}

// ScheduleConfig configures the long-running schedule command.
type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

// ServerConfig configures the read-only snapshot API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

const (
	DefaultTushareURL      = "http://api.waditu.com"
	DefaultRateLimitPerMin = 500
	DefaultBatchSize       = 10
	DefaultStartDate       = "20210101"
	DefaultCron            = "0 30 18 * * 1-5"
	DefaultServerAddr      = ":8081"

	// MaxBatchSize keeps one daily call under the provider's 5000-row cap
	// for roughly 23 months of history.
	MaxBatchSize = 10

	// MinStartDate is the earliest start date the crawler accepts.
	MinStartDate = "20200101"
)

// DefaultMarkets are the main boards of Shanghai and Shenzhen.
var DefaultMarkets = []MarketConfig{
	{Exchange: domain.ExchangeSSE, Market: "主板"},
	{Exchange: domain.ExchangeSZSE, Market: "主板"},
}

func applyDefaults(cfg *Config) {
	if cfg.Tushare.URL == "" {
		cfg.Tushare.URL = DefaultTushareURL
	}
	if cfg.Tushare.Timeout == 0 {
		cfg.Tushare.Timeout = 60 * time.Second
	}
	if cfg.Tushare.RateLimitPerMin == 0 {
		cfg.Tushare.RateLimitPerMin = DefaultRateLimitPerMin
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	cn := &cfg.Gather.CNDaily
	if cn.StartDate == "" {
		cn.StartDate = DefaultStartDate
	}
	if cn.DownloadType == "" {
		cn.DownloadType = string(domain.DownloadAll)
	}
	if cn.BatchSize == 0 {
		cn.BatchSize = DefaultBatchSize
	}
	if len(cn.Markets) == 0 {
		cn.Markets = append([]MarketConfig(nil), DefaultMarkets...)
	}

	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = DefaultCron
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills in
// defaults. A missing file is not an error: the crawler can run from the
// environment alone. Values from a .env file in the working directory are
// loaded first and never replace variables already set in the process.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("PARQUET_DIR"); v != "" {
		cfg.Storage.ParquetDir = v
	}

	if v := os.Getenv("TUSHARE_TOKEN"); v != "" {
		cfg.Tushare.Token = v
	}
	if v := os.Getenv("TUSHARE_URL"); v != "" {
		cfg.Tushare.URL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the settings the crawl cannot run without. Errors here are
// fatal configuration errors.
func (c *Config) Validate() error {
	if c.Tushare.Token == "" {
		return errors.New("tushare token is empty (set tushare.token or TUSHARE_TOKEN)")
	}
	if c.Storage.DataDir == "" {
		return errors.New("data dir is empty (set storage.data_dir or DATA_DIR)")
	}

	cn := c.Gather.CNDaily
	if _, err := domain.ParseDownloadKind(cn.DownloadType); err != nil {
		return err
	}
	if cn.BatchSize < 1 || cn.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size %d: must be between 1 and %d", cn.BatchSize, MaxBatchSize)
	}
	if _, err := util.ParseTradeDate(cn.StartDate); err != nil {
		return fmt.Errorf("start date: %w", err)
	}
	if cn.StartDate < MinStartDate {
		return fmt.Errorf("start date %s is before %s", cn.StartDate, MinStartDate)
	}
	if cn.EndDate != "" {
		if _, err := util.ParseTradeDate(cn.EndDate); err != nil {
			return fmt.Errorf("end date: %w", err)
		}
		if cn.EndDate < cn.StartDate {
			return fmt.Errorf("end date %s is before start date %s", cn.EndDate, cn.StartDate)
		}
	}
	for _, m := range cn.Markets {
		if m.Exchange == "" {
			return errors.New("market entry without exchange")
		}
	}
	return nil
}

// EndDateOrToday returns the configured end date, or today's exchange-local
// date when none is set.
func (c CNDailyConfig) EndDateOrToday() string {
	if c.EndDate != "" {
		return c.EndDate
	}
	return util.Today()
}
