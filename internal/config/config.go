package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Warehouse   WarehouseConfig   `yaml:"warehouse" mapstructure:"warehouse"`
	CIViC       CIViCConfig       `yaml:"civic" mapstructure:"civic"`
	Curate      CurateConfig      `yaml:"curate" mapstructure:"curate"`
	Generations GenerationsConfig `yaml:"generations" mapstructure:"generations"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local snapshot database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// WarehouseConfig configures the Postgres warehouse.
type WarehouseConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// CIViCConfig configures the upstream GraphQL client.
type CIViCConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize   int     `yaml:"page_size" mapstructure:"page_size"`
	RateRPS    float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	RateBurst  int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	MaxRetries int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// CurateConfig configures evidence filtering and curation.
type CurateConfig struct {
	Gene         string `yaml:"gene" mapstructure:"gene"`
	DefaultGene  string `yaml:"default_gene" mapstructure:"default_gene"`
	Significance string `yaml:"significance" mapstructure:"significance"`
	Direction    string `yaml:"direction" mapstructure:"direction"`
}

// GenerationsConfig lists inhibitor therapies by generation, used to
// classify projected mutations.
type GenerationsConfig struct {
	First  []string `yaml:"first" mapstructure:"first"`
	Second []string `yaml:"second" mapstructure:"second"`
	Third  []string `yaml:"third" mapstructure:"third"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ALKFRED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "alkfred.db")
	v.SetDefault("warehouse.batch_size", 500)
	v.SetDefault("civic.base_url", "https://civicdb.org/api/graphql")
	v.SetDefault("civic.page_size", 100)
	v.SetDefault("civic.rate_rps", 5.0)
	v.SetDefault("civic.rate_burst", 5)
	v.SetDefault("civic.max_retries", 3)
	v.SetDefault("curate.gene", "ALK")
	v.SetDefault("curate.default_gene", "ALK")
	v.SetDefault("curate.significance", "RESISTANCE")
	v.SetDefault("curate.direction", "SUPPORTS")
	v.SetDefault("generations.first", []string{"Crizotinib"})
	v.SetDefault("generations.second", []string{"Ceritinib", "Alectinib", "Brigatinib"})
	v.SetDefault("generations.third", []string{"Lorlatinib"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
