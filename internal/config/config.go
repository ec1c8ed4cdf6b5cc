package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix = "TELEMETRYD"
	DefaultLogLevel  = "info"

	defaultListen             = ":8003"
	defaultDBPath             = "/var/lib/telemetryd/telemetry.db"
	defaultPIDFile            = "/run/telemetryd.pid"
	defaultRateLimit          = 600
	defaultQueryLimit         = 50
	defaultMaxQueryLimit      = 1000
	defaultStaleAfter         = 15 * time.Minute
	defaultEnergyCeiling      = 100.0
	defaultTemperatureCeiling = 40.0
	defaultMinPowerFactor     = 0.85
	defaultExpectedPerDay     = 24
	defaultMaxErrors          = 5
	defaultPricePerKWh        = 0.15
	defaultCarbonPerKWh       = 0.4
)

type Config struct {
	Listen             string        `mapstructure:"listen"`
	LogLevel           string        `mapstructure:"log_level"`
	DBPath             string        `mapstructure:"db_path"`
	BackupOnMigrate    bool          `mapstructure:"backup_on_migrate"`
	JWTSecret          string        `mapstructure:"jwt_secret"`
	CORSOrigins        []string      `mapstructure:"cors_origins"`
	RateLimit          int           `mapstructure:"rate_limit"`
	DefaultLimit       int           `mapstructure:"default_limit"`
	MaxLimit           int           `mapstructure:"max_limit"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	EnergyCeiling      float64       `mapstructure:"energy_ceiling"`
	TemperatureCeiling float64       `mapstructure:"temperature_ceiling"`
	MinPowerFactor     float64       `mapstructure:"min_power_factor"`
	ExpectedPerDay     int           `mapstructure:"expected_per_day"`
	MaxErrors          int           `mapstructure:"max_errors"`
	PricePerKWh        float64       `mapstructure:"price_per_kwh"`
	CarbonPerKWh       float64       `mapstructure:"carbon_per_kwh"`
	PIDFile            string        `mapstructure:"pid_file"`
}

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"listen":              "listen",
	"log-level":           "log_level",
	"db-path":             "db_path",
	"backup-on-migrate":   "backup_on_migrate",
	"jwt-secret":          "jwt_secret",
	"cors-origins":        "cors_origins",
	"rate-limit":          "rate_limit",
	"default-limit":       "default_limit",
	"max-limit":           "max_limit",
	"stale-after":         "stale_after",
	"energy-ceiling":      "energy_ceiling",
	"temperature-ceiling": "temperature_ceiling",
	"min-power-factor":    "min_power_factor",
	"expected-per-day":    "expected_per_day",
	"max-errors":          "max_errors",
	"price-per-kwh":       "price_per_kwh",
	"carbon-per-kwh":      "carbon_per_kwh",
	"pid-file":            "pid_file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", defaultListen)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("backup_on_migrate", true)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("rate_limit", defaultRateLimit)
	v.SetDefault("default_limit", defaultQueryLimit)
	v.SetDefault("max_limit", defaultMaxQueryLimit)
	v.SetDefault("stale_after", defaultStaleAfter)
	v.SetDefault("energy_ceiling", defaultEnergyCeiling)
	v.SetDefault("temperature_ceiling", defaultTemperatureCeiling)
	v.SetDefault("min_power_factor", defaultMinPowerFactor)
	v.SetDefault("expected_per_day", defaultExpectedPerDay)
	v.SetDefault("max_errors", defaultMaxErrors)
	v.SetDefault("price_per_kwh", defaultPricePerKWh)
	v.SetDefault("carbon_per_kwh", defaultCarbonPerKWh)
	v.SetDefault("pid_file", defaultPIDFile)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("telemetryd", pflag.ContinueOnError)
	fs.String("config", "", "Path to configuration file")
	fs.String("listen", defaultListen, "HTTP listen address")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("db-path", defaultDBPath, "Path to the telemetry database")
	fs.Bool("backup-on-migrate", true, "Back up the database before a schema migration")
	fs.String("jwt-secret", "", "HS256 secret used to validate bearer tokens")
	fs.StringSlice("cors-origins", nil, "Allowed CORS origins")
	fs.Int("rate-limit", defaultRateLimit, "Requests per minute per client IP")
	fs.Int("default-limit", defaultQueryLimit, "Default telemetry query limit")
	fs.Int("max-limit", defaultMaxQueryLimit, "Maximum telemetry query limit")
	fs.Duration("stale-after", defaultStaleAfter, "Age after which a device is classified inactive")
	fs.Float64("energy-ceiling", defaultEnergyCeiling, "Energy usage above which an efficiency recommendation is made")
	fs.Float64("temperature-ceiling", defaultTemperatureCeiling, "Temperature above which an overheating recommendation is made")
	fs.Float64("min-power-factor", defaultMinPowerFactor, "Power factor below which a correction recommendation is made")
	fs.Int("expected-per-day", defaultExpectedPerDay, "Expected telemetry points per device per day")
	fs.Int("max-errors", defaultMaxErrors, "Error reports a device may accumulate before maintenance is due")
	fs.Float64("price-per-kwh", defaultPricePerKWh, "Energy price used for cost estimates")
	fs.Float64("carbon-per-kwh", defaultCarbonPerKWh, "kg CO2 per kWh used for carbon estimates")
	fs.String("pid-file", defaultPIDFile, "Path to the PID file")
	return fs
}

// Load reads configuration from defaults, an optional config file,
// environment variables and the given command line arguments, in
// increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configPath := o.configPath
	if path, _ := fs.GetString("config"); path != "" {
		configPath = path
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName("telemetryd")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/telemetryd")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	return config, nil
}

// Validate checks that the loaded values are usable by the service.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.DBPath == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "db_path is required")
	}
	if c.JWTSecret == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "jwt_secret is required")
	}
	if c.DefaultLimit <= 0 || c.MaxLimit <= 0 || c.DefaultLimit > c.MaxLimit {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			DefaultLimit int
			MaxLimit     int
		}{c.DefaultLimit, c.MaxLimit})
	}
	if c.StaleAfter <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.StaleAfter.String())
	}
	if c.ExpectedPerDay <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "expected_per_day must be positive")
	}
	if c.MaxErrors < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "max_errors must not be negative")
	}

	return nil
}
