package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/cardbridge/internal/link"
)

type Config struct {
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Server   ServerConfig   `mapstructure:"server"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type UpstreamConfig struct {
	Host           string        `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
	KeepAlive      time.Duration `mapstructure:"keep_alive" validate:"gte=0"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
	StartDelay     time.Duration `mapstructure:"start_delay" validate:"gte=0"`
}

type ServerConfig struct {
	Port           int     `mapstructure:"port" validate:"min=1,max=65535"`
	MaxSubscribers int     `mapstructure:"max_subscribers" validate:"gte=0"`
	ConnectRate    float64 `mapstructure:"connect_rate" validate:"gt=0"`
	ConnectBurst   int     `mapstructure:"connect_burst" validate:"min=1"`
}

type ShutdownConfig struct {
	ForceAfter time.Duration `mapstructure:"force_after" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// Link returns the reader link settings.
func (c *Config) Link() link.Config {
	return link.Config{
		Host:           c.Upstream.Host,
		Port:           c.Upstream.Port,
		DialTimeout:    c.Upstream.DialTimeout,
		KeepAlive:      c.Upstream.KeepAlive,
		ReconnectDelay: c.Upstream.ReconnectDelay,
		StartDelay:     c.Upstream.StartDelay,
	}
}

// ListenAddr returns the push channel listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Load reads configuration from defaults, an optional YAML file, a .env file
// and the environment, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	v.SetDefault("upstream.host", "localhost")
	v.SetDefault("upstream.port", 3001)
	v.SetDefault("upstream.dial_timeout", 5*time.Second)
	v.SetDefault("upstream.keep_alive", 5*time.Second)
	v.SetDefault("upstream.reconnect_delay", 10*time.Second)
	v.SetDefault("upstream.start_delay", 500*time.Millisecond)
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.max_subscribers", 0)
	v.SetDefault("server.connect_rate", 20.0)
	v.SetDefault("server.connect_burst", 40)
	v.SetDefault("shutdown.force_after", 5*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Environment variable support
	v.SetEnvPrefix("CARDBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Bare names used by existing reader deployments
	_ = v.BindEnv("upstream.host", "CARDBRIDGE_UPSTREAM_HOST", "TCP_HOST")
	_ = v.BindEnv("upstream.port", "CARDBRIDGE_UPSTREAM_PORT", "TCP_PORT")
	_ = v.BindEnv("server.port", "CARDBRIDGE_SERVER_PORT", "WS_PORT")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("cardbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	verr := &ValidationErrors{}
	for _, fe := range fieldErrs {
		verr.Fields = append(verr.Fields, FieldError{
			Field: fe.Namespace(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
			Value: fmt.Sprint(fe.Value()),
		})
	}
	return verr
}
