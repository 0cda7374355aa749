// Package config loads typed configuration for the cloud service and the
// on-prem relay node from YAML files with environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cloud is the configuration of the cloud process.
type Cloud struct {
	Port     string         `mapstructure:"port"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Auth     AuthConfig     `mapstructure:"auth"`
	OSC      OSCConfig      `mapstructure:"osc"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Cues     CueRules       `mapstructure:"cues"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Influx   InfluxConfig   `mapstructure:"influx"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// OSCConfig describes the directly reachable console. An empty IP disables
// direct delivery.
type OSCConfig struct {
	IP           string        `mapstructure:"ip"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	UDPLocalPort int           `mapstructure:"udp_local_port"`
	Rate         time.Duration `mapstructure:"rate"`
	Whitelist    []string      `mapstructure:"whitelist"`
}

type ExecutorConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type RelayConfig struct {
	ResultTimeout time.Duration `mapstructure:"result_timeout"`
	SendBuffer    int           `mapstructure:"send_buffer"`
}

// CueRules are the authoring limits enforced on submission.
type CueRules struct {
	PatchMin      int   `mapstructure:"patch_min"`
	PatchMax      int   `mapstructure:"patch_max"`
	LockedNumbers []int `mapstructure:"locked_numbers"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      int    `mapstructure:"qos"`
}

type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

func setCloudDefaults(v *viper.Viper) {
	v.SetDefault("port", "4000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("db.path", "autocue.db")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("osc.port", 3032)
	v.SetDefault("osc.mode", "tcp")
	v.SetDefault("osc.rate", 100*time.Millisecond)
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.poll_interval", 10*time.Second)
	v.SetDefault("relay.result_timeout", 2*time.Minute)
	v.SetDefault("relay.send_buffer", 16)
	v.SetDefault("cues.patch_min", 1)
	v.SetDefault("cues.patch_max", 512)
	v.SetDefault("mqtt.client_id", "autocue-cloud")
	v.SetDefault("mqtt.qos", 1)
}

var errMissingSigningKey = errors.New("auth.signing_key is required")

// LoadCloud reads configs/<name>.yml (if present) from dir and applies
// AUTOCUE_* environment overrides.
func LoadCloud(dir, name string) (*Cloud, error) {
	v := viper.New()
	setCloudDefaults(v)
	v.AddConfigPath(dir)
	v.SetConfigName(name)
	v.SetEnvPrefix("AUTOCUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read cloud config: %w", err)
		}
	}

	var cfg Cloud
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode cloud config: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.SigningKey) == "" {
		return nil, errMissingSigningKey
	}
	if cfg.Executor.MaxAttempts < 1 {
		return nil, fmt.Errorf("executor.max_attempts must be >= 1, got %d", cfg.Executor.MaxAttempts)
	}
	if cfg.Executor.PollInterval <= 0 {
		return nil, fmt.Errorf("executor.poll_interval must be positive")
	}
	return &cfg, nil
}
