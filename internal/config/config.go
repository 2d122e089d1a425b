package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	Session   SessionConfig   `mapstructure:"session"`
	RTC       RTCConfig       `mapstructure:"rtc"`
	Recording RecordingConfig `mapstructure:"recording"`
}

type SessionConfig struct {
	Polite           bool          `mapstructure:"polite"`
	Codec            string        `mapstructure:"codec"`
	ConsumerRate     int           `mapstructure:"consumer_rate"`
	Label            string        `mapstructure:"label"`
	RxTimeout        time.Duration `mapstructure:"rx_timeout"`
	TxTimeout        time.Duration `mapstructure:"tx_timeout"`
	OfferDebounce    time.Duration `mapstructure:"offer_debounce"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

type RTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
}

type RecordingConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Path            string  `mapstructure:"path"`
	TimestampFormat string  `mapstructure:"timestamp_format"`
	RxGainDB        float64 `mapstructure:"rx_gain_db"`
	TxGainDB        float64 `mapstructure:"tx_gain_db"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")

	v.SetDefault("session.polite", true)
	v.SetDefault("session.codec", "G722")
	v.SetDefault("session.consumer_rate", 8000)
	v.SetDefault("session.label", "radio")
	v.SetDefault("session.rx_timeout", "500ms")
	v.SetDefault("session.tx_timeout", "500ms")
	v.SetDefault("session.offer_debounce", "150ms")
	v.SetDefault("session.failure_threshold", 3)

	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("recording.enabled", false)
	v.SetDefault("recording.path", "./recordings")
	v.SetDefault("recording.timestamp_format", "20060102_150405")
	v.SetDefault("recording.rx_gain_db", 0.0)
	v.SetDefault("recording.tx_gain_db", 0.0)

	return v
}

func parse(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func Load() (*Config, error) {
	v := newViper()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", v.ConfigFileUsed())
	} else {
		fmt.Printf("✅ Loaded config: %s\n", v.ConfigFileUsed())
	}

	cfg, err := parse(v)
	if err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Codec: %s\n", cfg.Mode, cfg.Port, cfg.Session.Codec)
	return cfg, nil
}

// LoadAndWatch loads the config and keeps watching the file, handing every
// clean re-read to onChange. Recording gain and enablement are the intended
// hot-reload consumers; the rest of the config needs a process restart.
func LoadAndWatch(onChange func(*Config)) (*Config, error) {
	v := newViper()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", v.ConfigFileUsed())
	} else {
		fmt.Printf("✅ Loaded config: %s\n", v.ConfigFileUsed())
	}

	cfg, err := parse(v)
	if err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Codec: %s\n", cfg.Mode, cfg.Port, cfg.Session.Codec)

	v.OnConfigChange(func(e fsnotify.Event) {
		fresh, err := parse(v)
		if err != nil {
			log.Warn().Err(err).Str("module", "config").Str("file", e.Name).Msg("config reload failed")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		onChange(fresh)
	})
	v.WatchConfig()

	return cfg, nil
}
