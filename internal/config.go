package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"relay-lab/errors"
)

const (
	ModeBroadcast = "broadcast"
	ModeTunnel    = "tunnel"
	ModeBoth      = "both"
)

type Config struct {
	Mode          string `env:"MODE,default=both" validate:"oneof=broadcast tunnel both"`
	BroadcastAddr string `env:"BROADCAST_ADDR,default=0.0.0.0:8080" validate:"hostname_port"`
	TunnelAddr    string `env:"TUNNEL_ADDR,default=0.0.0.0:8001" validate:"hostname_port"`
	UpstreamAddr  string `env:"UPSTREAM_ADDR,default=127.0.0.1:8080" validate:"hostname_port"`
	HealthAddr    string `env:"HEALTH_ADDR" validate:"omitempty,hostname_port"`

	ChannelCapacity  int           `env:"CHANNEL_CAPACITY,default=1024" validate:"min=1"`
	MaxLineLength    int           `env:"MAX_LINE_LENGTH,default=1024" validate:"min=1"`
	EchoToSender     bool          `env:"ECHO_TO_SENDER,default=true"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT,default=0s" validate:"gte=0"`
	DialTimeout      time.Duration `env:"DIAL_TIMEOUT,default=0s" validate:"gte=0"`
	TunnelHalfClose  bool          `env:"TUNNEL_HALF_CLOSE,default=false"`

	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=10s" validate:"gt=0"`
	LowCapacityThreshold int           `env:"LOW_CAPACITY_THRESHOLD,default=80" validate:"min=1,max=100"`

	HistorySize          int    `env:"HISTORY_SIZE,default=0" validate:"min=0"`
	BadgerFilepath       string `env:"BADGER_FILEPATH"`
	ModerationEnabled    bool   `env:"MODERATION_ENABLED,default=false"`
	CharacterReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`
	LogLevel             string `env:"LOG_LEVEL,default=INFO"`
}

// Load reads an optional .env file then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := CharacterRune(c.CharacterReplacement); err != nil {
		return err
	}
	if c.HistorySize > 0 && c.BadgerFilepath == "" {
		return fmt.Errorf("HISTORY_SIZE=%d requires BADGER_FILEPATH", c.HistorySize)
	}
	return nil
}

func (c Config) BroadcastEnabled() bool {
	return c.Mode == ModeBroadcast || c.Mode == ModeBoth
}

func (c Config) TunnelEnabled() bool {
	return c.Mode == ModeTunnel || c.Mode == ModeBoth
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf("%w: CHARACTER_REPLACEMENT must be a single character, got %q",
			errors.ErrInvalidReplacement, str)
	}
	return r[0], nil
}
