package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

// Config points the scenarios at a running relay. Unset addresses skip the matching scenarios.
type Config struct {
	BroadcastAddr string `envconfig:"RELAY_BROADCAST_ADDR"`
	TunnelAddr    string `envconfig:"RELAY_TUNNEL_ADDR"`
	HealthAddr    string `envconfig:"RELAY_HEALTH_ADDR"`
	// E2E_DEBUG_JSON allows dumping full gRPC request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
