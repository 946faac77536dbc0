package connectors

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
)

const (
	BrokerModeBridge = "bridge"
	BrokerModePaper  = "paper"
)

type Config struct {
	BrokerMode      string        `envconfig:"BROKER_MODE" default:"bridge"`
	BrokerBridgeURL string        `envconfig:"BROKER_BRIDGE_URL" default:"http://127.0.0.1:8787"`
	BrokerTimeout   time.Duration `envconfig:"BROKER_TIMEOUT" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// NewGateway builds the configured gateway wrapped with call metrics.
func NewGateway(cfg Config) (Gateway, error) {
	var gw Gateway
	switch strings.ToLower(cfg.BrokerMode) {
	case BrokerModeBridge:
		gw = NewBridgeGateway(cfg.BrokerBridgeURL, cfg.BrokerTimeout)
	case BrokerModePaper:
		logger.Warn("Broker mode is paper: orders never reach the broker")
		gw = NewPaperGateway()
	default:
		return nil, fmt.Errorf("unknown broker mode %q", cfg.BrokerMode)
	}
	return NewInstrumented(gw), nil
}
