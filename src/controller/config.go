package controller

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// TSLSideAwareTrigger makes the trailing stop limit trigger honour short
	// positions. Off keeps the long only comparison used so far.
	TSLSideAwareTrigger bool `envconfig:"TSL_SIDE_AWARE_TRIGGER" default:"false"`
	CaptureExceptions   bool `envconfig:"CAPTURE_EXCEPTIONS" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
