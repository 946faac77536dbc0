package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod      time.Duration `envconfig:"LOOP_PERIOD" default:"5s"`
	PollConcurrency int           `envconfig:"POLL_CONCURRENCY" default:"4"`
	SnapshotDir     string        `envconfig:"SNAPSHOT_DIR"` // empty disables snapshot files
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
