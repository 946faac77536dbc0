package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"exitexecutor/cmd/executor"
	"exitexecutor/src/connectors"
	"exitexecutor/src/database"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Version string

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	app := cli.NewApp()
	app.Name = "Exit Executor CMD"
	app.Usage = "Confirmation driven exit orders for equity positions"
	app.Version = Version
	app.Before = func(_ *cli.Context) error {
		SetupLogger()
		return nil
	}

	app.Commands = []cli.Command{
		serverCMD,
		pollCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run HTTP API",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the plan API, metrics, the websocket plan feed and the poll loop`,
	}
	pollCMD = cli.Command{
		Name:        "poll",
		Usage:       "run poll loop",
		Action:      pollAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run only the loop that advances active exit plans`,
	}
)

// SetupLogger configures logrus from LOG_LEVEL and LOG_FORMAT, and adds a
// rotated LOG_FILE next to stdout when set.
func SetupLogger() {
	config := database.GetConfig()

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if config.LogFile != "" {
		logrus.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.LogMaxSizeMB,
			MaxBackups: config.LogMaxBackups,
			MaxAge:     config.LogMaxAgeDays,
			Compress:   true,
		}))
	}

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func build() (*executor.Executor, error) {
	gw, err := connectors.NewGateway(connectors.GetConfig())
	if err != nil {
		return nil, err
	}
	return executor.Build(context.Background(), gw)
}

func serverAction(_ *cli.Context) error {
	logrus.Info("Starting exit executor server CMD")

	e, err := build()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return e.Serve()
}

func pollAction(_ *cli.Context) error {
	logrus.Info("Starting exit executor poll CMD")

	e, err := build()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return e.Poll()
}
