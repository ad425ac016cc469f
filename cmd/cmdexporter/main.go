package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"cmdexporter/internal/app"
	"cmdexporter/internal/config"
	logx "cmdexporter/pkg/logx"
)

var version = "dev"

func main() {
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	// Flag env sources are read while parsing, so the .env file goes first.
	loadEnvFile(boot, envFileArg(os.Args[1:]))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		boot.Error("fatal", logx.Err(err))
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:      "cmdexporter",
		Usage:     "run shell commands on a schedule and expose parsed values as Prometheus metrics",
		Version:   version,
		ArgsUsage: "[config-file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-file",
				Aliases: []string{"c"},
				Usage:   "config file (default: discovered)",
				EnvVars: []string{"CMDEXPORTER_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "host",
				Usage:   "listen host, overrides the config file",
				EnvVars: []string{"CMDEXPORTER_HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "listen port, overrides the config file",
				EnvVars: []string{"CMDEXPORTER_PORT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "trace, debug, info, warn or error",
				EnvVars: []string{"CMDEXPORTER_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before flags are read",
				Value: ".env",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	path := c.String("config-file")
	if path == "" {
		path = c.Args().First()
	}
	if p := c.Int("port"); c.IsSet("port") && (p < 1 || p > 65535) {
		return cli.Exit(fmt.Sprintf("--port: must be in 1..65535, got %d", p), 2)
	}

	a, err := app.New(app.Options{
		ConfigPath: path,
		Overrides:  config.Overrides{Host: c.String("host"), Port: c.Int("port")},
		LogLevel:   c.String("log-level"),
	})
	if err != nil {
		return err
	}

	ctx := c.Context
	if err := a.Start(ctx); err != nil {
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError {
		if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// envFileArg finds --env-file in raw args; cli has not parsed them yet.
func envFileArg(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		for _, p := range []string{"--env-file", "-env-file"} {
			if a == p && i+1 < len(args) {
				return args[i+1]
			}
			if v, ok := strings.CutPrefix(a, p+"="); ok {
				return v
			}
		}
	}
	return ""
}
