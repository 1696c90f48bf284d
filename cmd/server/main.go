// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/routing"
	"github.com/plainclass/plain-rtc/pkg/service"
	"github.com/plainclass/plain-rtc/pkg/telemetry/prometheus"
	"github.com/plainclass/plain-rtc/version"
)

var baseFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "bind",
		Usage: "IP address to listen on, use flag multiple times to specify multiple addresses",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to plain-rtc config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "plain-rtc config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"PLAINRTC_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "key-file",
		Usage: "path to file that contains API keys/secrets",
	},
	&cli.StringFlag{
		Name:    "keys",
		Usage:   "api keys (key: secret\\n)",
		EnvVars: []string{"PLAINRTC_KEYS"},
	},
	&cli.StringFlag{
		Name:    "redis-host",
		Usage:   "host (incl. port) to redis server",
		EnvVars: []string{"REDIS_HOST"},
	},
	&cli.StringFlag{
		Name:    "redis-password",
		Usage:   "password to redis",
		EnvVars: []string{"REDIS_PASSWORD"},
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug, console formatter and placeholder keys. insecure for production",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, true)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:        "plain-rtc-server",
		Usage:       "classroom meeting and chat coordination server",
		Description: "run without subcommands to start the server",
		Flags:       append(baseFlags, generatedFlags...),
		Action:      startServer,
		Commands: []*cli.Command{
			{
				Name:   "generate-keys",
				Usage:  "generates an API key and secret pair",
				Action: generateKeys,
			},
			{
				Name:   "ports",
				Usage:  "print ports that server is configured to use",
				Action: printPorts,
			},
			{
				Name:   "create-token",
				Usage:  "create an access token for development use",
				Action: createToken,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "identity",
						Usage:    "identity of participant that holds the token",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "display name shown to other participants",
					},
					&cli.StringFlag{
						Name:  "room",
						Usage: "limit the token to a single room",
					},
					&cli.BoolFlag{
						Name:  "create",
						Usage: "allow creating meetings and chat rooms",
					},
					&cli.BoolFlag{
						Name:  "admin",
						Usage: "allow closing or deleting any room",
					},
					&cli.DurationFlag{
						Name:  "valid-for",
						Usage: "token lifetime",
						Value: defaultTokenValidity,
					},
				},
			},
			{
				Name:   "list-rooms",
				Usage:  "list meeting rooms in the configured store",
				Action: listRooms,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "include closed rooms",
					},
				},
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(conf)

	if c.String("config") == "" && c.String("config-body") == "" && conf.Development {
		logger.Infow("starting in development mode")

		if len(conf.Keys) == 0 && conf.KeyFile == "" {
			logger.Infow("no keys provided, using placeholder keys",
				"API Key", devAPIKey,
				"API Secret", devAPISecret,
			)
			conf.Keys = map[string]string{
				devAPIKey: devAPISecret,
			}
			// when dev mode and using shared keys, we'll bind to localhost by default
			if conf.BindAddresses == nil {
				conf.BindAddresses = []string{
					"127.0.0.1",
					"[::1]",
				}
			}
		}
	}
	return conf, nil
}

func startServer(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	// keys may be issued through redis alone
	if err = conf.ValidateKeys(); err != nil {
		if !errors.Is(err, config.ErrKeysNotSet) || !conf.Redis.IsConfigured() {
			return err
		}
	}

	currentNode := routing.NewLocalNode()
	prometheus.Init(currentNode.NodeID())

	server, err := service.InitializeServer(conf, currentNode)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Infow("exit requested, shutting down", "signal", sig)
		server.Stop(false)
	}()

	return server.Start()
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}
