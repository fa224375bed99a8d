// Package cmd wires the gocp subcommands.
package cmd

import (
	"context"
	"fmt"

	"github.com/Dyastin-0/gocp/config"
	"github.com/Dyastin-0/gocp/core"
	"github.com/Dyastin-0/gocp/logger"
	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v3"
)

func New() *cli.Command {
	return &cli.Command{
		Name:    "gocp",
		Usage:   "text echo and file upload over a small datagram protocol",
		Version: core.VERSION,
		Action:  gocpAction,
		Commands: []*cli.Command{
			serveCommand(),
			connectCommand(),
			sendCommand(),
		},
	}
}

func gocpAction(ctx context.Context, cmd *cli.Command) error {
	figure := figure.NewFigure("gocp", "", true)
	figure.Print()

	fmt.Println()

	return cli.ShowAppHelp(cmd)
}

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "log file path (default ~/gocp/<role>/gocp.log)",
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the server",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultServerPath,
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "directory received files are written to",
			},
			&cli.IntFlag{
				Name:  "max-transfers",
				Usage: "number of transfer slots",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "draw a progress bar per upload",
			},
		}, logFlags()...),
		Action: serveAction,
	}
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:   "connect",
		Usage:  "run the interactive client",
		Flags:  clientFlags(),
		Action: connectAction,
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "upload files and exit",
		ArgsUsage: "FILE...",
		Flags:     clientFlags(),
		Action:    sendAction,
	}
}

func clientFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   config.DefaultClientPath,
		},
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "server ip (overrides server_ip)",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "server port (overrides server_port)",
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "attempts per datagram before giving up",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "wait for each reply",
		},
	}, logFlags()...)
}

func loadServerConfig(cmd *cli.Command) (*config.ServerConfig, error) {
	cfg, err := config.LoadServer(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("dir") {
		cfg.Dir = cmd.String("dir")
	}
	if cmd.IsSet("max-transfers") {
		cfg.MaxTransfers = int(cmd.Int("max-transfers"))
	}
	if cmd.IsSet("progress") {
		cfg.Progress = cmd.Bool("progress")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-file") {
		cfg.LogFile = cmd.String("log-file")
	}

	return cfg, cfg.Validate()
}

func loadClientConfig(cmd *cli.Command) (*config.ClientConfig, error) {
	cfg, err := config.LoadClient(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("addr") {
		cfg.ServerIP = cmd.String("addr")
	}
	if cmd.IsSet("port") {
		cfg.ServerPort = int(cmd.Int("port"))
	}
	if cmd.IsSet("retries") {
		cfg.Retries = int(cmd.Int("retries"))
	}
	if cmd.IsSet("timeout") {
		cfg.TimeoutMs = int(cmd.Duration("timeout").Milliseconds())
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-file") {
		cfg.LogFile = cmd.String("log-file")
	}

	return cfg, cfg.Validate()
}

// newLogger writes to path, or to ~/gocp/<role>/gocp.log when path is
// empty. console also mirrors lines to stdout.
func newLogger(role, path, level string, console bool) (logger.Logger, error) {
	if path == "" {
		var err error
		path, err = logger.LogPath(role)
		if err != nil {
			return nil, err
		}
	}

	l := logger.New()
	if console {
		l.InitMultiWriter(path)
	} else {
		l.Init(path)
	}

	if err := l.SetLevel(level); err != nil {
		return nil, err
	}

	return l, nil
}
