package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/Dyastin-0/gocp/core"
	"github.com/Dyastin-0/gocp/progress"
	"github.com/Dyastin-0/gocp/styles"
	"github.com/urfave/cli/v3"
)

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger("server", cfg.LogFile, cfg.LogLevel, true)
	if err != nil {
		return err
	}

	opts := []core.TrackerOption{core.WithTrackerLogger(log)}
	if cfg.Progress {
		opts = append(opts, core.WithProgress(progress.New()))
	}

	tracker, err := core.NewTracker(cfg.Dir, cfg.MaxTransfers, opts...)
	if err != nil {
		return err
	}

	server := core.NewServer(cfg.Addr(), tracker, log)
	server.OnText = func(from net.Addr, text string) {
		fmt.Println(styles.INFO.Render(fmt.Sprintf("%s: %s", from, text)))
	}

	fmt.Println(styles.TITLE.Render(fmt.Sprintf("gocp %s serving on %s, writing to %s", core.VERSION, cfg.Addr(), cfg.Dir)))

	return server.ListenAndServe(ctx)
}
