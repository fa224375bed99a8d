package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Dyastin-0/gocp/config"
	"github.com/Dyastin-0/gocp/core"
	"github.com/Dyastin-0/gocp/prompt"
	"github.com/Dyastin-0/gocp/styles"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

// wait shows a spinner while an echo is in flight.
var wait = prompt.Wait

// session is the part of core.Client the interactive loop drives.
type session interface {
	SendText(ctx context.Context, text string) (string, error)
	SendFile(ctx context.Context, path, name string) (*core.TransferSummary, error)
}

func connectAction(ctx context.Context, cmd *cli.Command) error {
	client, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Println(styles.TITLE.Render(fmt.Sprintf("session %s ready, type a message, %s<path> or %s", client.ID(), prompt.FilePrefix, prompt.QuitCommand)))

	return runSession(ctx, client, prompt.New(), os.Stdout)
}

func sendAction(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("send: at least one FILE is required")
	}

	client, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	var errs []error
	for _, path := range paths {
		if err := upload(ctx, client, path, os.Stdout); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func dial(ctx context.Context, cmd *cli.Command) (*core.Client, error) {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return nil, err
	}

	log, err := newLogger("client", cfg.LogFile, cfg.LogLevel, false)
	if err != nil {
		return nil, err
	}

	client := core.NewClient(cfg.Addr(), retryPolicy(cfg), log)
	client.Progress = core.DefaultBar
	client.State().OnTransition = func(from, to core.State) {
		if to == core.StateError {
			fmt.Println(styles.WARN.Render(fmt.Sprintf("session %s -> %s", from, to)))
		}
	}

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

func retryPolicy(cfg *config.ClientConfig) core.RetryPolicy {
	return core.RetryPolicy{
		Attempts: cfg.Retries,
		Timeout:  cfg.Timeout(),
		Backoff:  cfg.Backoff(),
	}
}

// runSession reads lines until EOF, /quit or ctx is done. A failed
// operation is reported and the session goes on.
func runSession(ctx context.Context, s session, lines prompt.LineSource, out io.Writer) error {
	for {
		line, err := lines.Next(ctx)
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		intent := prompt.Parse(line)

		switch intent.Kind {
		case prompt.KindQuit:
			return nil
		case prompt.KindFile:
			upload(ctx, s, intent.Path, out)
		case prompt.KindText:
			echo(ctx, s, intent.Text, out)
		}
	}
}

func echo(ctx context.Context, s session, text string, out io.Writer) {
	var reply string

	err := wait(ctx, "Waiting for echo...", func(ctx context.Context) error {
		var err error
		reply, err = s.SendText(ctx, text)
		return err
	})
	if err != nil {
		fmt.Fprintln(out, styles.ERROR.Render(fmt.Sprintf("send failed: %v", err)))
		return
	}

	fmt.Fprintln(out, styles.SUCCESS.Render("Server echo: ")+reply)
}

func upload(ctx context.Context, s session, path string, out io.Writer) error {
	summary, err := s.SendFile(ctx, path, "")
	if err != nil {
		fmt.Fprintln(out, styles.ERROR.Render(fmt.Sprintf("upload of %s failed: %v", path, err)))
		return err
	}

	fmt.Fprintln(out, styles.SUCCESS.Render(fmt.Sprintf(
		"sent %s as file %d (%s in %d segments)",
		summary.Name, summary.FileID, humanize.Bytes(summary.Bytes), summary.Segments,
	)))

	return nil
}
