// Package prompt reads the client's interactive commands.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/mattn/go-isatty"
)

const (
	FilePrefix  = "file:"
	QuitCommand = "/quit"
)

type Kind int

const (
	KindText Kind = iota
	KindFile
	KindQuit
)

// Intent is one parsed input line.
type Intent struct {
	Kind Kind
	Text string
	Path string
}

// Parse maps a line to an intent: "file:<path>" uploads path, "/quit" ends
// the session, anything else is sent verbatim as text.
func Parse(line string) Intent {
	line = strings.TrimRight(line, "\r\n")

	if path, ok := strings.CutPrefix(line, FilePrefix); ok {
		return Intent{Kind: KindFile, Path: strings.TrimSpace(path)}
	}

	if strings.TrimSpace(line) == QuitCommand {
		return Intent{Kind: KindQuit}
	}

	return Intent{Kind: KindText, Text: line}
}

// LineSource yields one line at a time. Next returns io.EOF when input ends.
type LineSource interface {
	Next(ctx context.Context) (string, error)
}

// New picks a huh prompt when stdin is a terminal and a plain scanner
// otherwise.
func New() LineSource {
	if IsTerminal() {
		return NewTerminal("Enter message or file:<path>")
	}
	return NewScanner(os.Stdin)
}

func IsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type Scanner struct {
	scanner *bufio.Scanner
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{scanner: bufio.NewScanner(r)}
}

func (s *Scanner) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}

	return s.scanner.Text(), nil
}

type Terminal struct {
	title string
}

func NewTerminal(title string) *Terminal {
	return &Terminal{title: title}
}

func (t *Terminal) Next(ctx context.Context) (string, error) {
	var line string

	err := huh.NewInput().
		Title(t.title).
		CharLimit(4096).
		Value(&line).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}

	return line, ctx.Err()
}

// Wait runs action under a spinner on a terminal, directly otherwise.
func Wait(ctx context.Context, title string, action func(ctx context.Context) error) error {
	if !IsTerminal() {
		return action(ctx)
	}

	return spinner.New().
		Context(ctx).
		Title(title).
		ActionWithErr(action).
		Run()
}
