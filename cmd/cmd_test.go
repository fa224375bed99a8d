package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Dyastin-0/gocp/config"
	"github.com/Dyastin-0/gocp/core"
	"github.com/Dyastin-0/gocp/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"golang.org/x/net/nettest"
)

func init() {
	wait = func(ctx context.Context, _ string, action func(ctx context.Context) error) error {
		return action(ctx)
	}
}

type fakeSession struct {
	texts []string
	files []string
}

func (f *fakeSession) SendText(_ context.Context, text string) (string, error) {
	f.texts = append(f.texts, text)
	return text, nil
}

func (f *fakeSession) SendFile(_ context.Context, path, _ string) (*core.TransferSummary, error) {
	f.files = append(f.files, path)
	if path == "missing" {
		return nil, core.ErrIO
	}
	return &core.TransferSummary{FileID: 1, Name: filepath.Base(path), Bytes: 3, Segments: 1}, nil
}

func TestRunSession(t *testing.T) {
	input := "hello\nfile: a.txt\nfile:missing\n/quit\nnever sent\n"

	s := &fakeSession{}
	var out bytes.Buffer

	err := runSession(context.Background(), s, prompt.NewScanner(strings.NewReader(input)), &out)
	require.NoError(t, err)

	assert.Equal(t, []string{"hello"}, s.texts)
	assert.Equal(t, []string{"a.txt", "missing"}, s.files)
	assert.Contains(t, out.String(), "hello")
	assert.Contains(t, out.String(), "sent a.txt as file 1")
	assert.Contains(t, out.String(), "upload of missing failed")
}

func TestRunSessionEOF(t *testing.T) {
	s := &fakeSession{}
	var out bytes.Buffer

	err := runSession(context.Background(), s, prompt.NewScanner(strings.NewReader("one\ntwo")), &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, s.texts)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestServerConfigFlags(t *testing.T) {
	path := writeConfig(t, `{"port": 5000, "dir": "in"}`)

	var got *config.ServerConfig
	c := serveCommand()
	c.Action = func(_ context.Context, cmd *cli.Command) error {
		var err error
		got, err = loadServerConfig(cmd)
		return err
	}

	err := c.Run(context.Background(), []string{"serve", "--config", path, "--port", "6000", "--max-transfers", "3"})
	require.NoError(t, err)

	assert.Equal(t, 6000, got.Port)
	assert.Equal(t, "in", got.Dir)
	assert.Equal(t, 3, got.MaxTransfers)
	assert.Equal(t, "info", got.LogLevel)
}

func TestClientConfigFlags(t *testing.T) {
	path := writeConfig(t, `{"server_ip": "10.0.0.1", "server_port": 4433}`)

	var got *config.ClientConfig
	c := connectCommand()
	c.Action = func(_ context.Context, cmd *cli.Command) error {
		var err error
		got, err = loadClientConfig(cmd)
		return err
	}

	err := c.Run(context.Background(), []string{"connect", "-c", path, "--timeout", "1500ms", "--retries", "2"})
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:4433", got.Addr())
	assert.Equal(t, 1500*time.Millisecond, got.Timeout())
	assert.Equal(t, 2, got.Retries)

	policy := retryPolicy(got)
	assert.Equal(t, 2, policy.Attempts)
	assert.Equal(t, 1500*time.Millisecond, policy.Timeout)
}

func TestInvalidFlagOverride(t *testing.T) {
	path := writeConfig(t, `{"port": 5000}`)

	c := serveCommand()
	c.Action = func(_ context.Context, cmd *cli.Command) error {
		_, err := loadServerConfig(cmd)
		return err
	}

	err := c.Run(context.Background(), []string{"serve", "--config", path, "--port", "70000"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSendCommand(t *testing.T) {
	dir := t.TempDir()
	tracker, err := core.NewTracker(dir, 4)
	require.NoError(t, err)

	conn, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- core.NewServer(conn.LocalAddr().String(), tracker, nil).Serve(ctx, conn)
	}()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	host, port, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	cfg := writeConfig(t, fmt.Sprintf(`{"server_ip": %q, "server_port": %d, "timeout_ms": 1000}`, host, p))

	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("some notes"), 0644))

	logFile := filepath.Join(t.TempDir(), "client.log")

	err = New().Run(context.Background(), []string{"gocp", "send", "--config", cfg, "--log-file", logFile, file})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tracker.Active() == 0
	}, 2*time.Second, 10*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(dir, "1_notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("some notes"), got)
}

func TestSendCommandRequiresFiles(t *testing.T) {
	path := writeConfig(t, `{"server_ip": "127.0.0.1", "server_port": 4433}`)

	err := New().Run(context.Background(), []string{"gocp", "send", "--config", path})
	assert.Error(t, err)
}
