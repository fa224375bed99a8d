package core

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

var testRetry = RetryPolicy{
	Attempts: 3,
	Timeout:  time.Second,
	Backoff:  10 * time.Millisecond,
}

type testServer struct {
	server  *Server
	tracker *Tracker
	dir     string
	addr    string
	cancel  context.CancelFunc
	done    chan error
}

func startServer(t *testing.T, maxTransfers int, opts ...func(*Server)) *testServer {
	t.Helper()

	dir := t.TempDir()
	tracker, err := NewTracker(dir, maxTransfers)
	require.NoError(t, err)

	conn, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	ts := &testServer{
		server:  NewServer(conn.LocalAddr().String(), tracker, nil),
		tracker: tracker,
		dir:     dir,
		addr:    conn.LocalAddr().String(),
		cancel:  cancel,
		done:    make(chan error, 1),
	}

	for _, opt := range opts {
		opt(ts.server)
	}

	go func() {
		ts.done <- ts.server.Serve(ctx, conn)
	}()

	t.Cleanup(func() {
		ts.stop(t)
	})

	return ts
}

func (ts *testServer) stop(t *testing.T) {
	ts.cancel()

	select {
	case err := <-ts.done:
		assert.NoError(t, err)
		ts.done <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()

	c := NewClient(addr, testRetry, nil)
	require.NoError(t, c.Connect(context.Background()))

	t.Cleanup(func() {
		c.Close()
	})

	return c
}

// rawExchange sends data from a plain UDP socket and returns the reply.
func rawExchange(t *testing.T, conn net.Conn, data []byte) []byte {
	t.Helper()

	_, err := conn.Write(data)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, MaxDatagramSize)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	return buf[:n]
}

func dialRaw(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

func TestEcho(t *testing.T) {
	ts := startServer(t, 0)
	c := newTestClient(t, ts.addr)

	for _, text := range []string{"ping", "", strings.Repeat("x", MaxMessageSize), "a\x00b"} {
		echo, err := c.SendText(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, text, echo)
	}

	assert.Equal(t, StateConnected, c.State().Current())
}

func TestEchoBytesAreVerbatim(t *testing.T) {
	seen := make(chan string, 1)
	ts := startServer(t, 0, func(s *Server) {
		s.OnText = func(_ net.Addr, text string) {
			seen <- text
		}
	})
	conn := dialRaw(t, ts.addr)

	data := []byte{0x01, 0x00, 0x04, 'p', 'i', 'n', 'g'}
	assert.Equal(t, data, rawExchange(t, conn, data))
	assert.Equal(t, "ping", <-seen)
}

func TestFileUpload(t *testing.T) {
	ts := startServer(t, 0)
	c := newTestClient(t, ts.addr)

	src := make([]byte, 1025)
	_, err := rand.Read(src)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.bin")
	require.NoError(t, os.WriteFile(path, src, 0644))

	var progress bytes.Buffer
	c.Progress = func(size int64, desc string) io.Writer {
		assert.Equal(t, int64(len(src)), size)
		return &progress
	}

	summary, err := c.SendFile(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), summary.FileID)
	assert.Equal(t, "report.bin", summary.Name)
	assert.Equal(t, uint32(3), summary.Segments)
	assert.Equal(t, uint64(1025), summary.Bytes)
	assert.Equal(t, src, progress.Bytes())

	// Completion is not acknowledged; wait for the server to release the slot.
	require.Eventually(t, func() bool {
		return ts.tracker.Active() == 0
	}, 2*time.Second, 10*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(ts.dir, "1_report.bin"))
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestEmptyFileUpload(t *testing.T) {
	ts := startServer(t, 0)
	c := newTestClient(t, ts.addr)

	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	summary, err := c.SendFile(context.Background(), path, "renamed.txt")
	require.NoError(t, err)
	assert.Zero(t, summary.Segments)

	require.Eventually(t, func() bool {
		return ts.tracker.Active() == 0
	}, 2*time.Second, 10*time.Millisecond)

	info, err := os.Stat(filepath.Join(ts.dir, "1_renamed.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestServerErrorReplies(t *testing.T) {
	ts := startServer(t, 0)
	p := NewProto()

	segment, err := p.SerializeFileSegment(NewFileSegment(42, 0, []byte("x")))
	require.NoError(t, err)

	complete, err := p.SerializeFileTransferComplete(&FileTransferComplete{FileID: 42})
	require.NoError(t, err)

	tests := []struct {
		name   string
		data   []byte
		code   ErrorCode
		fileID uint32
	}{
		{
			name: "unknown type",
			data: []byte{0x07, 0x00, 0x00},
			code: CodeUnknownType,
		},
		{
			name: "short datagram",
			data: []byte{0x01, 0x00},
			code: CodeFraming,
		},
		{
			name: "truncated text",
			data: []byte{0x01, 0x00, 0x05, 'a'},
			code: CodeFraming,
		},
		{
			name:   "segment for unknown file",
			data:   segment,
			code:   CodeUnknownIdentifier,
			fileID: 42,
		},
		{
			name:   "complete for unknown file",
			data:   complete,
			code:   CodeUnknownIdentifier,
			fileID: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialRaw(t, ts.addr)

			msg, err := p.DeserializeError(rawExchange(t, conn, tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.code, msg.Code)
			assert.Equal(t, tt.fileID, msg.FileID)
		})
	}

	assert.Zero(t, ts.tracker.Active())
}

func TestServerRecoversAfterError(t *testing.T) {
	ts := startServer(t, 0)
	conn := dialRaw(t, ts.addr)

	rawExchange(t, conn, []byte{0x07, 0x00, 0x00})
	assert.Equal(t, StateError, ts.server.State().Current())

	ping := []byte{0x01, 0x00, 0x01, '!'}
	assert.Equal(t, ping, rawExchange(t, conn, ping))
	assert.Eventually(t, func() bool {
		return ts.server.State().Current() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerDuplicateAndOutOfOrderSegments(t *testing.T) {
	ts := startServer(t, 0)
	conn := dialRaw(t, ts.addr)
	p := NewProto()

	req, err := p.SerializeFileTransferRequest(NewFileTransferRequest("dup.txt", 4))
	require.NoError(t, err)

	accept, err := p.DeserializeFileTransferAccept(rawExchange(t, conn, req))
	require.NoError(t, err)

	first, err := p.SerializeFileSegment(NewFileSegment(accept.FileID, 0, []byte("ab")))
	require.NoError(t, err)

	for range 2 {
		ack, err := p.DeserializeFileSegmentAck(rawExchange(t, conn, first))
		require.NoError(t, err)
		assert.Equal(t, &FileSegmentAck{FileID: accept.FileID, SegmentNumber: 0}, ack)
	}

	skipped, err := p.SerializeFileSegment(NewFileSegment(accept.FileID, 2, []byte("zz")))
	require.NoError(t, err)

	msg, err := p.DeserializeError(rawExchange(t, conn, skipped))
	require.NoError(t, err)
	assert.Equal(t, CodeOutOfOrder, msg.Code)
	assert.Equal(t, accept.FileID, msg.FileID)

	second, err := p.SerializeFileSegment(NewFileSegment(accept.FileID, 1, []byte("cd")))
	require.NoError(t, err)
	_, err = p.DeserializeFileSegmentAck(rawExchange(t, conn, second))
	require.NoError(t, err)

	done, err := p.SerializeFileTransferComplete(&FileTransferComplete{FileID: accept.FileID})
	require.NoError(t, err)
	_, err = conn.Write(done)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ts.tracker.Active() == 0
	}, 2*time.Second, 10*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(ts.dir, "1_dup.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), got)
}

func TestUploadRejectedWhenSlotsExhausted(t *testing.T) {
	ts := startServer(t, 1)
	c := newTestClient(t, ts.addr)

	_, err := ts.tracker.Open("busy.txt", 0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	_, err = c.SendFile(context.Background(), path, "")
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, ErrIdentifierSpaceExhausted)
	assert.Equal(t, StateError, c.State().Current())

	// The session survives the failed upload.
	echo, err := c.SendText(context.Background(), "still here")
	require.NoError(t, err)
	assert.Equal(t, "still here", echo)
	assert.Equal(t, StateConnected, c.State().Current())
}

func TestServerShutdownReleasesTransfers(t *testing.T) {
	ts := startServer(t, 0)
	conn := dialRaw(t, ts.addr)
	p := NewProto()

	req, err := p.SerializeFileTransferRequest(NewFileTransferRequest("partial.txt", 100))
	require.NoError(t, err)
	_, err = p.DeserializeFileTransferAccept(rawExchange(t, conn, req))
	require.NoError(t, err)
	assert.Equal(t, 1, ts.tracker.Active())

	ts.stop(t)

	assert.Zero(t, ts.tracker.Active())
	assert.Equal(t, StateDisconnected, ts.server.State().Current())
}

func TestServerRepeatedRequest(t *testing.T) {
	ts := startServer(t, 0)
	conn := dialRaw(t, ts.addr)
	p := NewProto()

	req, err := p.SerializeFileTransferRequest(NewFileTransferRequest("again.txt", 4))
	require.NoError(t, err)

	first, err := p.DeserializeFileTransferAccept(rawExchange(t, conn, req))
	require.NoError(t, err)

	repeat, err := p.DeserializeFileTransferAccept(rawExchange(t, conn, req))
	require.NoError(t, err)
	assert.Equal(t, first, repeat)
	assert.Equal(t, 1, ts.tracker.Active())

	other, err := p.DeserializeFileTransferAccept(rawExchange(t, dialRaw(t, ts.addr), req))
	require.NoError(t, err)
	assert.NotEqual(t, first.FileID, other.FileID)
	assert.Equal(t, 2, ts.tracker.Active())

	seg, err := p.SerializeFileSegment(NewFileSegment(first.FileID, 0, []byte("ab")))
	require.NoError(t, err)
	_, err = p.DeserializeFileSegmentAck(rawExchange(t, conn, seg))
	require.NoError(t, err)

	// Once data has arrived the same request starts a new upload.
	fresh, err := p.DeserializeFileTransferAccept(rawExchange(t, conn, req))
	require.NoError(t, err)
	assert.NotEqual(t, first.FileID, fresh.FileID)
	assert.Equal(t, 3, ts.tracker.Active())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestUploadSurvivesProgressFailure(t *testing.T) {
	ts := startServer(t, 0)
	c := newTestClient(t, ts.addr)

	src := bytes.Repeat([]byte("x"), 700)
	path := filepath.Join(t.TempDir(), "bar.txt")
	require.NoError(t, os.WriteFile(path, src, 0644))

	c.Progress = func(int64, string) io.Writer {
		return failingWriter{}
	}

	summary, err := c.SendFile(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), summary.Segments)

	require.Eventually(t, func() bool {
		return ts.tracker.Active() == 0
	}, 2*time.Second, 10*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(ts.dir, "1_bar.txt"))
	require.NoError(t, err)
	assert.Equal(t, src, got)
}
