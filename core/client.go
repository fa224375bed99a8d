package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/Dyastin-0/gocp/logger"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// RetryPolicy bounds every send/await-reply step of the client.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts: 5,
	Timeout:  2 * time.Second,
	Backoff:  250 * time.Millisecond,
}

// delay grows linearly with the attempt number.
func (r RetryPolicy) delay(attempt int) time.Duration {
	return r.Backoff * time.Duration(attempt)
}

func (r RetryPolicy) normalized() RetryPolicy {
	if r.Attempts <= 0 {
		r.Attempts = 1
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultRetryPolicy.Timeout
	}
	if r.Backoff < 0 {
		r.Backoff = 0
	}
	return r
}

// TransferSummary describes a finished upload.
type TransferSummary struct {
	FileID   uint32
	Name     string
	Bytes    uint64
	Segments uint32
}

// Client drives one session against a server: text echo and stop-and-wait
// file upload.
type Client struct {
	addr  string
	id    string
	conn  net.Conn
	proto *Proto
	state *StateMachine
	retry RetryPolicy
	log   logger.Logger

	// Progress returns the writer that is fed every byte acknowledged by
	// the server. Nil disables progress output. A write error stops
	// progress output for the rest of that upload; the upload goes on.
	Progress func(size int64, desc string) io.Writer
}

func NewClient(addr string, retry RetryPolicy, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}

	id := uuid.NewString()
	log = log.WithStr("session", id).WithStr("server", addr)

	return &Client{
		addr:  addr,
		id:    id,
		proto: NewProto(),
		state: NewStateMachine(log),
		retry: retry.normalized(),
		log:   log,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) State() *StateMachine {
	return c.state
}

func (c *Client) Connect(ctx context.Context) error {
	c.state.Transition(StateConnecting)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", c.addr)
	if err != nil {
		return c.state.Fail(fmt.Errorf("%w: %w", ErrTransport, err))
	}

	c.conn = conn
	c.state.Transition(StateConnected)
	c.log.Info("client ready")

	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	c.state.Transition(StateDisconnecting)
	err := c.conn.Close()
	c.conn = nil
	c.state.Transition(StateDisconnected)

	return err
}

// SendText sends text and returns the server's echo.
func (c *Client) SendText(ctx context.Context, text string) (string, error) {
	if c.conn == nil {
		return "", ErrNotConnected
	}

	out, err := c.proto.SerializeText(NewTextMessage(text))
	if err != nil {
		return "", c.state.Fail(err)
	}

	var echo *TextMessage
	err = c.exchange(ctx, out, TypeText, func(reply []byte) error {
		msg, err := c.proto.DeserializeText(reply)
		if err != nil {
			return err
		}
		if msg.Content != text {
			return fmt.Errorf("%w: echo of different text", errStaleReply)
		}
		echo = msg
		return nil
	})
	if err != nil {
		return "", c.state.Fail(err)
	}

	c.log.WithInt("bytes", len(text)).Debug("text echoed")
	c.state.Recover()

	return echo.Content, nil
}

// SendFile uploads the file at path under name (the base of path when
// empty). Segments are sent one at a time; each must be acknowledged with
// its own file id and segment number before the next one goes out.
func (c *Client) SendFile(ctx context.Context, path, name string) (*TransferSummary, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	summary, err := c.sendFile(ctx, path, name)
	if err != nil {
		return summary, c.state.Fail(err)
	}

	c.state.Recover()
	return summary, nil
}

func (c *Client) sendFile(ctx context.Context, path, name string) (*TransferSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrIO, path)
	}

	if name == "" {
		name = filepath.Base(path)
	}
	size := uint64(stat.Size())

	accept, err := c.requestTransfer(ctx, name, size)
	if err != nil {
		return nil, err
	}

	log := c.log.WithUint("file_id", uint64(accept.FileID)).WithStr("name", name)
	log.WithStr("size", humanize.Bytes(size)).Info("file transfer request accepted")

	summary := &TransferSummary{
		FileID: accept.FileID,
		Name:   name,
	}

	progress := io.Discard
	if c.Progress != nil {
		progress = c.Progress(int64(size), fmt.Sprintf("Sending %s", name))
	}

	segments := NewSegmentReader(file, accept.FileID)
	for {
		seg, err := segments.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("%w: %w", ErrIO, err)
		}

		if err := c.sendSegment(ctx, seg); err != nil {
			return summary, err
		}

		summary.Segments++
		summary.Bytes += uint64(seg.SegmentSize)

		if _, err := progress.Write(seg.Data); err != nil {
			log.WithErr(err).Warn("progress output failed, disabling it")
			progress = io.Discard
		}

		log.WithUint("segment", uint64(seg.SegmentNumber)).Debug("segment acknowledged")
	}

	if err := c.complete(accept.FileID); err != nil {
		return summary, err
	}

	log.WithUint("segments", uint64(summary.Segments)).Info("file transfer complete")

	return summary, nil
}

func (c *Client) requestTransfer(ctx context.Context, name string, size uint64) (*FileTransferAccept, error) {
	out, err := c.proto.SerializeFileTransferRequest(NewFileTransferRequest(name, size))
	if err != nil {
		return nil, err
	}

	var accept *FileTransferAccept
	err = c.exchange(ctx, out, TypeFileTransferAccept, func(reply []byte) error {
		acc, err := c.proto.DeserializeFileTransferAccept(reply)
		if err != nil {
			return err
		}
		if acc.FileSize != size {
			return fmt.Errorf("%w: accept for %d bytes, requested %d", errStaleReply, acc.FileSize, size)
		}
		accept = acc
		return nil
	})

	return accept, err
}

func (c *Client) sendSegment(ctx context.Context, seg *FileSegment) error {
	out, err := c.proto.SerializeFileSegment(seg)
	if err != nil {
		return err
	}

	return c.exchange(ctx, out, TypeFileSegmentAck, func(reply []byte) error {
		ack, err := c.proto.DeserializeFileSegmentAck(reply)
		if err != nil {
			return err
		}

		// A late ack of an earlier segment of this file.
		if ack.FileID == seg.FileID && ack.SegmentNumber < seg.SegmentNumber {
			return fmt.Errorf("%w: ack of segment %d", errStaleReply, ack.SegmentNumber)
		}

		if ack.FileID != seg.FileID || ack.SegmentNumber != seg.SegmentNumber {
			return fmt.Errorf("%w: got (%d, %d), want (%d, %d)", ErrAckMismatch,
				ack.FileID, ack.SegmentNumber, seg.FileID, seg.SegmentNumber)
		}

		return nil
	})
}

// complete is fire-and-forget; the server does not answer it.
func (c *Client) complete(fileID uint32) error {
	out, err := c.proto.SerializeFileTransferComplete(&FileTransferComplete{FileID: fileID})
	if err != nil {
		return err
	}

	if _, err := c.conn.Write(out); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return nil
}
