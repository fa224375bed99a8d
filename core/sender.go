package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// errStaleReply is returned by an exchange's match func for a reply that
// belongs to an earlier exchange. The reply is dropped and the read goes on.
var errStaleReply = errors.New("stale reply")

// exchange writes out and waits for one reply of type want, which match
// decodes and validates. Replies of another type, and replies match reports
// as errStaleReply, are dropped while the current attempt's deadline lasts.
// A read timeout resends out, up to the retry policy's attempt count,
// sleeping the policy's backoff in between. An Error reply from the server,
// a reply match rejects, an empty read or any other transport error ends the
// exchange immediately.
func (c *Client) exchange(ctx context.Context, out []byte, want uint8, match func(reply []byte) error) error {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, MaxDatagramSize)

attempts:
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := c.conn.Write(out); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}

		deadline := time.Now().Add(c.retry.Timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}

		for {
			n, err := c.conn.Read(buf)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}

				if isTimeout(err) {
					c.log.WithInt("attempt", attempt).Warn("reply timed out")

					if attempt < c.retry.Attempts {
						if err := sleep(ctx, c.retry.delay(attempt)); err != nil {
							return err
						}
					}
					continue attempts
				}

				return fmt.Errorf("%w: %w", ErrTransport, err)
			}

			if n == 0 {
				return fmt.Errorf("%w: empty read", ErrTransport)
			}

			reply := buf[:n]

			msgType, _ := c.proto.PeekType(reply)
			if msgType == TypeError {
				return c.proto.rejection(reply)
			}
			if msgType != want {
				c.log.WithUint("type", uint64(msgType)).Debug("dropping reply of unexpected type")
				continue
			}

			err = match(reply)
			if errors.Is(err, errStaleReply) {
				c.log.WithErr(err).Debug("dropping stale reply")
				continue
			}

			return err
		}
	}

	return fmt.Errorf("%w: no reply after %d attempts", ErrTransport, c.retry.Attempts)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
