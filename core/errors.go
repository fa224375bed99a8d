package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownIdentifier        = errors.New("unknown file identifier")
	ErrIdentifierSpaceExhausted = errors.New("no free transfer slots")
	ErrOutOfOrder               = errors.New("segment out of order")
	ErrIO                       = errors.New("io failure")
	ErrTransport                = errors.New("transport failure")
	ErrUnknownType              = errors.New("unknown message type")
	ErrAckMismatch              = errors.New("acknowledgment mismatch")
	ErrRejected                 = errors.New("rejected by server")
	ErrNotConnected             = errors.New("not connected")
)

// fileError attaches the file id an error concerns, so it can be reported
// back to the peer.
type fileError struct {
	fileID uint32
	err    error
}

func (e *fileError) Error() string {
	return fmt.Sprintf("file %d: %v", e.fileID, e.err)
}

func (e *fileError) Unwrap() error {
	return e.err
}

func withFileID(fileID uint32, err error) error {
	if err == nil {
		return nil
	}
	return &fileError{fileID: fileID, err: err}
}

func fileIDOf(err error) uint32 {
	var fe *fileError
	if errors.As(err, &fe) {
		return fe.fileID
	}
	return 0
}
