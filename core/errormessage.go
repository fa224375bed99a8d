package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

type ErrorCode uint8

const (
	CodeUnknown                  ErrorCode = 0x00
	CodeFraming                  ErrorCode = 0x01
	CodeUnknownIdentifier        ErrorCode = 0x02
	CodeIdentifierSpaceExhausted ErrorCode = 0x03
	CodeOutOfOrder               ErrorCode = 0x04
	CodeIO                       ErrorCode = 0x05
	CodeUnknownType              ErrorCode = 0x06
)

var codeErrors = map[ErrorCode]error{
	CodeFraming:                  ErrFraming,
	CodeUnknownIdentifier:        ErrUnknownIdentifier,
	CodeIdentifierSpaceExhausted: ErrIdentifierSpaceExhausted,
	CodeOutOfOrder:               ErrOutOfOrder,
	CodeIO:                       ErrIO,
	CodeUnknownType:              ErrUnknownType,
}

// ErrorMessage tells the client why the server dropped its request.
type ErrorMessage struct {
	Code   ErrorCode
	FileID uint32
}

// Err maps the code back to its sentinel error.
func (c ErrorCode) Err() error {
	if err, ok := codeErrors[c]; ok {
		return err
	}
	return fmt.Errorf("error code %d", uint8(c))
}

func (c ErrorCode) String() string {
	return c.Err().Error()
}

// CodeOf picks the wire code for err.
func CodeOf(err error) ErrorCode {
	for code, target := range codeErrors {
		if errors.Is(err, target) {
			return code
		}
	}
	return CodeUnknown
}

func (p *Proto) SerializeError(msg *ErrorMessage) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, ErrorMessageSize))

	if err := binary.Write(buf, binary.BigEndian, msg.Code); err != nil {
		return nil, fmt.Errorf("failed to write code: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, msg.FileID); err != nil {
		return nil, fmt.Errorf("failed to write file id: %w", err)
	}

	return p.frame(TypeError, buf.Bytes())
}

func (p *Proto) DeserializeError(data []byte) (*ErrorMessage, error) {
	payload, err := p.payload(data, TypeError, ErrorMessageSize)
	if err != nil {
		return nil, err
	}
	if err := expectLength(payload, ErrorMessageSize); err != nil {
		return nil, err
	}

	return &ErrorMessage{
		Code:   ErrorCode(payload[0]),
		FileID: binary.BigEndian.Uint32(payload[1:]),
	}, nil
}

// rejection turns an ErrorMessage datagram into a client-side error.
func (p *Proto) rejection(data []byte) error {
	msg, err := p.DeserializeError(data)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRejected, msg.Code.Err())
}
