package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	TypeText                 uint8 = 0x01
	TypeFileTransferRequest  uint8 = 0x02
	TypeFileSegment          uint8 = 0x03
	TypeFileSegmentAck       uint8 = 0x04
	TypeFileTransferComplete uint8 = 0x05
	TypeFileTransferAccept   uint8 = 0x06
	TypeError                uint8 = 0xFF

	HeaderSize        = 3    // type (1) + length (2)
	MaxMessageSize    = 1024 // text content capacity
	MaxFilenameLength = 256
	FileSegmentSize   = 512

	RequestFixedSize  = 8  // file_size
	SegmentFixedSize  = 10 // file_id + segment_number + segment_size
	AckSize           = 8
	CompleteSize      = 4
	AcceptSize        = 12
	ErrorMessageSize  = 5
	MaxDatagramSize   = HeaderSize + MaxMessageSize
	maxPayloadSize    = MaxMessageSize
	minRequestPayload = RequestFixedSize + 1

	VERSION = "1.0"
)

var (
	ErrFraming = errors.New("framing error")

	ErrInvalidHeaderSize = fmt.Errorf("%w: header data too small", ErrFraming)
	ErrInvalidType       = fmt.Errorf("%w: invalid type", ErrFraming)
	ErrUnexpectedType    = fmt.Errorf("%w: unexpected message type", ErrFraming)
	ErrInvalidLength     = fmt.Errorf("%w: invalid length field", ErrFraming)
	ErrInsufficientData  = fmt.Errorf("%w: insufficient data for payload", ErrFraming)
	ErrInvalidSegment    = fmt.Errorf("%w: invalid segment size", ErrFraming)

	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrStringTooLong   = errors.New("string exceeds maximum length")
	ErrEmptyString     = errors.New("string field cannot be empty")
)

// Header precedes every message on the wire (3 bytes, big-endian length).
type Header struct {
	Type   uint8
	Length uint16
}

// Proto handles protocol serialization and deserialization
type Proto struct{}

// NewProto creates a new protocol handler
func NewProto() *Proto {
	return &Proto{}
}

func NewHeader(msgType uint8, length uint16) *Header {
	return &Header{
		Type:   msgType,
		Length: length,
	}
}

// SerializeHeader serializes a header to bytes
func (p *Proto) SerializeHeader(header *Header) ([]byte, error) {
	if err := p.validateHeader(header); err != nil {
		return nil, fmt.Errorf("header validation failed: %w", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))

	if err := binary.Write(buf, binary.BigEndian, header.Type); err != nil {
		return nil, fmt.Errorf("failed to write type: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, header.Length); err != nil {
		return nil, fmt.Errorf("failed to write length: %w", err)
	}

	return buf.Bytes(), nil
}

// DeserializeHeader deserializes bytes to a header
func (p *Proto) DeserializeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidHeaderSize
	}

	reader := bytes.NewReader(data[:HeaderSize])
	var header Header

	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %w", ErrFraming, err)
	}

	if err := p.validateHeader(&header); err != nil {
		return nil, fmt.Errorf("%w: header validation failed: %w", ErrFraming, err)
	}

	return &header, nil
}

// PeekType returns the message type of a datagram without decoding its payload.
func (p *Proto) PeekType(data []byte) (uint8, error) {
	if len(data) < HeaderSize {
		return 0, ErrInvalidHeaderSize
	}
	return data[0], nil
}

func (p *Proto) IsValidType(msgType uint8) bool {
	switch msgType {
	case TypeText, TypeFileTransferRequest, TypeFileSegment, TypeFileSegmentAck,
		TypeFileTransferComplete, TypeFileTransferAccept, TypeError:
		return true
	default:
		return false
	}
}

func (p *Proto) validateHeader(header *Header) error {
	if !p.IsValidType(header.Type) {
		return ErrInvalidType
	}

	if header.Length > maxPayloadSize {
		return ErrPayloadTooLarge
	}

	return nil
}

// frame prepends a header of msgType to payload.
func (p *Proto) frame(msgType uint8, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	header, err := p.SerializeHeader(NewHeader(msgType, uint16(len(payload))))
	if err != nil {
		return nil, err
	}

	return append(header, payload...), nil
}

// payload validates the header of data against msgType and returns exactly
// header.Length bytes of payload. The payload must hold at least minSize bytes.
func (p *Proto) payload(data []byte, msgType uint8, minSize int) ([]byte, error) {
	header, err := p.DeserializeHeader(data)
	if err != nil {
		return nil, err
	}

	if header.Type != msgType {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedType, header.Type, msgType)
	}

	if int(header.Length) < minSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrInvalidLength, header.Length, minSize)
	}

	end := HeaderSize + int(header.Length)
	if len(data) < end {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(data), end)
	}

	return data[HeaderSize:end], nil
}

// expectLength fails unless payload is exactly size bytes long.
func expectLength(payload []byte, size int) error {
	if len(payload) != size {
		return fmt.Errorf("%w: %d != %d", ErrInvalidLength, len(payload), size)
	}
	return nil
}
