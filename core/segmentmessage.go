package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FileSegment is one chunk of an upload, numbered from zero.
type FileSegment struct {
	FileID        uint32
	SegmentNumber uint32
	SegmentSize   uint16
	Data          []byte
}

// FileSegmentAck echoes the segment the server just accepted.
type FileSegmentAck struct {
	FileID        uint32
	SegmentNumber uint32
}

func NewFileSegment(fileID, segment uint32, data []byte) *FileSegment {
	return &FileSegment{
		FileID:        fileID,
		SegmentNumber: segment,
		SegmentSize:   uint16(len(data)),
		Data:          data,
	}
}

func (p *Proto) SerializeFileSegment(seg *FileSegment) ([]byte, error) {
	if err := p.validateSegment(seg); err != nil {
		return nil, fmt.Errorf("segment validation failed: %w", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, SegmentFixedSize+len(seg.Data)))

	if err := binary.Write(buf, binary.BigEndian, seg.FileID); err != nil {
		return nil, fmt.Errorf("failed to write file id: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, seg.SegmentNumber); err != nil {
		return nil, fmt.Errorf("failed to write segment number: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, seg.SegmentSize); err != nil {
		return nil, fmt.Errorf("failed to write segment size: %w", err)
	}
	if _, err := buf.Write(seg.Data); err != nil {
		return nil, fmt.Errorf("failed to write segment data: %w", err)
	}

	return p.frame(TypeFileSegment, buf.Bytes())
}

// DeserializeFileSegment decodes a segment. Data is copied out of data.
func (p *Proto) DeserializeFileSegment(data []byte) (*FileSegment, error) {
	payload, err := p.payload(data, TypeFileSegment, SegmentFixedSize)
	if err != nil {
		return nil, err
	}

	seg := &FileSegment{
		FileID:        binary.BigEndian.Uint32(payload[0:4]),
		SegmentNumber: binary.BigEndian.Uint32(payload[4:8]),
		SegmentSize:   binary.BigEndian.Uint16(payload[8:10]),
	}

	if seg.SegmentSize > FileSegmentSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidSegment, seg.SegmentSize, FileSegmentSize)
	}
	if err := expectLength(payload, SegmentFixedSize+int(seg.SegmentSize)); err != nil {
		return nil, err
	}

	seg.Data = make([]byte, seg.SegmentSize)
	copy(seg.Data, payload[SegmentFixedSize:])

	return seg, nil
}

func (p *Proto) SerializeFileSegmentAck(ack *FileSegmentAck) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, AckSize))

	if err := binary.Write(buf, binary.BigEndian, ack.FileID); err != nil {
		return nil, fmt.Errorf("failed to write file id: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, ack.SegmentNumber); err != nil {
		return nil, fmt.Errorf("failed to write segment number: %w", err)
	}

	return p.frame(TypeFileSegmentAck, buf.Bytes())
}

func (p *Proto) DeserializeFileSegmentAck(data []byte) (*FileSegmentAck, error) {
	payload, err := p.payload(data, TypeFileSegmentAck, AckSize)
	if err != nil {
		return nil, err
	}
	if err := expectLength(payload, AckSize); err != nil {
		return nil, err
	}

	reader := bytes.NewReader(payload)
	var ack FileSegmentAck

	if err := binary.Read(reader, binary.BigEndian, &ack); err != nil {
		return nil, fmt.Errorf("%w: failed to read ack: %w", ErrFraming, err)
	}

	return &ack, nil
}

func (p *Proto) validateSegment(seg *FileSegment) error {
	if len(seg.Data) > FileSegmentSize {
		return ErrPayloadTooLarge
	}
	if int(seg.SegmentSize) != len(seg.Data) {
		return ErrInvalidSegment
	}
	return nil
}

// SegmentCount returns how many segments a file of size bytes is split into.
func SegmentCount(size uint64) uint64 {
	return (size + FileSegmentSize - 1) / FileSegmentSize
}

// SegmentReader cuts r into FileSegments of at most FileSegmentSize bytes,
// numbered from zero.
type SegmentReader struct {
	r      io.Reader
	fileID uint32
	next   uint32
	buf    []byte
	done   bool
}

func NewSegmentReader(r io.Reader, fileID uint32) *SegmentReader {
	return &SegmentReader{
		r:      r,
		fileID: fileID,
		buf:    make([]byte, FileSegmentSize),
	}
}

// Next returns the following segment, or io.EOF once r is exhausted. The
// returned Data is only valid until the next call.
func (s *SegmentReader) Next() (*FileSegment, error) {
	if s.done {
		return nil, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case errors.Is(err, io.EOF):
		s.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
	case err != nil:
		return nil, err
	}

	seg := NewFileSegment(s.fileID, s.next, s.buf[:n])
	s.next++

	return seg, nil
}
