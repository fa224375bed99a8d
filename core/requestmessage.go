package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FileTransferRequest opens an upload. The server answers with a
// FileTransferAccept carrying the identifier it assigned.
type FileTransferRequest struct {
	Filename string
	FileSize uint64
}

// FileTransferAccept hands the assigned file id back to the client.
type FileTransferAccept struct {
	FileID   uint32
	FileSize uint64
}

func NewFileTransferRequest(filename string, size uint64) *FileTransferRequest {
	return &FileTransferRequest{
		Filename: filename,
		FileSize: size,
	}
}

// SerializeFileTransferRequest writes <filename><file_size:u64>.
func (p *Proto) SerializeFileTransferRequest(req *FileTransferRequest) ([]byte, error) {
	if err := p.validateFilename(req.Filename); err != nil {
		return nil, fmt.Errorf("request validation failed: %w", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(req.Filename)+RequestFixedSize))

	if _, err := buf.WriteString(req.Filename); err != nil {
		return nil, fmt.Errorf("failed to write filename: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, req.FileSize); err != nil {
		return nil, fmt.Errorf("failed to write file size: %w", err)
	}

	return p.frame(TypeFileTransferRequest, buf.Bytes())
}

func (p *Proto) DeserializeFileTransferRequest(data []byte) (*FileTransferRequest, error) {
	payload, err := p.payload(data, TypeFileTransferRequest, minRequestPayload)
	if err != nil {
		return nil, err
	}

	nameLen := len(payload) - RequestFixedSize
	req := &FileTransferRequest{
		Filename: string(payload[:nameLen]),
		FileSize: binary.BigEndian.Uint64(payload[nameLen:]),
	}

	if err := p.validateFilename(req.Filename); err != nil {
		return nil, fmt.Errorf("%w: request validation failed: %w", ErrFraming, err)
	}

	return req, nil
}

func (p *Proto) SerializeFileTransferAccept(acc *FileTransferAccept) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, AcceptSize))

	if err := binary.Write(buf, binary.BigEndian, acc.FileID); err != nil {
		return nil, fmt.Errorf("failed to write file id: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, acc.FileSize); err != nil {
		return nil, fmt.Errorf("failed to write file size: %w", err)
	}

	return p.frame(TypeFileTransferAccept, buf.Bytes())
}

func (p *Proto) DeserializeFileTransferAccept(data []byte) (*FileTransferAccept, error) {
	payload, err := p.payload(data, TypeFileTransferAccept, AcceptSize)
	if err != nil {
		return nil, err
	}
	if err := expectLength(payload, AcceptSize); err != nil {
		return nil, err
	}

	reader := bytes.NewReader(payload)
	var acc FileTransferAccept

	if err := binary.Read(reader, binary.BigEndian, &acc); err != nil {
		return nil, fmt.Errorf("%w: failed to read accept: %w", ErrFraming, err)
	}

	return &acc, nil
}

func (p *Proto) validateFilename(name string) error {
	if len(name) == 0 {
		return ErrEmptyString
	}
	if len(name) > MaxFilenameLength {
		return ErrStringTooLong
	}
	return nil
}
