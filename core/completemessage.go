package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FileTransferComplete ends an upload and releases its sink.
type FileTransferComplete struct {
	FileID uint32
}

func (p *Proto) SerializeFileTransferComplete(c *FileTransferComplete) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, CompleteSize))

	if err := binary.Write(buf, binary.BigEndian, c.FileID); err != nil {
		return nil, fmt.Errorf("failed to write file id: %w", err)
	}

	return p.frame(TypeFileTransferComplete, buf.Bytes())
}

func (p *Proto) DeserializeFileTransferComplete(data []byte) (*FileTransferComplete, error) {
	payload, err := p.payload(data, TypeFileTransferComplete, CompleteSize)
	if err != nil {
		return nil, err
	}
	if err := expectLength(payload, CompleteSize); err != nil {
		return nil, err
	}

	return &FileTransferComplete{FileID: binary.BigEndian.Uint32(payload)}, nil
}
