package core

import (
	"net"

	"github.com/Dyastin-0/gocp/logger"
	"github.com/dustin/go-humanize"
)

// handleText echoes the datagram back unmodified.
func (s *Server) handleText(w net.PacketConn, data []byte, addr net.Addr, log logger.Logger) error {
	msg, err := s.proto.DeserializeText(data)
	if err != nil {
		return err
	}

	log.WithInt("length", len(msg.Content)).Info("text message received")

	if s.OnText != nil {
		s.OnText(addr, msg.Content)
	}

	return s.reply(w, addr, data)
}

func (s *Server) handleFileTransferRequest(w net.PacketConn, data []byte, addr net.Addr, log logger.Logger) error {
	req, err := s.proto.DeserializeFileTransferRequest(data)
	if err != nil {
		return err
	}

	id, reopened, err := s.tracker.OpenFrom(addr.String(), req.Filename, req.FileSize)
	if err != nil {
		return err
	}

	out, err := s.proto.SerializeFileTransferAccept(&FileTransferAccept{
		FileID:   id,
		FileSize: req.FileSize,
	})
	if err != nil {
		return err
	}

	if reopened {
		log.WithUint("file_id", uint64(id)).Debug("repeated request, resending accept")
	} else {
		log.WithUint("file_id", uint64(id)).Debug("file transfer accepted")
	}

	return s.reply(w, addr, out)
}

func (s *Server) handleFileSegment(w net.PacketConn, data []byte, addr net.Addr, log logger.Logger) error {
	seg, err := s.proto.DeserializeFileSegment(data)
	if err != nil {
		return err
	}

	duplicate, err := s.tracker.Write(seg.FileID, seg.SegmentNumber, seg.Data)
	if err != nil {
		return withFileID(seg.FileID, err)
	}

	log = log.
		WithUint("file_id", uint64(seg.FileID)).
		WithUint("segment", uint64(seg.SegmentNumber))

	if duplicate {
		log.Debug("duplicate segment, re-acknowledging")
	} else {
		log.WithInt("size", int(seg.SegmentSize)).Debug("segment received")
	}

	out, err := s.proto.SerializeFileSegmentAck(&FileSegmentAck{
		FileID:        seg.FileID,
		SegmentNumber: seg.SegmentNumber,
	})
	if err != nil {
		return err
	}

	return s.reply(w, addr, out)
}

// handleFileSegmentAck only logs; the server never sends segments.
func (s *Server) handleFileSegmentAck(data []byte, log logger.Logger) error {
	ack, err := s.proto.DeserializeFileSegmentAck(data)
	if err != nil {
		return err
	}

	log.
		WithUint("file_id", uint64(ack.FileID)).
		WithUint("segment", uint64(ack.SegmentNumber)).
		Info("acknowledgment received")

	return nil
}

func (s *Server) handleFileTransferComplete(data []byte, log logger.Logger) error {
	complete, err := s.proto.DeserializeFileTransferComplete(data)
	if err != nil {
		return err
	}

	record, err := s.tracker.Complete(complete.FileID)
	if err != nil {
		return withFileID(complete.FileID, err)
	}

	log.
		WithUint("file_id", uint64(record.FileID)).
		WithStr("path", record.Path).
		WithUint("segments", uint64(record.ReceivedSegments)).
		WithStr("size", humanize.Bytes(record.ReceivedBytes)).
		Info("file transfer complete")

	return nil
}
