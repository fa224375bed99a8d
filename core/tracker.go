package core

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Dyastin-0/gocp/logger"
	"github.com/Dyastin-0/gocp/progress"
	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
)

const (
	DefaultMaxTransfers = 1000
	MaxTransfers        = 0xFFFF

	slotBits = 16
	slotMask = 1<<slotBits - 1
)

// TransferRecord is the server side view of one upload.
type TransferRecord struct {
	FileID           uint32
	Peer             string
	Name             string
	Path             string
	DeclaredSize     uint64
	ReceivedSegments uint32
	ReceivedBytes    uint64

	nextSegment uint32
	sink        io.WriteCloser
	bar         *mpb.Bar
}

type slot struct {
	gen    uint16
	record *TransferRecord
}

// Tracker maps file ids to open sinks. An id packs the slot index (low 16
// bits, 1-based) with the slot generation (high 16 bits); the generation is
// bumped when a slot is freed so ids of finished transfers never match again.
type Tracker struct {
	dir      string
	progress *progress.Progress
	log      logger.Logger

	mu     sync.Mutex
	slots  []slot
	cursor int
	active int
}

type TrackerOption func(*Tracker)

// WithProgress draws a bar per open transfer.
func WithProgress(p *progress.Progress) TrackerOption {
	return func(t *Tracker) {
		t.progress = p
	}
}

func WithTrackerLogger(log logger.Logger) TrackerOption {
	return func(t *Tracker) {
		t.log = log
	}
}

func NewTracker(dir string, maxTransfers int, opts ...TrackerOption) (*Tracker, error) {
	if dir == "" {
		dir = "./"
	}

	if maxTransfers <= 0 {
		maxTransfers = DefaultMaxTransfers
	}
	if maxTransfers > MaxTransfers {
		return nil, fmt.Errorf("max transfers %d exceeds %d", maxTransfers, MaxTransfers)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	t := &Tracker{
		dir:   dir,
		slots: make([]slot, maxTransfers),
		log:   logger.Nop(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

func packID(index int, gen uint16) uint32 {
	return uint32(gen)<<slotBits | uint32(index+1)
}

func unpackID(id uint32) (int, uint16) {
	return int(id&slotMask) - 1, uint16(id >> slotBits)
}

// lookup returns the open record for id. Caller holds t.mu.
func (t *Tracker) lookup(id uint32) (*TransferRecord, error) {
	index, gen := unpackID(id)
	if index < 0 || index >= len(t.slots) {
		return nil, fmt.Errorf("%w: %d out of range", ErrUnknownIdentifier, id)
	}

	s := &t.slots[index]
	if s.record == nil || s.gen != gen {
		return nil, fmt.Errorf("%w: %d not open", ErrUnknownIdentifier, id)
	}

	return s.record, nil
}

// Open allocates an id and creates the sink for name.
func (t *Tracker) Open(name string, size uint64) (uint32, error) {
	id, _, err := t.OpenFrom("", name, size)
	return id, err
}

// OpenFrom is Open for a request sent by peer. A repeated request from the
// same peer, for the same name and size, whose transfer is still open and
// has not received a segment, gets the id already handed out and reopened
// set. An empty peer never matches.
func (t *Tracker) OpenFrom(peer, name string, size uint64) (id uint32, reopened bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if record := t.pending(peer, name, size); record != nil {
		return record.FileID, true, nil
	}

	index := t.freeSlot()
	if index < 0 {
		return 0, false, fmt.Errorf("%w: %d in use", ErrIdentifierSpaceExhausted, len(t.slots))
	}

	s := &t.slots[index]
	id = packID(index, s.gen)

	path, sink, err := t.createSink(id, name)
	if err != nil {
		return 0, false, err
	}

	record := &TransferRecord{
		FileID:       id,
		Peer:         peer,
		Name:         name,
		Path:         path,
		DeclaredSize: size,
		sink:         sink,
	}

	if t.progress != nil {
		record.bar = t.progress.NewBar(int64(size), filepath.Base(path))
	}

	s.record = record
	t.cursor = index + 1
	t.active++

	t.log.
		WithUint("file_id", uint64(id)).
		WithStr("name", name).
		WithStr("size", humanize.Bytes(size)).
		Info("file transfer initiated")

	return id, false, nil
}

// pending finds the open, still empty transfer peer asked for with the
// same name and size. Caller holds t.mu.
func (t *Tracker) pending(peer, name string, size uint64) *TransferRecord {
	if peer == "" {
		return nil
	}

	for i := range t.slots {
		record := t.slots[i].record
		if record != nil && record.Peer == peer && record.Name == name &&
			record.DeclaredSize == size && record.ReceivedSegments == 0 {
			return record
		}
	}

	return nil
}

// freeSlot scans from the cursor so a freed slot is not reused right away.
// Caller holds t.mu.
func (t *Tracker) freeSlot() int {
	n := len(t.slots)
	for i := range n {
		index := (t.cursor + i) % n
		if t.slots[index].record == nil {
			return index
		}
	}
	return -1
}

// Write appends one segment. A repeat of the last accepted segment is
// reported as duplicate and not written again.
func (t *Tracker) Write(id, segment uint32, data []byte) (duplicate bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.lookup(id)
	if err != nil {
		return false, err
	}

	if record.nextSegment > 0 && segment == record.nextSegment-1 {
		return true, nil
	}

	if segment != record.nextSegment {
		return false, fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, segment, record.nextSegment)
	}

	if record.bar != nil {
		_, err = t.progress.Execute(record.sink, bytes.NewReader(data), int64(len(data)), record.bar)
	} else {
		_, err = record.sink.Write(data)
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrIO, err)
	}

	record.nextSegment++
	record.ReceivedSegments++
	record.ReceivedBytes += uint64(len(data))

	return false, nil
}

// Complete closes the sink of id and frees its slot. The returned record is
// a snapshot; it no longer owns the sink.
func (t *Tracker) Complete(id uint32) (*TransferRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.lookup(id)
	if err != nil {
		return nil, err
	}

	closeErr := t.release(id)

	if record.ReceivedBytes != record.DeclaredSize {
		t.log.
			WithUint("file_id", uint64(id)).
			WithUint("declared", record.DeclaredSize).
			WithUint("received", record.ReceivedBytes).
			Warn("file size mismatch")
	}

	snapshot := *record
	snapshot.sink = nil
	snapshot.bar = nil

	if closeErr != nil {
		return &snapshot, fmt.Errorf("%w: %w", ErrIO, closeErr)
	}

	return &snapshot, nil
}

// release closes the sink and frees the slot. Caller holds t.mu.
func (t *Tracker) release(id uint32) error {
	index, _ := unpackID(id)
	s := &t.slots[index]
	record := s.record

	err := record.sink.Close()

	if record.bar != nil {
		if err == nil && record.ReceivedBytes == record.DeclaredSize {
			record.bar.SetTotal(int64(record.ReceivedBytes), true)
		} else {
			record.bar.Abort(false)
		}
	}

	s.record = nil
	s.gen++
	t.active--

	return err
}

// Lookup returns a snapshot of the open transfer id.
func (t *Tracker) Lookup(id uint32) (TransferRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.lookup(id)
	if err != nil {
		return TransferRecord{}, false
	}

	snapshot := *record
	snapshot.sink = nil
	snapshot.bar = nil
	return snapshot, true
}

func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.active
}

// Close releases every open transfer. Partially written files stay on disk.
func (t *Tracker) Close() error {
	t.mu.Lock()

	var firstErr error
	for i := range t.slots {
		record := t.slots[i].record
		if record == nil {
			continue
		}

		t.log.
			WithUint("file_id", uint64(record.FileID)).
			WithUint("received", record.ReceivedBytes).
			Warn("closing unfinished transfer")

		if err := t.release(record.FileID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %w", ErrIO, err)
		}
	}

	t.mu.Unlock()

	if t.progress != nil {
		t.progress.Wait()
	}

	return firstErr
}

func (t *Tracker) createSink(id uint32, name string) (string, io.WriteCloser, error) {
	base, err := sanitizeName(name)
	if err != nil {
		return "", nil, err
	}

	base = fmt.Sprintf("%d_%s", id, base)
	path := filepath.Join(t.dir, base)

	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(base)
		nameWithoutExt := base[:len(base)-len(ext)]

		c, err := countSameFileNamePrefix(t.dir, nameWithoutExt, ext)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrIO, err)
		}

		path = filepath.Join(t.dir, fmt.Sprintf("%s (%d)%s", nameWithoutExt, c+1, ext))
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	return path, file, nil
}

// sanitizeName keeps only the last path element so a request cannot write
// outside the receive directory.
func sanitizeName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == ".." || strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%w: invalid file name %q", ErrIO, name)
	}
	return base, nil
}

func countSameFileNamePrefix(dir, prefix, ext string) (int, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("%s ([0-9]*)%s", prefix, ext))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}
