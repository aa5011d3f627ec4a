package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/povfchain/node/internal/logging"
)

var log = logging.Module("wal")

// Config controls file rotation and durability.
type Config struct {
	Dir               string
	MaxFileSize       int64 // default 100 MiB
	MaxFiles          int   // default 5
	SyncOnWrite       bool
	CheckpointInterval uint64 // default 1000
}

// DefaultConfig returns the §6 defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		MaxFileSize:        100 * 1024 * 1024,
		MaxFiles:           5,
		SyncOnWrite:        false,
		CheckpointInterval: 1000,
	}
}

// WAL is the append-only durable log. One process may own a given
// directory at a time (§5 shared-resource policy).
type WAL struct {
	cfg Config

	mu       sync.Mutex
	file     *os.File
	fileNum  int
	fileSize int64
	nextSeq  uint64
}

// Open creates the WAL directory if needed and opens (or creates) the
// highest-numbered segment file for appending.
func Open(cfg Config) (*WAL, error) {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 100 * 1024 * 1024
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = 5
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir: %w", err)
	}
	w := &WAL{cfg: cfg}
	nums, err := w.segmentNumbers()
	if err != nil {
		return nil, err
	}
	fileNum := 0
	if len(nums) > 0 {
		fileNum = nums[len(nums)-1]
	}

	// Restore the sequence counter from the existing segments so appends
	// after a reopen continue the stream instead of restarting at zero.
	for i := len(nums) - 1; i >= 0; i-- {
		recs, err := readSegment(w.segmentPath(nums[i]))
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			w.nextSeq = recs[len(recs)-1].Sequence + 1
			break
		}
	}

	if err := w.openSegment(fileNum); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WAL) segmentPath(n int) string {
	return filepath.Join(w.cfg.Dir, fmt.Sprintf("wal-%d.log", n))
}

func (w *WAL) segmentNumbers() ([]int, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".log")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

func (w *WAL) openSegment(n int) error {
	f, err := os.OpenFile(w.segmentPath(n), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.fileNum = n
	w.fileSize = info.Size()
	return nil
}

func (w *WAL) rotateIfNeeded() error {
	if w.fileSize < w.cfg.MaxFileSize {
		return nil
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := w.openSegment(w.fileNum + 1); err != nil {
		return err
	}
	return w.enforceRetention()
}

// enforceRetention deletes the lowest-numbered surplus files, keeping at
// most MaxFiles. Per §4.1 this happens on Truncate(); rotation also invokes
// it so segment count never unboundedly grows during normal operation.
func (w *WAL) enforceRetention() error {
	nums, err := w.segmentNumbers()
	if err != nil {
		return err
	}
	for len(nums) > w.cfg.MaxFiles {
		lowest := nums[0]
		if lowest == w.fileNum {
			break
		}
		if err := os.Remove(w.segmentPath(lowest)); err != nil && !os.IsNotExist(err) {
			return err
		}
		nums = nums[1:]
	}
	return nil
}

// Append writes a record, assigning it the next sequence number.
func (w *WAL) Append(kind RecordKind, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.nextSeq
	rec := &Record{
		Sequence:  seq,
		Timestamp: time.Now().Unix(),
		Kind:      kind,
		Payload:   payload,
	}
	enc, err := encodeRecord(rec)
	if err != nil {
		return 0, fmt.Errorf("wal: encode: %w", err)
	}
	if len(enc) > maxRecordSize {
		return 0, ErrCorruptedWAL
	}
	buf := append(encodeLengthPrefix(uint32(len(enc))), enc...)
	n, err := w.file.Write(buf)
	if err != nil {
		return 0, fmt.Errorf("wal: write: %w", err)
	}
	w.fileSize += int64(n)
	w.nextSeq++

	if w.cfg.SyncOnWrite {
		if err := w.file.Sync(); err != nil {
			return 0, fmt.Errorf("wal: sync: %w", err)
		}
	}
	if err := w.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return seq, nil
}

// Checkpoint appends a Checkpoint record and always fsyncs: this is the
// durability boundary after which a finalized block's mutations become
// visible to external readers (§5).
func (w *WAL) Checkpoint(blockNumber uint64, blockHash [32]byte) (uint64, error) {
	payload, err := rlpEncode(&CheckpointPayload{BlockNumber: blockNumber, BlockHash: blockHash})
	if err != nil {
		return 0, err
	}
	seq, err := w.Append(KindCheckpoint, payload)
	if err != nil {
		return 0, err
	}
	if err := w.Sync(); err != nil {
		return 0, err
	}
	return seq, nil
}

// Sync fsyncs the current segment file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Truncate deletes the lowest-numbered surplus files beyond MaxFiles.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enforceRetention()
}

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Stats reports basic WAL health for node-status reporting.
type Stats struct {
	Files       int
	TotalBytes  int64
	LastSequence uint64
}

func (w *WAL) Stats() (Stats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	nums, err := w.segmentNumbers()
	if err != nil {
		return Stats{}, err
	}
	var total int64
	for _, n := range nums {
		info, err := os.Stat(w.segmentPath(n))
		if err != nil {
			continue
		}
		total += info.Size()
	}
	lastSeq := uint64(0)
	if w.nextSeq > 0 {
		lastSeq = w.nextSeq - 1
	}
	return Stats{Files: len(nums), TotalBytes: total, LastSequence: lastSeq}, nil
}
