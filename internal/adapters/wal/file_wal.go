// Package wal keeps observations bound for archive sinks on disk until a sink
// has acknowledged them.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// record layout: [8 bytes id][4 bytes len][len bytes json]
const recordHeaderLen = 12

const (
	logName  = "wal.log"
	metaName = "wal.meta"
)

var _ ports.WAL = (*FileWAL)(nil)

type FileWAL struct {
	mu        sync.Mutex
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
}

func NewFileWAL(dir string) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal.NewFileWAL: mkdir failed: %w", err)
	}
	w := &FileWAL{
		path:     filepath.Join(dir, logName),
		metaPath: filepath.Join(dir, metaName),
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	if err := w.loadCommitted(); err != nil {
		w.file.Close()
		return nil, err
	}
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	return w, nil
}

func (w *FileWAL) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal.open: open failed: %w", err)
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 1<<20)
	if err := w.recover(); err != nil {
		f.Close()
		return err
	}
	return nil
}

// recover scans the log, drops a torn tail record and restores the id counter.
func (w *FileWAL) recover() error {
	rf, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("wal.recover: open failed: %w", err)
	}
	defer rf.Close()

	var (
		offset int64
		lastID ports.WALEntryID
	)
	err = readRecords(bufio.NewReader(rf), func(id ports.WALEntryID, body []byte) error {
		offset += recordHeaderLen + int64(len(body))
		lastID = id
		return nil
	})
	if err != nil && !errors.Is(err, errTornRecord) {
		return fmt.Errorf("wal.recover: scan failed: %w", err)
	}
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("wal.recover: truncate failed: %w", err)
	}
	w.sizeBytes = offset
	if lastID > w.nextID {
		w.nextID = lastID
	}
	return nil
}

func (w *FileWAL) loadCommitted() error {
	data, err := os.ReadFile(w.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("wal.loadCommitted: read failed: %w", err)
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("wal.loadCommitted: parse failed: %w", err)
	}
	w.committed = ports.WALEntryID(u)
	return nil
}

func (w *FileWAL) Append(obs *domain.Observation) (ports.WALEntryID, error) {
	b, err := json.Marshal(obs)
	if err != nil {
		return 0, fmt.Errorf("wal.Append: encode failed: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID + 1
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return 0, fmt.Errorf("wal.Append: write failed: %w", err)
	}
	if _, err := w.writer.Write(b); err != nil {
		return 0, fmt.Errorf("wal.Append: write failed: %w", err)
	}

	// group commit; the buffer is flushed on Iterate, Commit and Sync.
	w.nextID = id
	w.sizeBytes += int64(len(b) + len(hdr))
	return id, nil
}

func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, obs *domain.Observation) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal.Iterate: flush failed: %w", err)
	}
	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("wal.Iterate: open failed: %w", err)
	}
	defer f.Close()

	return readRecords(bufio.NewReader(f), func(id ports.WALEntryID, body []byte) error {
		if id < from {
			return nil
		}
		var obs domain.Observation
		if err := json.Unmarshal(body, &obs); err != nil {
			return fmt.Errorf("wal.Iterate: corrupt entry %d: %w", id, err)
		}
		return fn(id, &obs)
	})
}

func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto > w.committed {
		w.committed = upto
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal.Commit: flush failed: %w", err)
	}
	return w.persistMetaLocked()
}

// TruncateCommitted rewrites the log keeping only uncommitted records.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal.TruncateCommitted: flush failed: %w", err)
	}
	src, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("wal.TruncateCommitted: open failed: %w", err)
	}
	tmpPath := w.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		src.Close()
		return fmt.Errorf("wal.TruncateCommitted: create failed: %w", err)
	}

	out := bufio.NewWriter(tmp)
	var size int64
	err = readRecords(bufio.NewReader(src), func(id ports.WALEntryID, body []byte) error {
		if id <= w.committed {
			return nil
		}
		var hdr [recordHeaderLen]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
		if _, err := out.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := out.Write(body); err != nil {
			return err
		}
		size += recordHeaderLen + int64(len(body))
		return nil
	})
	src.Close()
	if err == nil {
		err = out.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wal.TruncateCommitted: rewrite failed: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal.TruncateCommitted: close failed: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("wal.TruncateCommitted: rename failed: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal.TruncateCommitted: reopen failed: %w", err)
	}
	w.file = f
	w.writer.Reset(f)
	w.sizeBytes = size
	return nil
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

// Sync flushes buffered records and fsyncs the log.
func (w *FileWAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal.Sync: flush failed: %w", err)
	}
	return w.file.Sync()
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("wal.Close: flush failed: %w", err)
	}
	return w.file.Close()
}

func (w *FileWAL) persistMetaLocked() error {
	data := []byte(fmt.Sprintf("%d\n", w.committed))
	if err := os.WriteFile(w.metaPath, data, 0o644); err != nil {
		return fmt.Errorf("wal.Commit: persist meta failed: %w", err)
	}
	return nil
}

var errTornRecord = errors.New("wal: torn record")

// readRecords walks framed records. A partial trailing record yields errTornRecord.
func readRecords(r *bufio.Reader, fn func(id ports.WALEntryID, body []byte) error) error {
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return errTornRecord
			}
			return err
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		body := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return errTornRecord
			}
			return err
		}
		if err := fn(id, body); err != nil {
			return err
		}
	}
}
