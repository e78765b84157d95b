package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// journal is the append-only log of record state changes. Each entry is one
// checksummed frame written with a single write and made durable with one
// fsync, so every mutation is atomic: after a crash an entry is either fully
// present or detected as torn and discarded.
type journal struct {
	path string
	f    *os.File
	size int64
}

// replayJournal reads every intact entry of the journal at path and calls
// apply for each in order. A torn or corrupt tail is truncated away. The
// returned count is the number of bytes discarded.
func replayJournal(path string, apply func(journalEntry)) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat journal: %w", err)
	}

	r := bufio.NewReader(f)
	var good int64
	for {
		var e journalEntry
		n, err := readFrame(r, journalMagic, &e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Torn or corrupt from here on.
			break
		}
		apply(e)
		good += int64(n)
	}

	dropped := info.Size() - good
	if dropped > 0 {
		if err := f.Truncate(good); err != nil {
			return dropped, fmt.Errorf("truncate journal: %w", err)
		}
		if err := f.Sync(); err != nil {
			return dropped, fmt.Errorf("sync journal: %w", err)
		}
	}
	return dropped, nil
}

// writeJournalSnapshot atomically replaces the journal at path with the
// given entries.
func writeJournalSnapshot(path string, entries []journalEntry) error {
	var buf []byte
	for _, e := range entries {
		frame, err := encodeFrame(journalMagic, e)
		if err != nil {
			return err
		}
		buf = append(buf, frame...)
	}
	return writeFileAtomic(path, buf, 0o600)
}

func openJournal(path string) (*journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat journal: %w", err)
	}
	return &journal{path: path, f: f, size: info.Size()}, nil
}

// append writes e and syncs it. On failure the journal is cut back to its
// previous length so a partial frame never precedes later entries.
func (j *journal) append(e journalEntry) error {
	frame, err := encodeFrame(journalMagic, e)
	if err != nil {
		return err
	}
	if _, err := j.f.Write(frame); err != nil {
		_ = j.f.Truncate(j.size)
		return fmt.Errorf("write journal: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		_ = j.f.Truncate(j.size)
		return fmt.Errorf("sync journal: %w", err)
	}
	j.size += int64(len(frame))
	return nil
}

func (j *journal) close() error {
	if j == nil || j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
