package fs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
	"github.com/bft-labs/predem/pkg/log"
)

// Crash slot files. The handler file receives the report written by the
// crash handler; the runtime file receives the Go runtime's fatal error
// output.
const (
	slotHandlerExt = ".slot"
	slotRuntimeExt = ".fatal"
)

// SlotIngestFunc turns the contents of a crash slot into a CrashReport
// payload. handler and runtime may each be empty, but not both.
type SlotIngestFunc func(id domain.RecordID, handler, runtime []byte, at time.Time) ([]byte, error)

// DefaultSlotIngest accepts a handler file holding a JSON domain.CrashReport
// and attaches the runtime output. Anything else becomes a report whose trace
// is the raw slot text.
func DefaultSlotIngest(_ domain.RecordID, handler, runtime []byte, at time.Time) ([]byte, error) {
	report, ok := decodeHandlerReport(handler)
	if !ok {
		report = domain.CrashReport{
			Source:    domain.CrashSourceRuntime,
			Timestamp: at,
			Trace:     string(handler),
		}
		if len(handler) > 0 {
			report.Marker = "incomplete crash report"
		}
	}
	if len(runtime) > 0 {
		report.RuntimeTrace = string(runtime)
		if report.Reason == "" {
			report.Reason = firstLine(runtime)
		}
		if report.Trace == "" {
			report.Trace = string(runtime)
		}
	}
	if report.Reason == "" {
		report.Reason = "unknown fatal error"
	}
	return json.Marshal(report)
}

// decodeHandlerReport decodes the leading JSON report of a handler file.
// Text after it (markers appended by a nested fault) is joined into Marker.
func decodeHandlerReport(handler []byte) (domain.CrashReport, bool) {
	var report domain.CrashReport
	if len(bytes.TrimSpace(handler)) == 0 {
		return report, false
	}
	dec := json.NewDecoder(bytes.NewReader(handler))
	if err := dec.Decode(&report); err != nil {
		return domain.CrashReport{}, false
	}
	rest := strings.TrimSpace(string(handler[dec.InputOffset():]))
	if rest != "" {
		report.Marker = strings.TrimSpace(report.Marker + "\n" + rest)
	}
	return report, true
}

// stampInstallID sets install_id on a JSON report that has none. Other
// fields pass through untouched; payloads that are not JSON objects are
// returned as is.
func stampInstallID(payload []byte, installID string) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return payload
	}
	if raw, ok := fields["install_id"]; ok {
		var cur string
		if json.Unmarshal(raw, &cur) == nil && cur != "" {
			return payload
		}
	}
	id, _ := json.Marshal(installID)
	fields["install_id"] = id
	out, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return out
}

func firstLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}

// crashSlot implements ports.CrashSlot with two pre-created files.
type crashSlot struct {
	id      domain.RecordID
	handler *os.File
	runtime *os.File
}

func (c *crashSlot) ID() domain.RecordID { return c.id }
func (c *crashSlot) Handler() *os.File   { return c.handler }
func (c *crashSlot) Runtime() *os.File   { return c.runtime }

func (c *crashSlot) Release() error {
	var firstErr error
	for _, f := range []*os.File{c.handler, c.runtime} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.handler, c.runtime = nil, nil
	return firstErr
}

func (s *RecordStore) slotPath(id domain.RecordID, ext string) string {
	return filepath.Join(s.slotsDir(), id.String()+ext)
}

// ReserveSlot creates an empty crash slot under a fresh record id. A slot
// that is still empty at the next Open is discarded; a written one becomes
// exactly one CrashReport record.
func (s *RecordStore) ReserveSlot() (ports.CrashSlot, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, domain.ErrStoreClosed
	}

	id := s.nextID()
	handler, err := os.OpenFile(s.slotPath(id, slotHandlerExt), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create crash slot: %w", err)
	}
	runtime, err := os.OpenFile(s.slotPath(id, slotRuntimeExt), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		handler.Close()
		_ = removeQuiet(s.slotPath(id, slotHandlerExt))
		return nil, fmt.Errorf("create crash slot: %w", err)
	}
	if err := syncDir(s.slotsDir()); err != nil {
		handler.Close()
		runtime.Close()
		return nil, err
	}
	return &crashSlot{id: id, handler: handler, runtime: runtime}, nil
}

// ingestSlots converts slots left by a previous process into records. It runs
// during recovery, before the store is shared.
func (s *RecordStore) ingestSlots() error {
	ents, err := os.ReadDir(s.slotsDir())
	if err != nil {
		return fmt.Errorf("read slots directory: %w", err)
	}

	var ids []domain.RecordID
	seen := map[domain.RecordID]bool{}
	for _, de := range ents {
		name := de.Name()
		base := strings.TrimSuffix(strings.TrimSuffix(name, slotHandlerExt), slotRuntimeExt)
		id, err := domain.ParseRecordID(base)
		if err != nil || base == name {
			_ = removeQuiet(filepath.Join(s.slotsDir(), name))
			continue
		}
		s.raiseFloor(int64(id))
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	for _, id := range ids {
		if err := s.ingestSlot(id); err != nil {
			s.logger.Error("record store: crash slot ingest failed",
				log.String("id", id.String()), log.Err(err))
		}
	}
	return syncDir(s.slotsDir())
}

func (s *RecordStore) ingestSlot(id domain.RecordID) error {
	handlerPath := s.slotPath(id, slotHandlerExt)
	runtimePath := s.slotPath(id, slotRuntimeExt)
	discard := func() {
		_ = removeQuiet(handlerPath)
		_ = removeQuiet(runtimePath)
	}

	if _, ok := s.index[id]; ok {
		// Converted before a crash interrupted cleanup.
		discard()
		return nil
	}

	handler, at := readSlotFile(handlerPath)
	runtime, rat := readSlotFile(runtimePath)
	if len(handler) == 0 && len(runtime) == 0 {
		discard()
		return nil
	}
	if at.IsZero() || (!rat.IsZero() && rat.Before(at)) {
		at = rat
	}
	if at.IsZero() {
		at = s.now()
	}

	payload, err := s.ingest(id, handler, runtime, at)
	if err != nil {
		return err
	}
	if s.install != "" {
		payload = stampInstallID(payload, s.install)
	}
	frame, err := encodeFrame(recordMagic, recordEnvelope{
		ID:        int64(id),
		Kind:      uint8(domain.KindCrashReport),
		CreatedAt: at.UnixNano(),
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.recordPath(id), frame, 0o600); err != nil {
		return err
	}
	s.index[id] = &entry{
		kind:      domain.KindCrashReport,
		size:      len(payload),
		createdAt: at,
		state:     domain.StatePending,
	}
	discard()
	s.logger.Info("record store: recovered crash report", log.String("id", id.String()))
	return nil
}

// readSlotFile returns the file contents and modification time. Missing or
// unreadable files read as empty.
func readSlotFile(path string) ([]byte, time.Time) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil, time.Time{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return data, time.Time{}
	}
	return data, info.ModTime()
}
