package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
	"github.com/bft-labs/predem/pkg/log"
)

const (
	recordsDirName    = "records"
	slotsDirName      = "slots"
	quarantineDirName = "quarantine"
	journalFileName   = "journal.log"
	lockFileName      = "LOCK"
	recordExt         = ".rec"
)

// DefaultRetryCeiling is the attempt count at which a record is abandoned.
const DefaultRetryCeiling = 5

// Options configures a RecordStore.
type Options struct {
	// RetryCeiling is the number of failed attempts after which a record is
	// abandoned. Default: DefaultRetryCeiling
	RetryCeiling int

	// NodeID seeds the id generator (0-1023). Default: 0
	NodeID int64

	// Logger receives recovery and quarantine reports. Default: no-op
	Logger ports.Logger

	// Now returns the current time. Default: time.Now
	Now func() time.Time

	// SlotIngest converts the contents of a crash slot left by a previous
	// process into a CrashReport payload. Default: DefaultSlotIngest
	SlotIngest SlotIngestFunc

	// InstallID is stamped on recovered crash reports that carry none, such
	// as those built from runtime output alone.
	InstallID string
}

// entry is the in-memory index of one record. Payload bytes stay on disk.
type entry struct {
	kind      domain.Kind
	size      int
	createdAt time.Time
	sessionID string
	attempts  int
	state     domain.State
}

// RecordStore implements ports.RecordStore on a directory.
//
// Each record is an immutable file under records/, written atomically and
// synced before Append returns. State transitions are entries in an
// append-only journal. On Open, the journal is replayed, records left
// InFlight by a dead process count as one failed attempt, and the journal is
// compacted.
type RecordStore struct {
	dir     string
	ceiling int
	logger  ports.Logger
	now     func() time.Time
	ingest  SlotIngestFunc
	install string
	lock    *dirLock
	node    *snowflake.Node

	idMu  sync.Mutex
	floor int64

	// journalMu serializes every state mutation. It is never held by Append.
	journalMu sync.Mutex
	journal   *journal

	mu        sync.RWMutex
	index     map[domain.RecordID]*entry
	appending map[domain.RecordID]struct{}
	closed    bool
}

var _ ports.RecordStore = (*RecordStore)(nil)
var _ ports.SlotReserver = (*RecordStore)(nil)

// Open opens or creates the store in dir and recovers it.
// Only one process may hold a store open at a time.
func Open(dir string, opts Options) (*RecordStore, error) {
	if opts.RetryCeiling <= 0 {
		opts.RetryCeiling = DefaultRetryCeiling
	}
	opts.Logger = log.OrDiscard(opts.Logger)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SlotIngest == nil {
		opts.SlotIngest = DefaultSlotIngest
	}

	for _, sub := range []string{"", recordsDirName, slotsDirName, quarantineDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	lock, err := lockDir(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("id generator: %w", err)
	}

	s := &RecordStore{
		dir:       dir,
		ceiling:   opts.RetryCeiling,
		logger:    opts.Logger,
		now:       opts.Now,
		ingest:    opts.SlotIngest,
		install:   opts.InstallID,
		lock:      lock,
		node:      node,
		index:     make(map[domain.RecordID]*entry),
		appending: make(map[domain.RecordID]struct{}),
	}

	if err := s.recover(); err != nil {
		lock.release()
		return nil, err
	}
	return s, nil
}

func (s *RecordStore) recordsDir() string { return filepath.Join(s.dir, recordsDirName) }
func (s *RecordStore) slotsDir() string   { return filepath.Join(s.dir, slotsDirName) }
func (s *RecordStore) journalPath() string {
	return filepath.Join(s.dir, journalFileName)
}

func (s *RecordStore) recordPath(id domain.RecordID) string {
	return filepath.Join(s.recordsDir(), id.String()+recordExt)
}

// recover rebuilds the index from disk. It runs before the store is shared.
func (s *RecordStore) recover() error {
	if err := s.loadRecords(); err != nil {
		return err
	}

	var removed []domain.RecordID
	dropped, err := replayJournal(s.journalPath(), func(e journalEntry) {
		switch e.Op {
		case opFloor:
			s.raiseFloor(e.Floor)
		case opSet:
			for _, it := range e.Items {
				s.raiseFloor(it.ID)
				if ent, ok := s.index[domain.RecordID(it.ID)]; ok {
					ent.state = domain.State(it.State)
					ent.attempts = it.Attempts
				}
			}
		case opRemove:
			for _, it := range e.Items {
				s.raiseFloor(it.ID)
				if _, ok := s.index[domain.RecordID(it.ID)]; ok {
					delete(s.index, domain.RecordID(it.ID))
					removed = append(removed, domain.RecordID(it.ID))
				}
			}
		}
	})
	if err != nil {
		return err
	}
	if dropped > 0 {
		s.logger.Warn("record store: discarded torn journal tail", log.Int64("bytes", dropped))
	}

	// Files whose removal was journaled but not yet unlinked.
	for _, id := range removed {
		_ = removeQuiet(s.recordPath(id))
	}

	resumed, abandoned := 0, 0
	for id, ent := range s.index {
		switch ent.state {
		case domain.StateInFlight:
			r := domain.Record{Attempts: ent.attempts, State: ent.state}
			ent.state = r.FailAttempt(s.ceiling)
			ent.attempts = r.Attempts
			resumed++
			if ent.state == domain.StateAbandoned {
				abandoned++
				s.logger.Warn("record store: abandoning record interrupted at retry ceiling",
					log.String("id", id.String()),
					log.String("kind", ent.kind.String()),
					log.Int("attempts", ent.attempts))
				delete(s.index, id)
				_ = removeQuiet(s.recordPath(id))
			}
		case domain.StateDelivered, domain.StateAbandoned:
			delete(s.index, id)
			_ = removeQuiet(s.recordPath(id))
		}
	}
	if resumed > 0 {
		s.logger.Info("record store: resumed in-flight records as failed",
			log.Int("records", resumed),
			log.Int("abandoned", abandoned))
	}

	if err := s.ingestSlots(); err != nil {
		return err
	}

	if err := s.compact(); err != nil {
		return err
	}
	if err := syncDir(s.recordsDir()); err != nil {
		return err
	}

	j, err := openJournal(s.journalPath())
	if err != nil {
		return err
	}
	s.journal = j
	return nil
}

// loadRecords indexes every record file. Corrupt files are quarantined.
func (s *RecordStore) loadRecords() error {
	ents, err := os.ReadDir(s.recordsDir())
	if err != nil {
		return fmt.Errorf("read records directory: %w", err)
	}
	for _, de := range ents {
		name := de.Name()
		path := filepath.Join(s.recordsDir(), name)
		if de.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") {
			// Interrupted Append: the record was never acknowledged.
			_ = removeQuiet(path)
			continue
		}
		if !strings.HasSuffix(name, recordExt) {
			continue
		}
		id, err := domain.ParseRecordID(strings.TrimSuffix(name, recordExt))
		if err != nil {
			s.quarantine(path, err)
			continue
		}
		s.raiseFloor(int64(id))

		data, err := os.ReadFile(path)
		if err != nil {
			s.quarantine(path, err)
			continue
		}
		env, err := decodeRecordFile(data)
		if err == nil && env.ID != int64(id) {
			err = fmt.Errorf("%w: file name does not match id %d", domain.ErrCorruptRecord, env.ID)
		}
		if err != nil {
			s.quarantine(path, err)
			continue
		}
		s.index[id] = &entry{
			kind:      domain.Kind(env.Kind),
			size:      len(env.Payload),
			createdAt: time.Unix(0, env.CreatedAt),
			sessionID: env.SessionID,
			state:     domain.StatePending,
		}
	}
	return nil
}

// compact rewrites the journal as a snapshot of the current index.
func (s *RecordStore) compact() error {
	entries := []journalEntry{{Op: opFloor, Floor: s.floor}}
	var items []journalItem
	for _, id := range s.sortedIDs(nil) {
		ent := s.index[id]
		if ent.state == domain.StatePending && ent.attempts == 0 {
			continue
		}
		items = append(items, journalItem{ID: int64(id), State: uint8(ent.state), Attempts: ent.attempts})
	}
	if len(items) > 0 {
		entries = append(entries, journalEntry{Op: opSet, Items: items})
	}
	if err := writeJournalSnapshot(s.journalPath(), entries); err != nil {
		return fmt.Errorf("compact journal: %w", err)
	}
	return nil
}

func (s *RecordStore) raiseFloor(id int64) {
	s.idMu.Lock()
	if id > s.floor {
		s.floor = id
	}
	s.idMu.Unlock()
}

// nextID returns an id greater than every id the store has ever issued.
func (s *RecordStore) nextID() domain.RecordID {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	id := s.node.Generate().Int64()
	if id <= s.floor {
		id = s.floor + 1
	}
	s.floor = id
	return domain.RecordID(id)
}

// Append persists a new Pending record. It returns after the record file and
// its directory entry are synced. No store lock is held during the write.
func (s *RecordStore) Append(ctx context.Context, kind domain.Kind, sessionID string, payload []byte) (domain.RecordID, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %d", domain.ErrUnknownKind, uint8(kind))
	}
	if len(payload) == 0 {
		return 0, domain.ErrEmptyPayload
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, domain.ErrStoreClosed
	}
	id := s.nextID()
	s.appending[id] = struct{}{}
	s.mu.Unlock()

	created := s.now()
	frame, err := encodeFrame(recordMagic, recordEnvelope{
		ID:        int64(id),
		Kind:      uint8(kind),
		CreatedAt: created.UnixNano(),
		SessionID: sessionID,
		Payload:   payload,
	})
	if err == nil {
		err = writeFileAtomic(s.recordPath(id), frame, 0o600)
	}

	s.mu.Lock()
	delete(s.appending, id)
	if err == nil {
		s.index[id] = &entry{
			kind:      kind,
			size:      len(payload),
			createdAt: created,
			sessionID: sessionID,
			state:     domain.StatePending,
		}
	}
	s.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("append record: %w", err)
	}
	return id, nil
}

// sortedIDs returns index ids accepted by keep, ascending. Caller holds mu.
func (s *RecordStore) sortedIDs(keep func(domain.RecordID, *entry) bool) []domain.RecordID {
	ids := make([]domain.RecordID, 0, len(s.index))
	for id, ent := range s.index {
		if keep == nil || keep(id, ent) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// visiblePending returns Pending ids forming a prefix of the append order:
// nothing at or above an id whose Append is still running. Caller holds mu.
func (s *RecordStore) visiblePending() []domain.RecordID {
	var horizon domain.RecordID = -1
	for id := range s.appending {
		if horizon < 0 || id < horizon {
			horizon = id
		}
	}
	return s.sortedIDs(func(id domain.RecordID, ent *entry) bool {
		return ent.state == domain.StatePending && (horizon < 0 || id < horizon)
	})
}

// ListPending returns up to limit Pending records, oldest first.
func (s *RecordStore) ListPending(ctx context.Context, limit int) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, domain.ErrStoreClosed
	}
	ids := s.visiblePending()
	s.mu.RUnlock()

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return s.load(ids), nil
}

// ClaimPending selects Pending records oldest first, bounded by count and
// total payload bytes, and marks them InFlight in one journal entry.
func (s *RecordStore) ClaimPending(ctx context.Context, limit, maxBytes int) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.journalMu.Lock()
	if s.journal == nil {
		s.journalMu.Unlock()
		return nil, domain.ErrStoreClosed
	}

	s.mu.RLock()
	var ids []domain.RecordID
	total := 0
	for _, id := range s.visiblePending() {
		if limit > 0 && len(ids) >= limit {
			break
		}
		size := s.index[id].size
		if maxBytes > 0 && len(ids) > 0 && total+size > maxBytes {
			break
		}
		ids = append(ids, id)
		total += size
	}
	s.mu.RUnlock()

	if len(ids) == 0 {
		s.journalMu.Unlock()
		return nil, nil
	}
	err := s.transitionLocked(ids, func(_ domain.RecordID, e entry) (entry, error) {
		if e.state != domain.StatePending {
			return e, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, e.state, domain.StateInFlight)
		}
		e.state = domain.StateInFlight
		return e, nil
	})
	s.journalMu.Unlock()
	if err != nil {
		return nil, err
	}

	return s.load(ids), nil
}

// MarkInFlight moves Pending records to InFlight. If any id is unknown or
// not Pending, nothing changes.
func (s *RecordStore) MarkInFlight(ctx context.Context, ids []domain.RecordID) error {
	return s.transition(ctx, ids, func(_ domain.RecordID, e entry) (entry, error) {
		if e.state != domain.StatePending {
			return e, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, e.state, domain.StateInFlight)
		}
		e.state = domain.StateInFlight
		return e, nil
	})
}

// MarkDelivered moves InFlight records to Delivered.
func (s *RecordStore) MarkDelivered(ctx context.Context, ids []domain.RecordID) error {
	return s.transition(ctx, ids, func(_ domain.RecordID, e entry) (entry, error) {
		if !e.state.CanTransition(domain.StateDelivered) {
			return e, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, e.state, domain.StateDelivered)
		}
		e.state = domain.StateDelivered
		return e, nil
	})
}

// MarkFailed counts one failed attempt for each InFlight record and returns
// the ids that reached the retry ceiling and were abandoned.
func (s *RecordStore) MarkFailed(ctx context.Context, ids []domain.RecordID) ([]domain.RecordID, error) {
	var abandoned []domain.RecordID
	err := s.transition(ctx, ids, func(id domain.RecordID, e entry) (entry, error) {
		if e.state != domain.StateInFlight {
			return e, fmt.Errorf("%w: %s is not in flight", domain.ErrInvalidTransition, e.state)
		}
		r := domain.Record{Attempts: e.attempts, State: e.state}
		e.state = r.FailAttempt(s.ceiling)
		e.attempts = r.Attempts
		if e.state == domain.StateAbandoned {
			abandoned = append(abandoned, id)
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return abandoned, nil
}

// Release returns InFlight records to Pending. Their attempt counts are
// unchanged.
func (s *RecordStore) Release(ctx context.Context, ids []domain.RecordID) error {
	return s.transition(ctx, ids, func(_ domain.RecordID, e entry) (entry, error) {
		if e.state != domain.StateInFlight {
			return e, fmt.Errorf("%w: %s is not in flight", domain.ErrInvalidTransition, e.state)
		}
		e.state = domain.StatePending
		return e, nil
	})
}

func (s *RecordStore) transition(ctx context.Context, ids []domain.RecordID, next func(domain.RecordID, entry) (entry, error)) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	if s.journal == nil {
		return domain.ErrStoreClosed
	}
	return s.transitionLocked(ids, next)
}

// transitionLocked computes the new entry for every id, journals them as one
// entry and then applies them. A failure anywhere leaves the store unchanged.
// Caller holds journalMu.
func (s *RecordStore) transitionLocked(ids []domain.RecordID, next func(domain.RecordID, entry) (entry, error)) error {
	ids = uniqueIDs(ids)
	updated := make([]entry, len(ids))
	items := make([]journalItem, len(ids))

	s.mu.RLock()
	for i, id := range ids {
		cur, ok := s.index[id]
		if !ok {
			s.mu.RUnlock()
			return fmt.Errorf("%w: %s", domain.ErrUnknownRecord, id)
		}
		n, err := next(id, *cur)
		if err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("record %s: %w", id, err)
		}
		updated[i] = n
		items[i] = journalItem{ID: int64(id), State: uint8(n.state), Attempts: n.attempts}
	}
	s.mu.RUnlock()

	if err := s.journal.append(journalEntry{Op: opSet, Items: items}); err != nil {
		return err
	}

	s.mu.Lock()
	for i, id := range ids {
		*s.index[id] = updated[i]
	}
	s.mu.Unlock()
	return nil
}

// Remove deletes Delivered or Abandoned records. Unknown ids are ignored.
func (s *RecordStore) Remove(ctx context.Context, ids []domain.RecordID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	if s.journal == nil {
		return domain.ErrStoreClosed
	}

	s.mu.RLock()
	var present []domain.RecordID
	for _, id := range uniqueIDs(ids) {
		ent, ok := s.index[id]
		if !ok {
			continue
		}
		if !ent.state.Terminal() {
			s.mu.RUnlock()
			return fmt.Errorf("record %s: %w: cannot remove %s record", id, domain.ErrInvalidTransition, ent.state)
		}
		present = append(present, id)
	}
	s.mu.RUnlock()

	return s.removeLocked(present)
}

// removeLocked journals and deletes ids. Caller holds journalMu.
func (s *RecordStore) removeLocked(ids []domain.RecordID) error {
	if len(ids) == 0 {
		return nil
	}
	items := make([]journalItem, len(ids))
	for i, id := range ids {
		items[i] = journalItem{ID: int64(id)}
	}
	if err := s.journal.append(journalEntry{Op: opRemove, Items: items}); err != nil {
		return err
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.index, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := removeQuiet(s.recordPath(id)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := syncDir(s.recordsDir()); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		// The journal already records the removal; leftovers are deleted at next Open.
		s.logger.Warn("record store: unlink after remove failed", log.Err(firstErr))
	}
	return nil
}

// EvictOldest abandons and removes the oldest Pending records until the
// payload bytes held by the store are at most target. Records for which
// protect returns true are never evicted. Each eviction is journaled as
// InFlight then Abandoned before removal, like a record that reached the
// retry ceiling. It returns the evicted records without payloads.
func (s *RecordStore) EvictOldest(ctx context.Context, target int64, protect func(domain.Kind) bool) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	if s.journal == nil {
		return nil, domain.ErrStoreClosed
	}

	s.mu.RLock()
	var total int64
	for _, ent := range s.index {
		total += int64(ent.size)
	}
	var victims []domain.Record
	for _, id := range s.sortedIDs(func(_ domain.RecordID, ent *entry) bool {
		return ent.state == domain.StatePending && (protect == nil || !protect(ent.kind))
	}) {
		if total <= target {
			break
		}
		ent := s.index[id]
		victims = append(victims, domain.Record{
			ID:        id,
			Kind:      ent.kind,
			CreatedAt: ent.createdAt,
			SessionID: ent.sessionID,
			Attempts:  ent.attempts,
			State:     domain.StateAbandoned,
		})
		total -= int64(ent.size)
	}
	s.mu.RUnlock()

	if len(victims) == 0 {
		return nil, nil
	}
	ids := make([]domain.RecordID, len(victims))
	for i, r := range victims {
		ids[i] = r.ID
	}
	for _, to := range []domain.State{domain.StateInFlight, domain.StateAbandoned} {
		err := s.transitionLocked(ids, func(_ domain.RecordID, e entry) (entry, error) {
			if !e.state.CanTransition(to) {
				return e, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, e.state, to)
			}
			e.state = to
			return e, nil
		})
		if err != nil {
			return nil, err
		}
	}
	if err := s.removeLocked(ids); err != nil {
		return nil, err
	}
	return victims, nil
}

// Stats summarizes the store.
func (s *RecordStore) Stats() ports.StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st ports.StoreStats
	for _, ent := range s.index {
		st.Bytes += int64(ent.size)
		switch ent.state {
		case domain.StatePending:
			st.Pending++
		case domain.StateInFlight:
			st.InFlight++
		case domain.StateDelivered:
			st.Delivered++
		case domain.StateAbandoned:
			st.Abandoned++
		}
	}
	return st
}

// Dir returns the store directory.
func (s *RecordStore) Dir() string {
	return s.dir
}

// Close releases the store. Records left InFlight are recovered as failed
// attempts at the next Open.
func (s *RecordStore) Close() error {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.journal.close()
	s.journal = nil
	if lerr := s.lock.release(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

// load reads the records for ids. Unreadable records are quarantined and
// left out; records removed concurrently are skipped.
func (s *RecordStore) load(ids []domain.RecordID) []domain.Record {
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		data, err := os.ReadFile(s.recordPath(id))
		var env recordEnvelope
		if err == nil {
			env, err = decodeRecordFile(data)
		}
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !s.has(id) {
				continue
			}
			s.dropCorrupt(id, err)
			continue
		}

		s.mu.RLock()
		ent, ok := s.index[id]
		var rec domain.Record
		if ok {
			rec = domain.Record{
				ID:        id,
				Kind:      domain.Kind(env.Kind),
				Payload:   env.Payload,
				CreatedAt: time.Unix(0, env.CreatedAt),
				SessionID: env.SessionID,
				Attempts:  ent.attempts,
				State:     ent.state,
			}
		}
		s.mu.RUnlock()
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

func (s *RecordStore) has(id domain.RecordID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// dropCorrupt removes a damaged record from the index and moves its file
// aside so it can never block other records.
func (s *RecordStore) dropCorrupt(id domain.RecordID, cause error) {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	if s.journal == nil {
		return
	}
	if err := s.journal.append(journalEntry{Op: opRemove, Items: []journalItem{{ID: int64(id)}}}); err != nil {
		s.logger.Error("record store: journal corrupt record removal failed", log.Err(err))
	}
	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()
	s.quarantine(s.recordPath(id), cause)
}

func (s *RecordStore) quarantine(path string, cause error) {
	dst := filepath.Join(s.dir, quarantineDirName,
		fmt.Sprintf("%s.%d", filepath.Base(path), s.now().UnixNano()))
	if err := os.Rename(path, dst); err != nil {
		_ = removeQuiet(path)
	}
	s.logger.Warn("record store: quarantined corrupt record",
		log.String("file", filepath.Base(path)),
		log.Err(cause))
}

func uniqueIDs(ids []domain.RecordID) []domain.RecordID {
	seen := make(map[domain.RecordID]struct{}, len(ids))
	out := make([]domain.RecordID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
