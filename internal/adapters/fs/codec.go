package fs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/bft-labs/predem/internal/domain"
)

// On-disk frame layout, shared by record files and journal entries:
//
//	magic[4] | body length uint32 BE | blake3-256(body)[32] | body (CBOR)
const (
	recordMagic     = "PDR1"
	journalMagic    = "PDJ1"
	frameHeaderSize = 4 + 4 + 32
	maxFrameBody    = 64 << 20
)

var errTornFrame = errors.New("torn frame")

// encMode encodes with Core Deterministic Encoding so the same record always
// produces the same bytes and checksum.
var encMode cbor.EncMode

// decMode rejects oversized or duplicate-keyed input.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fs: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 10,
	}.DecMode()
	if err != nil {
		panic("fs: CBOR decoder initialization failed: " + err.Error())
	}
}

// recordEnvelope is the immutable body of a record file. Delivery state lives
// in the journal.
type recordEnvelope struct {
	ID        int64  `cbor:"1,keyasint"`
	Kind      uint8  `cbor:"2,keyasint"`
	CreatedAt int64  `cbor:"3,keyasint"`
	SessionID string `cbor:"4,keyasint,omitempty"`
	Payload   []byte `cbor:"5,keyasint"`
}

// Journal operations.
const (
	opSet    uint8 = 1
	opRemove uint8 = 2
	opFloor  uint8 = 3
)

// journalEntry is one atomic state change of one or more records.
type journalEntry struct {
	Op    uint8         `cbor:"1,keyasint"`
	Items []journalItem `cbor:"2,keyasint,omitempty"`
	Floor int64         `cbor:"3,keyasint,omitempty"`
}

type journalItem struct {
	ID       int64 `cbor:"1,keyasint"`
	State    uint8 `cbor:"2,keyasint"`
	Attempts int   `cbor:"3,keyasint,omitempty"`
}

func encodeFrame(magic string, v any) ([]byte, error) {
	body, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame body: %w", err)
	}
	if len(body) > maxFrameBody {
		return nil, fmt.Errorf("frame body too large: %d bytes", len(body))
	}
	sum := blake3.Sum256(body)

	buf := make([]byte, frameHeaderSize+len(body))
	copy(buf[0:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[8:40], sum[:])
	copy(buf[frameHeaderSize:], body)
	return buf, nil
}

// readFrame reads one frame from r into v and returns the number of bytes
// consumed. A frame cut short by EOF yields errTornFrame; a clean EOF before
// any header byte yields io.EOF.
func readFrame(r io.Reader, magic string, v any) (int, error) {
	var hdr [frameHeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return n, errTornFrame
		}
		return n, err
	}
	if string(hdr[0:4]) != magic {
		return n, fmt.Errorf("%w: bad magic", domain.ErrCorruptRecord)
	}
	size := binary.BigEndian.Uint32(hdr[4:8])
	if size > maxFrameBody {
		return n, fmt.Errorf("%w: body length %d", domain.ErrCorruptRecord, size)
	}

	body := make([]byte, size)
	m, err := io.ReadFull(r, body)
	n += m
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return n, errTornFrame
		}
		return n, err
	}
	if sum := blake3.Sum256(body); !bytes.Equal(sum[:], hdr[8:40]) {
		return n, fmt.Errorf("%w: checksum mismatch", domain.ErrCorruptRecord)
	}
	if err := decMode.Unmarshal(body, v); err != nil {
		return n, fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)
	}
	return n, nil
}

// decodeRecordFile parses a complete record file. Any defect, including a
// torn write or trailing bytes, is reported as ErrCorruptRecord.
func decodeRecordFile(data []byte) (recordEnvelope, error) {
	var env recordEnvelope
	r := bytes.NewReader(data)
	n, err := readFrame(r, recordMagic, &env)
	if err != nil {
		if errors.Is(err, errTornFrame) || errors.Is(err, io.EOF) {
			return env, fmt.Errorf("%w: truncated", domain.ErrCorruptRecord)
		}
		return env, err
	}
	if n != len(data) {
		return env, fmt.Errorf("%w: %d trailing bytes", domain.ErrCorruptRecord, len(data)-n)
	}
	if !domain.Kind(env.Kind).Valid() {
		return env, fmt.Errorf("%w: kind %d", domain.ErrCorruptRecord, env.Kind)
	}
	return env, nil
}
