// wire.go implements the length-delimited request/response framing
// shared by block sync, state sync, and light client protocols: an
// unsigned-varint length prefix followed by a protobuf-wire-format
// payload (spec §4.9). Payloads are hand-assembled with protowire
// rather than protoc-generated, since the message shapes here are a
// handful of small request/response structs, not a full schema.
package sync

import (
	"bufio"
	"errors"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire errors.
var (
	ErrFrameTooLarge  = errors.New("sync: frame exceeds maximum size")
	ErrBadDirection   = errors.New("sync: direction field out of range")
	ErrTruncatedField = errors.New("sync: truncated protobuf field")
)

// MaxFrameSize bounds a single request/response payload.
const MaxFrameSize = 16 << 20

// Direction selects ascending or descending block delivery order. The
// wire carries it as an enum with values 0 and 1; anything else fails
// decoding.
type Direction uint8

const (
	Ascending  Direction = 0
	Descending Direction = 1
)

// WriteFrame writes payload to w prefixed by its length as an unsigned
// varint, matching the wire framing every sync protocol id shares.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf []byte
	lenBuf = protowire.AppendVarint(lenBuf, uint64(len(payload)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed payload from r.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readUvarint(r *bufio.Reader) (uint64, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
		if len(buf) > 10 {
			return 0, ErrTruncatedField
		}
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

// appendBytesField appends a length-delimited field if data is non-nil.
func appendBytesField(b []byte, num protowire.Number, data []byte) []byte {
	if data == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// fieldVisitor is called once per top-level field encountered while
// parsing a message; it returns the number of bytes consumed for the
// field's value, or a negative protowire.ParseError.
type fieldVisitor func(num protowire.Number, typ protowire.Type, rest []byte) int

// parseFields walks buf's tag/value pairs, dispatching each to visit.
// Unknown fields are skipped (forward compatible with additions).
func parseFields(buf []byte, visit fieldVisitor) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]
		consumed := visit(num, typ, buf)
		if consumed < 0 {
			return protowire.ParseError(consumed)
		}
		buf = buf[consumed:]
	}
	return nil
}

// ---- Block sync messages (spec §4.7) ----

// BlockRequest asks a peer for a range of blocks.
type BlockRequest struct {
	ID         uint64
	Fields     uint8 // 5-bit part mask: header/body/receipt/message_queue/justification
	FromHash   []byte
	FromNumber uint64
	HasFromNumber bool
	ToHash     []byte
	Direction  Direction
	Max        uint32
}

func (r *BlockRequest) Encode() []byte {
	var b []byte
	b = appendVarintField(b, 1, r.ID)
	b = appendVarintField(b, 2, uint64(r.Fields))
	b = appendBytesField(b, 3, r.FromHash)
	if r.HasFromNumber {
		b = appendVarintField(b, 4, r.FromNumber)
	}
	b = appendBytesField(b, 5, r.ToHash)
	b = appendVarintField(b, 6, uint64(r.Direction))
	if r.Max > 0 {
		b = appendVarintField(b, 7, uint64(r.Max))
	}
	return b
}

func DecodeBlockRequest(buf []byte) (*BlockRequest, error) {
	r := &BlockRequest{}
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, rest []byte) int {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(rest)
			r.ID = v
			return n
		case 2:
			v, n := protowire.ConsumeVarint(rest)
			r.Fields = uint8(v)
			return n
		case 3:
			v, n := protowire.ConsumeBytes(rest)
			r.FromHash = append([]byte{}, v...)
			return n
		case 4:
			v, n := protowire.ConsumeVarint(rest)
			r.FromNumber = v
			r.HasFromNumber = true
			return n
		case 5:
			v, n := protowire.ConsumeBytes(rest)
			r.ToHash = append([]byte{}, v...)
			return n
		case 6:
			v, n := protowire.ConsumeVarint(rest)
			r.Direction = Direction(v)
			return n
		case 7:
			v, n := protowire.ConsumeVarint(rest)
			r.Max = uint32(v)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, rest)
		}
	})
	if err != nil {
		return nil, err
	}
	if r.Direction != Ascending && r.Direction != Descending {
		return nil, ErrBadDirection
	}
	return r, nil
}

// Fingerprint returns the dedup key for this request: a hash of
// (fields, from, to, direction, max) (spec §4.7 "request fingerprint").
func (r *BlockRequest) Fingerprint() uint64 {
	return fingerprintRequest(r.Fields, r.FromHash, r.FromNumber, r.ToHash, r.Direction, r.Max)
}

// BlockData is one delivered block; fields beyond Hash are present only
// if requested.
type BlockData struct {
	Hash          []byte
	Header        []byte
	Body          []byte
	Receipt       []byte
	MessageQueue  []byte
	Justification []byte
}

func (d *BlockData) encode() []byte {
	var b []byte
	b = appendBytesField(b, 1, d.Hash)
	b = appendBytesField(b, 2, d.Header)
	b = appendBytesField(b, 3, d.Body)
	b = appendBytesField(b, 4, d.Receipt)
	b = appendBytesField(b, 5, d.MessageQueue)
	b = appendBytesField(b, 6, d.Justification)
	return b
}

func decodeBlockData(buf []byte) (*BlockData, error) {
	d := &BlockData{}
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, rest []byte) int {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(rest)
			d.Hash = append([]byte{}, v...)
			return n
		case 2:
			v, n := protowire.ConsumeBytes(rest)
			d.Header = append([]byte{}, v...)
			return n
		case 3:
			v, n := protowire.ConsumeBytes(rest)
			d.Body = append([]byte{}, v...)
			return n
		case 4:
			v, n := protowire.ConsumeBytes(rest)
			d.Receipt = append([]byte{}, v...)
			return n
		case 5:
			v, n := protowire.ConsumeBytes(rest)
			d.MessageQueue = append([]byte{}, v...)
			return n
		case 6:
			v, n := protowire.ConsumeBytes(rest)
			d.Justification = append([]byte{}, v...)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, rest)
		}
	})
	return d, err
}

// BlockResponse carries the blocks satisfying a BlockRequest, in the
// order requested; the importer applies them in order and aborts the
// batch on a gap or bad parent.
type BlockResponse struct {
	ID     uint64
	Blocks []*BlockData
}

func (r *BlockResponse) Encode() []byte {
	var b []byte
	b = appendVarintField(b, 1, r.ID)
	for _, blk := range r.Blocks {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, blk.encode())
	}
	return b
}

func DecodeBlockResponse(buf []byte) (*BlockResponse, error) {
	r := &BlockResponse{}
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, rest []byte) int {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(rest)
			r.ID = v
			return n
		case 2:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return n
			}
			blk, err := decodeBlockData(v)
			if err != nil {
				return -1
			}
			r.Blocks = append(r.Blocks, blk)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, rest)
		}
	})
	return r, err
}

// ---- State sync messages (spec §4.8) ----

// StateRequest asks for one cursor step's worth of trie nodes.
type StateRequest struct {
	BlockHash []byte
	Start     [][]byte // one nibble-prefix per cursor level
	NoProof   bool
}

func (r *StateRequest) Encode() []byte {
	var b []byte
	b = appendBytesField(b, 1, r.BlockHash)
	for _, prefix := range r.Start {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, prefix)
	}
	if r.NoProof {
		b = appendVarintField(b, 3, 1)
	}
	return b
}

func DecodeStateRequest(buf []byte) (*StateRequest, error) {
	r := &StateRequest{}
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, rest []byte) int {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(rest)
			r.BlockHash = append([]byte{}, v...)
			return n
		case 2:
			v, n := protowire.ConsumeBytes(rest)
			r.Start = append(r.Start, append([]byte{}, v...))
			return n
		case 3:
			v, n := protowire.ConsumeVarint(rest)
			r.NoProof = v != 0
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, rest)
		}
	})
	return r, err
}

// StateEntry is one key/value pair of reconstructed storage.
type StateEntry struct {
	Key   []byte
	Value []byte
}

// StateLevel is one cursor level's worth of entries.
type StateLevel struct {
	StateRoot []byte
	Entries   []StateEntry
	Complete  bool
}

// StateResponse answers a StateRequest with the entries found at each
// cursor level, plus a compact trie proof covering all of them.
type StateResponse struct {
	Levels []StateLevel
	Proof  []byte
}

func (r *StateResponse) Encode() []byte {
	var b []byte
	for _, lvl := range r.Levels {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeStateLevel(lvl))
	}
	b = appendBytesField(b, 2, r.Proof)
	return b
}

func encodeStateLevel(lvl StateLevel) []byte {
	var b []byte
	b = appendBytesField(b, 1, lvl.StateRoot)
	for _, e := range lvl.Entries {
		var eb []byte
		eb = appendBytesField(eb, 1, e.Key)
		eb = appendBytesField(eb, 2, e.Value)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	if lvl.Complete {
		b = appendVarintField(b, 3, 1)
	}
	return b
}

func decodeStateLevel(buf []byte) (StateLevel, error) {
	var lvl StateLevel
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, rest []byte) int {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(rest)
			lvl.StateRoot = append([]byte{}, v...)
			return n
		case 2:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return n
			}
			var e StateEntry
			err := parseFields(v, func(num protowire.Number, typ protowire.Type, rest []byte) int {
				switch num {
				case 1:
					kv, kn := protowire.ConsumeBytes(rest)
					e.Key = append([]byte{}, kv...)
					return kn
				case 2:
					vv, vn := protowire.ConsumeBytes(rest)
					e.Value = append([]byte{}, vv...)
					return vn
				default:
					return protowire.ConsumeFieldValue(num, typ, rest)
				}
			})
			if err != nil {
				return -1
			}
			lvl.Entries = append(lvl.Entries, e)
			return n
		case 3:
			v, n := protowire.ConsumeVarint(rest)
			lvl.Complete = v != 0
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, rest)
		}
	})
	return lvl, err
}

func DecodeStateResponse(buf []byte) (*StateResponse, error) {
	r := &StateResponse{}
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, rest []byte) int {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return n
			}
			lvl, err := decodeStateLevel(v)
			if err != nil {
				return -1
			}
			r.Levels = append(r.Levels, lvl)
			return n
		case 2:
			v, n := protowire.ConsumeBytes(rest)
			r.Proof = append([]byte{}, v...)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, rest)
		}
	})
	return r, err
}
