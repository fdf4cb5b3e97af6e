package store

import (
	"encoding/binary"
	"math"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/scasim/tvla/pkg/moments"
)

// Persisted chunk payload: a little-endian header followed by the
// per-index statistics, snappy-compressed as a whole.
//
//	magic   uint32  'TVAC'
//	version uint16
//	order   uint16
//	length  uint32
//	per index: n uint64, mean float64, M2..M_order float64
const (
	codecMagic   = 0x54564143 // "TVAC"
	codecVersion = 1
)

var (
	// ErrBadPayload is returned when a persisted chunk cannot be
	// decoded. It indicates on-disk corruption, not a caller error.
	ErrBadPayload = errors.New("store: undecodable chunk payload")
)

const headerSize = 4 + 2 + 2 + 4

// encodeStats serializes the per-index statistics of an accumulator.
func encodeStats(order int, stats []moments.IndexStats) []byte {
	perIndex := 8 + 8*order // n + mean + M2..M_order
	raw := make([]byte, headerSize+perIndex*len(stats))

	binary.LittleEndian.PutUint32(raw[0:], codecMagic)
	binary.LittleEndian.PutUint16(raw[4:], codecVersion)
	binary.LittleEndian.PutUint16(raw[6:], uint16(order))
	binary.LittleEndian.PutUint32(raw[8:], uint32(len(stats)))

	off := headerSize
	for i := range stats {
		s := &stats[i]
		binary.LittleEndian.PutUint64(raw[off:], s.N)
		binary.LittleEndian.PutUint64(raw[off+8:], math.Float64bits(s.Mean))
		binary.LittleEndian.PutUint64(raw[off+16:], math.Float64bits(s.M2))
		off += 24
		if order >= 3 {
			binary.LittleEndian.PutUint64(raw[off:], math.Float64bits(s.M3))
			off += 8
		}
		if order >= 4 {
			binary.LittleEndian.PutUint64(raw[off:], math.Float64bits(s.M4))
			off += 8
		}
	}
	return snappy.Encode(nil, raw)
}

// decodeStats deserializes a chunk payload back into per-index
// statistics, returning the moment order it was written with.
func decodeStats(payload []byte) (int, []moments.IndexStats, error) {
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return 0, nil, errors.Wrap(ErrBadPayload, err.Error())
	}
	if len(raw) < headerSize {
		return 0, nil, errors.Wrapf(ErrBadPayload, "short header: %d bytes", len(raw))
	}
	if binary.LittleEndian.Uint32(raw[0:]) != codecMagic {
		return 0, nil, errors.Wrap(ErrBadPayload, "bad magic")
	}
	if v := binary.LittleEndian.Uint16(raw[4:]); v != codecVersion {
		return 0, nil, errors.Wrapf(ErrBadPayload, "unsupported payload version %d", v)
	}
	order := int(binary.LittleEndian.Uint16(raw[6:]))
	if order < moments.MinOrder || order > moments.MaxOrder {
		return 0, nil, errors.Wrapf(ErrBadPayload, "moment order %d out of range", order)
	}
	length := int(binary.LittleEndian.Uint32(raw[8:]))

	perIndex := 8 + 8*order
	if len(raw) != headerSize+perIndex*length {
		return 0, nil, errors.Wrapf(ErrBadPayload, "size %d does not match order %d length %d", len(raw), order, length)
	}

	stats := make([]moments.IndexStats, length)
	off := headerSize
	for i := range stats {
		s := &stats[i]
		s.N = binary.LittleEndian.Uint64(raw[off:])
		s.Mean = math.Float64frombits(binary.LittleEndian.Uint64(raw[off+8:]))
		s.M2 = math.Float64frombits(binary.LittleEndian.Uint64(raw[off+16:]))
		off += 24
		if order >= 3 {
			s.M3 = math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
			off += 8
		}
		if order >= 4 {
			s.M4 = math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
			off += 8
		}
	}
	return order, stats, nil
}
