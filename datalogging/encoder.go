// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

import (
	"github.com/scrutiny-go/scrutiny/internal/codecs"
	"github.com/scrutiny-go/scrutiny/target"
)

// RawEncoder packs sample rows into a caller-provided ring buffer
// with a fixed stride. Rows are stored back to back; once the buffer
// is full the oldest row is overwritten one slot ahead of the write
// cursor. Bytes beyond the last entry-aligned offset are never used.
type RawEncoder struct {
	acc *target.Accessor
	tb  *target.Timebase
	cfg *Configuration
	buf []byte

	entrySize  uint32
	maxEntries uint32

	writeIndex      uint32 // next entry slot to write
	firstValidIndex uint32 // oldest valid entry slot
	entriesCount    uint32
	writeCounter    uint32 // rows written since last reset
	full            bool
	err             bool

	reader RawReader
}

// Init attaches the encoder to its collaborators and buffer, then
// resets it against the current configuration.
func (enc *RawEncoder) Init(acc *target.Accessor, tb *target.Timebase, cfg *Configuration, buf []byte) {
	enc.acc = acc
	enc.tb = tb
	enc.cfg = cfg
	enc.buf = buf
	enc.reader.encoder = enc
	enc.Reset()
}

// itemSize returns the encoded size of one loggable item, 0 when the
// item can not be resolved.
func (enc *RawEncoder) itemSize(item Loggable) uint8 {
	switch item := item.(type) {
	case MemoryItem:
		return item.Size
	case RPVItem:
		rpv, ok := enc.acc.GetRPV(item.ID)
		if !ok {
			return 0
		}
		return rpv.Type.Size()
	case TimeItem:
		return codecs.TimestampSize
	default:
		return 0
	}
}

// Reset clears the ring state and recomputes the entry stride from
// the configuration. The encoder latches its error state when the
// buffer is unusable or any item resolves to a zero size.
func (enc *RawEncoder) Reset() {
	enc.writeCounter = 0
	enc.err = false
	enc.writeIndex = 0
	enc.firstValidIndex = 0
	enc.entrySize = 0
	enc.entriesCount = 0
	enc.full = false
	enc.maxEntries = 0

	if enc.buf == nil || len(enc.buf) == 0 {
		enc.err = true
	}

	for i := uint8(0); i < enc.cfg.ItemsCount && !enc.err; i++ {
		size := enc.itemSize(enc.cfg.Items[i])
		if size == 0 {
			enc.err = true
			break
		}
		enc.entrySize += uint32(size)
	}

	if enc.entrySize > 0 {
		enc.maxEntries = uint32(len(enc.buf)) / enc.entrySize
	} else {
		enc.err = true
	}
	if enc.maxEntries == 0 {
		enc.err = true
	}

	enc.reader.Reset()
}

// EncodeNextEntry takes a snapshot of every configured item and
// appends it as one row at the write cursor.
func (enc *RawEncoder) EncodeNextEntry() {
	if enc.err {
		return
	}

	if enc.writeIndex == enc.firstValidIndex && enc.full {
		enc.firstValidIndex++
		if enc.firstValidIndex >= enc.maxEntries {
			enc.firstValidIndex = 0
		}
	}

	cursor := enc.writeIndex * enc.entrySize
	for i := uint8(0); i < enc.cfg.ItemsCount; i++ {
		switch item := enc.cfg.Items[i].(type) {
		case MemoryItem:
			// A rejected read leaves a zero-filled field in the row.
			enc.acc.ReadMemory(enc.buf[cursor:cursor+uint32(item.Size)], item.Addr)
			cursor += uint32(item.Size)
		case RPVItem:
			// Resolvability was checked in Reset.
			rpv, _ := enc.acc.GetRPV(item.ID)
			size := rpv.Type.Size()
			v, _ := enc.acc.ReadRPV(rpv)
			codecs.PutAnyTypeBigEndian(enc.buf[cursor:], v, size)
			cursor += uint32(size)
		case TimeItem:
			codecs.PutTimestampBigEndian(enc.buf[cursor:], enc.tb.Timestamp())
			cursor += codecs.TimestampSize
		}
	}

	if !enc.full {
		enc.entriesCount++
	}

	enc.writeIndex++
	if enc.writeIndex >= enc.maxEntries {
		enc.full = true
		enc.writeIndex = 0
	}

	enc.writeCounter++
}

// Error reports whether the encoder refused to encode.
func (enc *RawEncoder) Error() bool { return enc.err }

// EntrySize returns the byte stride of one row.
func (enc *RawEncoder) EntrySize() uint32 { return enc.entrySize }

// MaxEntries returns the ring capacity in rows.
func (enc *RawEncoder) MaxEntries() uint32 { return enc.maxEntries }

// EntriesCount returns the number of valid rows in the ring.
func (enc *RawEncoder) EntriesCount() uint32 { return enc.entriesCount }

// WriteCounter returns the number of rows written since last reset.
func (enc *RawEncoder) WriteCounter() uint32 { return enc.writeCounter }

// WriteCursor returns the byte offset of the next row.
func (enc *RawEncoder) WriteCursor() uint32 {
	return enc.writeIndex * enc.entrySize
}

// ReadCursor returns the byte offset of the oldest valid row.
func (enc *RawEncoder) ReadCursor() uint32 {
	return enc.firstValidIndex * enc.entrySize
}

// EffectiveEnd returns the entry-aligned high-water byte offset of
// the ring; bytes at or beyond it are unused.
func (enc *RawEncoder) EffectiveEnd() uint32 {
	return enc.maxEntries * enc.entrySize
}

// Reader returns the streaming reader over the ring.
func (enc *RawEncoder) Reader() *RawReader { return &enc.reader }
