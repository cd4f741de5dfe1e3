// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

// RawReader streams the acquired bytes out of the ring in age order.
// A full pass over a wrapped ring takes at most two copies: oldest
// row up to the effective end, then buffer start up to the write
// cursor.
type RawReader struct {
	encoder *RawEncoder

	readCursor uint32
	started    bool
	finished   bool
}

// TotalSize returns the total number of bytes the reader will produce.
func (r *RawReader) TotalSize() uint32 {
	if r.encoder.Error() {
		return 0
	}
	return r.encoder.entriesCount * r.encoder.entrySize
}

// Finished reports whether the full acquisition has been read out.
func (r *RawReader) Finished() bool { return r.finished }

// Reset rewinds the reader to the oldest valid row.
func (r *RawReader) Reset() {
	r.started = false
	r.finished = false
	r.readCursor = r.encoder.ReadCursor()
}

// Read copies up to len(dst) acquired bytes into dst and returns the
// number of bytes produced. Once the write cursor is reached the
// reader is finished and further calls return 0.
func (r *RawReader) Read(dst []byte) uint32 {
	if r.encoder.Error() {
		return 0
	}

	var outputSize uint32
	maxSize := uint32(len(dst))

	writeCursor := r.encoder.WriteCursor()
	bufferEnd := r.encoder.EffectiveEnd()

	if !r.started {
		r.readCursor = r.encoder.ReadCursor()
	}

	if r.readCursor == writeCursor && r.started {
		r.finished = true
		return 0
	}

	for outputSize < maxSize {
		rightHandStop := bufferEnd
		if writeCursor > r.readCursor {
			rightHandStop = writeCursor
		}
		transferSize := rightHandStop - r.readCursor
		if newMax := maxSize - outputSize; transferSize > newMax {
			transferSize = newMax
		}
		copy(dst[outputSize:], r.encoder.buf[r.readCursor:r.readCursor+transferSize])
		r.readCursor += transferSize
		r.started = true
		outputSize += transferSize
		if r.readCursor > writeCursor && r.readCursor >= bufferEnd {
			r.readCursor -= bufferEnd
		}

		if r.readCursor == writeCursor {
			r.finished = true
			break
		}
	}

	return outputSize
}
