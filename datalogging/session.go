// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

import (
	"hash"
	"hash/crc32"

	"golang.org/x/xerrors"
)

// ReadSession streams a completed acquisition to the host in chunks.
// Each chunk advances a rolling counter and feeds a CRC over the
// delivered byte range, so the host can detect dropped or corrupted
// chunks.
type ReadSession struct {
	reader *RawReader

	total   uint32
	read    uint32
	rolling uint8
	crc     hash.Hash32
}

// StartReadSession opens a read session over the acquired data. It is
// only valid once the acquisition completed; the sampling loop has
// logically stopped writing by then.
func (dl *DataLogger) StartReadSession() (*ReadSession, error) {
	if dl.state != StateAcquisitionCompleted {
		return nil, xerrors.Errorf("no acquisition to read while %v", dl.state)
	}

	r := dl.encoder.Reader()
	r.Reset()
	return &ReadSession{
		reader: r,
		total:  r.TotalSize(),
		crc:    crc32.NewIEEE(),
	}, nil
}

// TotalSize returns the total number of bytes the session delivers.
func (s *ReadSession) TotalSize() uint32 { return s.total }

// Finished reports whether every acquired byte has been delivered.
func (s *ReadSession) Finished() bool { return s.read >= s.total }

// RollingCounter returns the number of chunks delivered so far,
// modulo 256.
func (s *ReadSession) RollingCounter() uint8 { return s.rolling }

// CRC returns the CRC-32 over every byte delivered so far.
func (s *ReadSession) CRC() uint32 { return s.crc.Sum32() }

// Next fills dst with the next chunk of the acquisition and reports
// the chunk size. Reading past the end returns 0.
func (s *ReadSession) Next(dst []byte) uint32 {
	if s.Finished() {
		return 0
	}
	if remaining := s.total - s.read; uint32(len(dst)) > remaining {
		dst = dst[:remaining]
	}

	n := s.reader.Read(dst)
	if n == 0 {
		return 0
	}
	s.read += n
	s.rolling++
	_, _ = s.crc.Write(dst[:n]) // can not fail.
	return n
}
