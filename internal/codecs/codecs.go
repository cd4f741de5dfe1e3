// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codecs holds the encoding helpers shared by the datalogging
// encoder and the wire protocol.
package codecs // import "github.com/scrutiny-go/scrutiny/internal/codecs"

import (
	"encoding/binary"

	"github.com/scrutiny-go/scrutiny/target"
)

// PutAnyTypeBigEndian serializes a value into exactly size big-endian
// bytes. It returns the number of bytes written, 0 when the size is
// not a supported scalar width.
func PutAnyTypeBigEndian(dst []byte, v target.AnyType, size uint8) uint8 {
	bits := v.Bits()
	switch size {
	case 1:
		dst[0] = uint8(bits)
	case 2:
		binary.BigEndian.PutUint16(dst[:2], uint16(bits))
	case 4:
		binary.BigEndian.PutUint32(dst[:4], uint32(bits))
	case 8:
		binary.BigEndian.PutUint64(dst[:8], bits)
	default:
		return 0
	}
	return size
}

// PutTimestampBigEndian serializes the 32-bit agent timestamp.
func PutTimestampBigEndian(dst []byte, ts uint32) {
	binary.BigEndian.PutUint32(dst[:4], ts)
}

// TimestampSize is the encoded size of an agent timestamp.
const TimestampSize = 4
