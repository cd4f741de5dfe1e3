// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol // import "github.com/scrutiny-go/scrutiny/protocol"

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"

	"golang.org/x/xerrors"
)

// Encoder serializes big-endian payload fields into an io.Writer.
// The first error sticks; later writes are dropped.
type Encoder struct {
	w   io.Writer
	err error

	buf []byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 8)}
}

func (enc *Encoder) Err() error { return enc.err }

func (enc *Encoder) WriteU8(v uint8) {
	if enc.err != nil {
		return
	}
	enc.buf[0] = v
	_, enc.err = enc.w.Write(enc.buf[:1])
}

func (enc *Encoder) WriteU16(v uint16) {
	if enc.err != nil {
		return
	}
	binary.BigEndian.PutUint16(enc.buf[:2], v)
	_, enc.err = enc.w.Write(enc.buf[:2])
}

func (enc *Encoder) WriteU32(v uint32) {
	if enc.err != nil {
		return
	}
	binary.BigEndian.PutUint32(enc.buf[:4], v)
	_, enc.err = enc.w.Write(enc.buf[:4])
}

func (enc *Encoder) WriteU64(v uint64) {
	if enc.err != nil {
		return
	}
	binary.BigEndian.PutUint64(enc.buf[:8], v)
	_, enc.err = enc.w.Write(enc.buf[:8])
}

func (enc *Encoder) WriteF32(v float32) {
	enc.WriteU32(math.Float32bits(v))
}

func (enc *Encoder) WriteBytes(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
}

// Decoder reads big-endian payload fields from an io.Reader with the
// same sticky-error discipline.
type Decoder struct {
	r   io.Reader
	err error
	buf []byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, buf: make([]byte, 8)}
}

func (dec *Decoder) Err() error { return dec.err }

func (dec *Decoder) load(n int) {
	if dec.err != nil {
		copy(dec.buf, []byte{0, 0, 0, 0, 0, 0, 0, 0})
		return
	}
	_, dec.err = io.ReadFull(dec.r, dec.buf[:n])
}

func (dec *Decoder) ReadU8() uint8 {
	dec.load(1)
	return dec.buf[0]
}

func (dec *Decoder) ReadU16() uint16 {
	dec.load(2)
	return binary.BigEndian.Uint16(dec.buf[:2])
}

func (dec *Decoder) ReadU32() uint32 {
	dec.load(4)
	return binary.BigEndian.Uint32(dec.buf[:4])
}

func (dec *Decoder) ReadU64() uint64 {
	dec.load(8)
	return binary.BigEndian.Uint64(dec.buf[:8])
}

func (dec *Decoder) ReadF32() float32 {
	return math.Float32frombits(dec.ReadU32())
}

// request/response header and trailer sizes.
const (
	reqHeaderLen  = 4 // cmd + subfn + len
	respHeaderLen = 5 // cmd + subfn + code + len
	crcLen        = 4
)

// EncodeRequest frames a request into dst and returns the frame size.
func EncodeRequest(dst []byte, req Request) (int, error) {
	total := reqHeaderLen + len(req.Data) + crcLen
	if total > len(dst) {
		return 0, xerrors.Errorf("protocol: request of %d bytes overflows %d-byte buffer", total, len(dst))
	}
	dst[0] = uint8(req.Command)
	dst[1] = req.Subfunction
	binary.BigEndian.PutUint16(dst[2:4], uint16(len(req.Data)))
	copy(dst[4:], req.Data)
	crc := crc32.ChecksumIEEE(dst[: total-crcLen : total-crcLen])
	binary.BigEndian.PutUint32(dst[total-crcLen:total], crc)
	return total, nil
}

// EncodeResponse frames a response into dst and returns the frame
// size. The command id carries the response flag on the wire.
func EncodeResponse(dst []byte, resp Response) (int, error) {
	total := respHeaderLen + len(resp.Data) + crcLen
	if total > len(dst) {
		return 0, xerrors.Errorf("protocol: response of %d bytes overflows %d-byte buffer", total, len(dst))
	}
	dst[0] = uint8(resp.Command) | responseFlag
	dst[1] = resp.Subfunction
	dst[2] = uint8(resp.Code)
	binary.BigEndian.PutUint16(dst[3:5], uint16(len(resp.Data)))
	copy(dst[5:], resp.Data)
	crc := crc32.ChecksumIEEE(dst[: total-crcLen : total-crcLen])
	binary.BigEndian.PutUint32(dst[total-crcLen:total], crc)
	return total, nil
}

// DecodeResponse parses a framed response, validating its CRC.
func DecodeResponse(frame []byte) (Response, error) {
	var resp Response
	if len(frame) < respHeaderLen+crcLen {
		return resp, xerrors.Errorf("protocol: response frame too short (%d bytes)", len(frame))
	}
	n := binary.BigEndian.Uint16(frame[3:5])
	total := respHeaderLen + int(n) + crcLen
	if len(frame) < total {
		return resp, xerrors.Errorf("protocol: truncated response (got %d bytes, want %d)", len(frame), total)
	}
	want := binary.BigEndian.Uint32(frame[total-crcLen : total])
	if got := crc32.ChecksumIEEE(frame[:total-crcLen]); got != want {
		return resp, xerrors.Errorf("protocol: response CRC mismatch (got=0x%08x, want=0x%08x)", got, want)
	}
	if frame[0]&responseFlag == 0 {
		return resp, xerrors.Errorf("protocol: frame is not a response (cmd=0x%02x)", frame[0])
	}
	resp.Command = CommandID(frame[0] &^ responseFlag)
	resp.Subfunction = frame[1]
	resp.Code = ResponseCode(frame[2])
	resp.Data = frame[respHeaderLen : respHeaderLen+int(n)]
	return resp, nil
}
