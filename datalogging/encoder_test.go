// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/scrutiny-go/scrutiny/target"
)

// u32RingConfig logs a single uint32 memory block, the smallest row
// that still shows ordering.
func u32RingConfig(addr uint64) Configuration {
	cfg := Configuration{
		ItemsCount:    1,
		Decimation:    1,
		ProbeLocation: 128,
		Trigger:       f32VarEquals(64, 1, 0),
	}
	cfg.Items[0] = MemoryItem{Addr: addr, Size: 4}
	return cfg
}

// drain reads the whole acquisition through chunks of the given size.
func drain(r *RawReader, chunk int) []byte {
	var out []byte
	buf := make([]byte, chunk)
	for !r.Finished() {
		n := r.Read(buf)
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return out
}

func TestEncoderRoundTrip(t *testing.T) {
	b := newTestbench(64)
	cfg := u32RingConfig(0)
	enc := b.dl.Encoder()
	if err := b.dl.Configure(&cfg); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	var want []byte
	for i := uint32(0); i < 5; i++ {
		b.setU32(0, 0x11223300+i)
		enc.EncodeNextEntry()
		row := make([]byte, 4)
		binary.LittleEndian.PutUint32(row, 0x11223300+i)
		want = append(want, row...)
	}

	if got, w := enc.EntriesCount(), uint32(5); got != w {
		t.Fatalf("invalid entries count.\ngot = %d\nwant= %d\n", got, w)
	}

	r := enc.Reader()
	r.Reset()
	if got, w := r.TotalSize(), uint32(20); got != w {
		t.Fatalf("invalid total size.\ngot = %d\nwant= %d\n", got, w)
	}
	got := drain(r, 64)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("invalid acquisition bytes: (-want +got)\n%s", diff)
	}
	if !r.Finished() {
		t.Fatalf("reader did not finish")
	}
}

func TestEncoderOverwriteOrdering(t *testing.T) {
	// Ring sized for 4 entries of 4 bytes; write 7 entries, expect
	// entries 3..6 back, in production order.
	b := newTestbench(16)
	cfg := u32RingConfig(0)
	enc := b.dl.Encoder()
	if err := b.dl.Configure(&cfg); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if got, w := enc.MaxEntries(), uint32(4); got != w {
		t.Fatalf("invalid max entries.\ngot = %d\nwant= %d\n", got, w)
	}

	for i := uint32(0); i < 7; i++ {
		b.setU32(0, i)
		enc.EncodeNextEntry()
	}

	if got, w := enc.EntriesCount(), uint32(4); got != w {
		t.Fatalf("invalid entries count.\ngot = %d\nwant= %d\n", got, w)
	}
	if got, w := enc.WriteCounter(), uint32(7); got != w {
		t.Fatalf("invalid write counter.\ngot = %d\nwant= %d\n", got, w)
	}

	var want []byte
	for i := uint32(3); i < 7; i++ {
		row := make([]byte, 4)
		binary.LittleEndian.PutUint32(row, i)
		want = append(want, row...)
	}

	for _, chunk := range []int{16, 5, 3, 1} {
		r := enc.Reader()
		r.Reset()
		got := drain(r, chunk)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("chunk=%d: invalid acquisition bytes: (-want +got)\n%s", chunk, diff)
		}
	}
}

func TestEncoderBoundedStride(t *testing.T) {
	// 3-byte rows in a 16-byte buffer: 5 entries, effective end 15,
	// one byte never used.
	b := newTestbench(16)
	cfg := Configuration{
		ItemsCount:    1,
		Decimation:    1,
		ProbeLocation: 128,
		Trigger:       f32VarEquals(64, 1, 0),
	}
	cfg.Items[0] = MemoryItem{Addr: 0, Size: 3}
	enc := b.dl.Encoder()
	if err := b.dl.Configure(&cfg); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	if got, w := enc.EffectiveEnd(), uint32(15); got != w {
		t.Fatalf("invalid effective end.\ngot = %d\nwant= %d\n", got, w)
	}

	for i := 0; i < 23; i++ {
		enc.EncodeNextEntry()
		if cur := enc.WriteCursor(); cur+enc.EntrySize() > enc.EffectiveEnd() && cur != 0 {
			t.Fatalf("write %d: cursor %d overruns effective end %d", i, cur, enc.EffectiveEnd())
		}
	}
}

func TestEncoderRPVBigEndian(t *testing.T) {
	// RPV 0x1234 of type uint32 reads 0xaabbccdd: the row must carry
	// AA BB CC DD regardless of the target's native layout.
	b := newTestbench(64)
	cfg := Configuration{
		ItemsCount:    3,
		Decimation:    1,
		ProbeLocation: 128,
		Trigger:       f32VarEquals(64, 1, 0),
	}
	cfg.Items[0] = MemoryItem{Addr: 0, Size: 2}
	cfg.Items[1] = RPVItem{ID: 0x1234}
	cfg.Items[2] = TimeItem{}
	enc := b.dl.Encoder()
	if err := b.dl.Configure(&cfg); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	if got, w := enc.EntrySize(), uint32(2+4+4); got != w {
		t.Fatalf("invalid entry size.\ngot = %d\nwant= %d\n", got, w)
	}

	b.mem[0] = 0x01
	b.mem[1] = 0x02
	b.tb.Step(0x00010203)
	enc.EncodeNextEntry()

	r := enc.Reader()
	r.Reset()
	got := drain(r, 64)
	want := []byte{
		0x01, 0x02, // memory block, native layout
		0xaa, 0xbb, 0xcc, 0xdd, // RPV, big-endian
		0x00, 0x01, 0x02, 0x03, // timestamp, big-endian
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("invalid row bytes: (-want +got)\n%s", diff)
	}
}

func TestEncoderErrorStates(t *testing.T) {
	for _, tt := range []struct {
		name string
		buf  []byte
		cfg  func() Configuration
	}{
		{
			name: "nil-buffer",
			buf:  nil,
			cfg:  func() Configuration { return u32RingConfig(0) },
		},
		{
			name: "buffer-smaller-than-entry",
			buf:  make([]byte, 3),
			cfg:  func() Configuration { return u32RingConfig(0) },
		},
		{
			name: "unknown-rpv-item",
			buf:  make([]byte, 64),
			cfg: func() Configuration {
				cfg := u32RingConfig(0)
				cfg.Items[0] = RPVItem{ID: 0xdead}
				return cfg
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestbench(64)
			cfg := tt.cfg()
			var enc RawEncoder
			enc.Init(b.acc, b.tb, &cfg, tt.buf)
			if !enc.Error() {
				t.Fatalf("encoder accepted an invalid setup")
			}
			enc.EncodeNextEntry()
			if got := enc.WriteCounter(); got != 0 {
				t.Fatalf("encoder in error still encoded %d rows", got)
			}
			if got := enc.Reader().TotalSize(); got != 0 {
				t.Fatalf("reader in error reports %d bytes", got)
			}
		})
	}
}

func TestEncoderZeroFillOnRejectedRead(t *testing.T) {
	b := newTestbench(64)
	b.acc.SetForbiddenRanges([]target.AddressRange{target.MakeAddressRange(0, 4)})
	cfg := u32RingConfig(0)
	enc := b.dl.Encoder()
	if err := b.dl.Configure(&cfg); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	b.setU32(4, 0xffffffff) // neighbour field, must not leak
	enc.EncodeNextEntry()

	r := enc.Reader()
	r.Reset()
	got := drain(r, 64)
	if diff := cmp.Diff([]byte{0, 0, 0, 0}, got); diff != "" {
		t.Fatalf("rejected read did not zero-fill: (-want +got)\n%s", diff)
	}
}
