// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codecs // import "github.com/scrutiny-go/scrutiny/internal/codecs"

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/scrutiny-go/scrutiny/target"
)

func TestPutAnyTypeBigEndian(t *testing.T) {
	for _, tt := range []struct {
		name string
		val  target.AnyType
		size uint8
		want []byte
	}{
		{
			name: "u8",
			val:  target.AnyUint(target.Uint8, 0xa5),
			size: 1,
			want: []byte{0xa5},
		},
		{
			name: "u16",
			val:  target.AnyUint(target.Uint16, 0x1234),
			size: 2,
			want: []byte{0x12, 0x34},
		},
		{
			name: "u32",
			val:  target.AnyUint(target.Uint32, 0xaabbccdd),
			size: 4,
			want: []byte{0xaa, 0xbb, 0xcc, 0xdd},
		},
		{
			name: "u64",
			val:  target.AnyUint(target.Uint64, 0x0102030405060708),
			size: 8,
			want: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		},
		{
			name: "f32",
			val:  target.AnyFloat32(3.1415926),
			size: 4,
			want: []byte{0x40, 0x49, 0x0f, 0xda},
		},
		{
			name: "negative-int-truncated-to-width",
			val:  target.AnyInt(target.Int16, -2),
			size: 2,
			want: []byte{0xff, 0xfe},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]byte, 8)
			n := PutAnyTypeBigEndian(dst, tt.val, tt.size)
			if n != tt.size {
				t.Fatalf("invalid encoded size.\ngot = %d\nwant= %d\n", n, tt.size)
			}
			if diff := cmp.Diff(tt.want, dst[:n]); diff != "" {
				t.Fatalf("invalid encoding: (-want +got)\n%s", diff)
			}
		})
	}

	var dst [8]byte
	if n := PutAnyTypeBigEndian(dst[:], target.AnyType{}, 3); n != 0 {
		t.Fatalf("unsupported width accepted: n=%d", n)
	}
}
