// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package loop // import "github.com/scrutiny-go/scrutiny/loop"

import (
	"testing"

	"github.com/scrutiny-go/scrutiny/datalogging"
	"github.com/scrutiny-go/scrutiny/target"
)

func newLoopBench() (*Handler, *Handler, *datalogging.DataLogger) {
	acc := target.NewAccessor(make(target.RAM, 64))
	dl := new(datalogging.DataLogger)

	fast := NewFixedFreqHandler("fast-loop", 100, nil)
	slow := NewFixedFreqHandler("slow-loop", 1000, nil)

	dl.Init(acc, fast.Timebase(), make([]byte, 64))
	fast.AttachDatalogger(dl, true)
	slow.AttachDatalogger(dl, false)
	return fast, slow, dl
}

func simpleConfig() *datalogging.Configuration {
	cfg := &datalogging.Configuration{
		ItemsCount:    1,
		Decimation:    1,
		ProbeLocation: 255,
		Trigger: datalogging.TriggerConfig{
			Condition:    datalogging.GreaterThan,
			OperandCount: 2,
			Operands: [datalogging.MaxOperands]datalogging.Operand{
				datalogging.Var{Addr: 0, Type: target.Uint32},
				datalogging.Literal{Val: 100},
			},
		},
	}
	cfg.Items[0] = datalogging.MemoryItem{Addr: 0, Size: 4}
	return cfg
}

// drainMain empties the loop-to-main channel and returns the last
// message of the wanted type, if any.
func drainMain(h *Handler, want MsgType) (Message, bool) {
	var (
		last  Message
		found bool
	)
	for {
		m, ok := h.Poll()
		if !ok {
			return last, found
		}
		if m.Type == want {
			last, found = m, true
		}
	}
}

func TestLoopControlMessages(t *testing.T) {
	fast, _, dl := newLoopBench()

	if !fast.Send(Message{Type: MsgConfigure, Config: simpleConfig()}) {
		t.Fatalf("could not post configure")
	}
	fast.Process(0)
	if got := dl.State(); got != datalogging.StateConfigured {
		t.Fatalf("invalid state.\ngot = %v\nwant= %v\n", got, datalogging.StateConfigured)
	}

	if !fast.Send(Message{Type: MsgArm}) {
		t.Fatalf("could not post arm")
	}
	fast.Process(0)
	if got := dl.State(); got != datalogging.StateArmed {
		t.Fatalf("invalid state.\ngot = %v\nwant= %v\n", got, datalogging.StateArmed)
	}

	m, ok := drainMain(fast, MsgStateUpdate)
	if !ok {
		t.Fatalf("no state update published")
	}
	if m.Data.State != datalogging.StateArmed {
		t.Fatalf("invalid published state.\ngot = %v\nwant= %v\n", m.Data.State, datalogging.StateArmed)
	}

	if !fast.Send(Message{Type: MsgDisarm}) {
		t.Fatalf("could not post disarm")
	}
	fast.Process(0)
	if got := dl.State(); got != datalogging.StateConfigured {
		t.Fatalf("invalid state.\ngot = %v\nwant= %v\n", got, datalogging.StateConfigured)
	}
}

func TestLoopSampling(t *testing.T) {
	fast, _, dl := newLoopBench()

	fast.Send(Message{Type: MsgConfigure, Config: simpleConfig()})
	fast.Send(Message{Type: MsgArm})
	fast.Process(0)

	for i := 0; i < 5; i++ {
		fast.Process(0)
	}
	// The arming tick samples too: 6 rows after 1+5 ticks.
	if got, want := dl.Encoder().WriteCounter(), uint32(6); got != want {
		t.Fatalf("invalid sample count.\ngot = %d\nwant= %d\n", got, want)
	}
}

func TestOwnershipHandshake(t *testing.T) {
	fast, slow, dl := newLoopBench()

	if !fast.OwnsDatalogger() || slow.OwnsDatalogger() {
		t.Fatalf("invalid initial ownership")
	}

	fast.Send(Message{Type: MsgReleaseOwnership})
	fast.Process(0)
	if _, ok := drainMain(fast, MsgOwnershipReleased); !ok {
		t.Fatalf("owner did not acknowledge the release")
	}
	if fast.OwnsDatalogger() {
		t.Fatalf("owner kept ownership after release")
	}

	slow.Send(Message{Type: MsgClaimOwnership})
	slow.Process(0)
	if !slow.OwnsDatalogger() {
		t.Fatalf("new owner did not claim")
	}
	if dl.InError() {
		t.Fatalf("clean handshake latched fault %v", dl.Fault())
	}
}

func TestOwnershipViolations(t *testing.T) {
	t.Run("unexpected-release", func(t *testing.T) {
		_, slow, dl := newLoopBench()
		slow.Send(Message{Type: MsgReleaseOwnership})
		slow.Process(0)
		if got, want := dl.Fault(), datalogging.FaultUnexpectedRelease; got != want {
			t.Fatalf("invalid fault.\ngot = %v\nwant= %v\n", got, want)
		}
		m, ok := drainMain(slow, MsgError)
		if !ok || m.Fault != datalogging.FaultUnexpectedRelease {
			t.Fatalf("violation not reported to main")
		}
	})

	t.Run("unexpected-claim", func(t *testing.T) {
		fast, _, dl := newLoopBench()
		fast.Send(Message{Type: MsgClaimOwnership})
		fast.Process(0)
		if got, want := dl.Fault(), datalogging.FaultUnexpectedClaim; got != want {
			t.Fatalf("invalid fault.\ngot = %v\nwant= %v\n", got, want)
		}
	})

	t.Run("command-without-ownership", func(t *testing.T) {
		_, slow, dl := newLoopBench()
		slow.Send(Message{Type: MsgArm})
		slow.Process(0)
		if got, want := dl.Fault(), datalogging.FaultUnexpectedClaim; got != want {
			t.Fatalf("invalid fault.\ngot = %v\nwant= %v\n", got, want)
		}
	})
}

func TestLoopTimebase(t *testing.T) {
	fast, _, _ := newLoopBench()
	for i := 0; i < 5; i++ {
		fast.Process(0)
	}
	if got, want := fast.Timebase().Timestamp(), uint32(500); got != want {
		t.Fatalf("invalid fixed-freq timebase.\ngot = %d\nwant= %d\n", got, want)
	}

	vfl := NewVariableFreqHandler("vfl", nil)
	vfl.Process(123)
	vfl.Process(77)
	if got, want := vfl.Timebase().Timestamp(), uint32(200); got != want {
		t.Fatalf("invalid variable-freq timebase.\ngot = %d\nwant= %d\n", got, want)
	}
}
