// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scrutiny implements the on-target agent of a remote
// debugger: firmware state is exposed to an external host over a
// byte-oriented link, with policy-checked memory access, runtime
// published values and an embedded datalogger.
//
// The MainHandler runs in the main context and processes host
// requests; sampling runs in loop handlers (package loop) which own
// the datalogger (package datalogging) and exchange bounded,
// non-blocking messages with the main handler.
package scrutiny // import "github.com/scrutiny-go/scrutiny"
