// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package iomux provides goroutine-safe I/O primitives shared by the
// agent's execution contexts.
package iomux // import "github.com/scrutiny-go/scrutiny/internal/iomux"

import (
	"io"
	"sync"
)

// Writer is a goroutine-safe io.Writer usable as the sink of several
// message streams.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.w.Write(p)
	w.mu.Unlock()
	return n, err
}

// Sync flushes the underlying writer when it supports it.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

var (
	_ io.Writer = (*Writer)(nil)
)
