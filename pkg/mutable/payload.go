// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mutable

import (
	"github.com/gomlx/mutablecl/pkg/core/commands"
	"github.com/gomlx/mutablecl/pkg/core/kernel"
)

// payload routes writes of a launch payload. Offsets are those of the kernel descriptor: the
// first inlineSize bytes are delivered in the walker inline data, the rest are the cross-thread
// data in the indirect heap.
type payload struct {
	walker     commands.Walker
	inlineSize int

	// crossThread is the part of the payload in the indirect heap, aligned to the GRF size.
	crossThread []byte

	// perThread is the space reserved for per-thread local ids, right after crossThread.
	perThread []byte

	// heapAddress is the GPU address of crossThread.
	heapAddress uint64

	// onInlineWrite is called after every write to the walker inline data.
	onInlineWrite func()
}

// location splits a payload range into the part delivered inline and the part in the
// cross-thread data. Either part may be empty.
func (p *payload) location(offset, size int) (inlineSize int, crossThreadOffset int) {
	if offset >= p.inlineSize {
		return 0, offset - p.inlineSize
	}
	inlineSize = min(size, p.inlineSize-offset)
	return inlineSize, 0
}

// write writes data at the payload offset.
func (p *payload) write(offset kernel.Offset, data []byte) {
	inlineSize, crossThreadOffset := p.location(int(offset), len(data))
	if inlineSize > 0 {
		p.writeInline(int(offset), data[:inlineSize])
	}
	if rest := data[inlineSize:]; len(rest) > 0 {
		p.writeCrossThread(crossThreadOffset, rest)
	}
}

func (p *payload) writeInline(offset int, data []byte) {
	p.walker.WriteInlineData(offset, data)
	if p.onInlineWrite != nil {
		p.onInlineWrite()
	}
}

func (p *payload) writeCrossThread(offset int, data []byte) {
	copy(p.crossThread[offset:offset+len(data)], data)
}

// writeUint32 writes a 32-bit value at offset, if defined.
func (p *payload) writeUint32(offset kernel.Offset, value uint32) bool {
	if !offset.IsDefined() {
		return false
	}
	var buf [4]byte
	commands.PutUint(buf[:], value)
	p.write(offset, buf[:])
	return true
}

// read returns the size bytes at the payload offset, for inspection.
func (p *payload) read(offset, size int) []byte {
	out := make([]byte, size)
	inlineSize, crossThreadOffset := p.location(offset, size)
	if inlineSize > 0 {
		copy(out, p.walker.InlineData()[offset:offset+inlineSize])
	}
	copy(out[inlineSize:], p.crossThread[crossThreadOffset:])
	return out
}
