// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stream implements the linear, block chained memory that holds recorded commands and
// indirect (cross-thread) data of a command list.
//
// Regions reserved from a Stream never move: when a block runs out of space a new block is
// chained, so the byte slices handed out to command editors stay valid for the lifetime of the
// stream (or until Reset).
package stream

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
)

// DefaultBlockSize is the size of each block of a Stream, if not otherwise specified.
const DefaultBlockSize = 64 * 1024

// Block is one contiguous piece of GPU visible memory of a Stream.
type Block struct {
	// GPUBase is the GPU virtual address of Data[0].
	GPUBase uint64

	// Data is the full block, of which only the first Used bytes were reserved.
	Data []byte

	used int
}

// Used returns the number of bytes reserved in the block.
func (b *Block) Used() int { return b.used }

// Fingerprint returns a hash of the used bytes of the block, convenient to detect changes.
func (b *Block) Fingerprint() uint64 {
	return xxhash.Sum64(b.Data[:b.used])
}

// Region is a reserved piece of a Stream.
type Region struct {
	// Data is the reserved memory. It aliases the stream block.
	Data []byte

	// Offset of the region within the stream, counting all the blocks before it.
	Offset int

	// GPUAddress of Data[0].
	GPUAddress uint64
}

// Fingerprint returns a hash of the region contents.
func (r Region) Fingerprint() uint64 {
	return xxhash.Sum64(r.Data)
}

// BlockAllocator returns the GPU address of a new block of size bytes. Index is the position of
// the block in the stream.
type BlockAllocator func(index, size int) uint64

// Contiguous returns a BlockAllocator that places the blocks one after the other from base.
func Contiguous(base uint64) BlockAllocator {
	return func(index, size int) uint64 {
		return base + uint64(index)*uint64(size)
	}
}

// Stream is a linear sequence of blocks. Offsets are linear across the blocks, but each block
// has its own GPU address, given by the BlockAllocator when the block is chained.
//
// It is not safe for concurrent use.
type Stream struct {
	name      string
	allocate  BlockAllocator
	blockSize int
	blocks    []*Block
	current   int
}

// New creates a Stream with its first block. If blockSize <= 0 DefaultBlockSize is used.
func New(name string, blockSize int, allocate BlockAllocator) *Stream {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	s := &Stream{name: name, allocate: allocate, blockSize: blockSize}
	s.addBlock()
	return s
}

func (s *Stream) addBlock() {
	idx := len(s.blocks)
	s.blocks = append(s.blocks, &Block{
		GPUBase: s.allocate(idx, s.blockSize),
		Data:    make([]byte, s.blockSize),
	})
	s.current = idx
}

// Name of the stream, used in messages.
func (s *Stream) Name() string { return s.name }

// BlockSize returns the size of each block.
func (s *Stream) BlockSize() int { return s.blockSize }

// Blocks returns the blocks allocated so far. Blocks after the current one are unused.
func (s *Stream) Blocks() []*Block { return s.blocks }

// Used returns the total number of bytes reserved, including padding and unused tails of
// previous blocks.
func (s *Stream) Used() int {
	return s.current*s.blockSize + s.blocks[s.current].used
}

// Reserve returns a zeroed region of size bytes whose offset is a multiple of alignment
// (alignment <= 1 means no alignment).
//
// It panics if size doesn't fit in a block: that is a programming error.
func (s *Stream) Reserve(size, alignment int) Region {
	if size > s.blockSize {
		exceptions.Panicf("stream %q: can't reserve %s, block size is %s", s.name,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.blockSize)))
	}
	if alignment < 1 {
		alignment = 1
	}
	block := s.blocks[s.current]
	start := alignUp(block.used, alignment)
	if start+size > s.blockSize {
		if s.current+1 < len(s.blocks) {
			s.current++
		} else {
			s.addBlock()
		}
		block = s.blocks[s.current]
		start = 0
	}
	block.used = start + size
	offset := s.current*s.blockSize + start
	return Region{
		Data:       block.Data[start : start+size : start+size],
		Offset:     offset,
		GPUAddress: block.GPUBase + uint64(start),
	}
}

// Reset discards all reservations. Blocks are kept and zeroed for reuse, so regions reserved
// before Reset must no longer be used.
func (s *Stream) Reset() {
	for _, block := range s.blocks {
		clear(block.Data)
		block.used = 0
	}
	s.current = 0
}

func alignUp(value, alignment int) int {
	return (value + alignment - 1) / alignment * alignment
}
