// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

// Pipe control layout:
//
//	DW0: header.
//	DW1: flags; data cache flush [5], post-sync operation [15:14], command streamer stall [20].
//	DW2-3: post-sync address.
//	DW4-5: post-sync immediate data.
const (
	pipeControlDwFlags     = 1
	pipeControlDwAddress   = 2
	pipeControlDwImmediate = 4

	pipeControlBitDCFlush = 5
	pipeControlBitCSStall = 20

	// PipeControlSize is the size in bytes of a pipe control.
	PipeControlSize = 6 * 4
)

// PipeControlArgs are the parameters of a barrier with signal.
type PipeControlArgs struct {
	DCFlush   bool
	PostSync  PostSyncOperation
	Address   uint64
	Immediate uint64
}

// EncodePipeControl encodes a fresh pipe control. It always stalls the command streamer.
func EncodePipeControl(dst []byte, args PipeControlArgs) {
	checkRegion("EncodePipeControl", dst, PipeControlSize)
	clear(dst[:PipeControlSize])
	putDword(dst, 0, pipeControlHeader|uint32(PipeControlSize/4-2))
	flags := boolBit(args.DCFlush)<<pipeControlBitDCFlush | uint32(args.PostSync&3)<<14 | 1<<pipeControlBitCSStall
	putDword(dst, pipeControlDwFlags, flags)
	putQword(dst, pipeControlDwAddress, args.Address)
	putQword(dst, pipeControlDwImmediate, args.Immediate)
}

// PipeControl edits a recorded pipe control that signals through its post-sync.
type PipeControl struct {
	region []byte
	offset int
	args   PipeControlArgs
}

// NewPipeControl wraps a pipe control recorded in region. The flush and post-sync operation
// encoded in region are kept for Restore.
func NewPipeControl(region []byte, offset int) *PipeControl {
	checkRegion("NewPipeControl", region, PipeControlSize)
	p := &PipeControl{region: region[:PipeControlSize:PipeControlSize], offset: offset}
	p.args = PipeControlArgs{
		DCFlush:   getBits(p.region, pipeControlDwFlags, pipeControlBitDCFlush, pipeControlBitDCFlush) == 1,
		PostSync:  PostSyncOperation(getBits(p.region, pipeControlDwFlags, 14, 15)),
		Address:   qword(p.region, pipeControlDwAddress),
		Immediate: qword(p.region, pipeControlDwImmediate),
	}
	return p
}

// Offset of the instruction in its stream.
func (p *PipeControl) Offset() int { return p.offset }

// Bytes returns the instruction memory.
func (p *PipeControl) Bytes() []byte { return p.region }

// IsNoop returns whether the instruction is currently zeroed.
func (p *PipeControl) IsNoop() bool { return isZero(p.region) }

// Noop zeroes the instruction.
func (p *PipeControl) Noop() { clear(p.region) }

// Restore re-encodes the pipe control with the original flags and post-sync operation.
func (p *PipeControl) Restore(address, immediate uint64) {
	args := p.args
	args.Address = address
	args.Immediate = immediate
	EncodePipeControl(p.region, args)
}

// SetPostSyncAddress rewrites the post-sync address.
func (p *PipeControl) SetPostSyncAddress(address uint64) {
	putQword(p.region, pipeControlDwAddress, address)
}

// PostSyncAddress currently encoded.
func (p *PipeControl) PostSyncAddress() uint64 { return qword(p.region, pipeControlDwAddress) }
