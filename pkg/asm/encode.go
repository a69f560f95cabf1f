package asm

import (
	"fmt"

	"github.com/chazu/seqweave/pkg/bytecode"
)

// Encode appends the program to chunk's code section, turning resolved
// instruction indices into relative byte offsets.
func (p *Program) Encode(chunk *bytecode.Chunk) error {
	base := chunk.CurrentOffset()

	// offsets[i] is the byte offset of instruction i; offsets[n] is the end.
	offsets := make([]int, len(p.Instrs)+1)
	pos := base
	for i, in := range p.Instrs {
		offsets[i] = pos
		pos += in.Op.InstructionLen()
	}
	offsets[len(p.Instrs)] = pos

	type fixup struct {
		index       int
		placeholder int
	}
	var fixups []fixup

	for i, in := range p.Instrs {
		switch {
		case in.Op.IsJump():
			fixups = append(fixups, fixup{index: i, placeholder: chunk.EmitJump(in.Op)})

		case in.Op == bytecode.OpCall:
			if in.Arg < 0 || in.Arg > 255 {
				return &Error{Index: i, Op: in.Op, Err: fmt.Errorf("%w: argc %d", ErrOperandRange, in.Arg)}
			}
			chunk.EmitCall(in.Symbol, uint8(in.Arg))

		case in.Op.OperandLen() == 1:
			if in.Arg < 0 || in.Arg > 255 {
				return &Error{Index: i, Op: in.Op, Err: fmt.Errorf("%w: %d", ErrOperandRange, in.Arg)}
			}
			chunk.EmitWithOperand(in.Op, byte(in.Arg))

		case in.Op.OperandLen() == 0:
			chunk.Emit(in.Op)

		default:
			return &Error{Index: i, Op: in.Op, Err: fmt.Errorf("%w: no encoding for %s", ErrOperandRange, in.Op)}
		}
	}

	for _, f := range fixups {
		in := p.Instrs[f.index]
		if in.Dest < 0 || in.Dest > len(p.Instrs) {
			return &Error{Index: f.index, Op: in.Op, Err: fmt.Errorf("%w: destination %d", ErrUnresolvedLabel, in.Dest)}
		}
		if err := chunk.PatchJumpTo(f.placeholder, offsets[in.Dest]); err != nil {
			return &Error{Index: f.index, Op: in.Op, Err: err}
		}
	}
	return nil
}
