package asm

import (
	"errors"
	"fmt"

	"github.com/chazu/seqweave/pkg/bytecode"
)

// ErrMisalignedJump is returned by Decode when a jump lands inside another
// instruction or outside the code.
var ErrMisalignedJump = errors.New("jump target is not an instruction boundary")

// Decode lifts an encoded chunk back into a Program so it can be verified.
// Each jump destination gets a fresh label named after its index.
func Decode(chunk *bytecode.Chunk) (*Program, error) {
	code := chunk.Code
	index := make(map[int]int) // byte offset -> instruction index
	var offsets []int

	for pos := 0; pos < len(code); {
		op := bytecode.Opcode(code[pos])
		if !op.IsValid() {
			return nil, &Error{Index: len(offsets), Op: op, Err: fmt.Errorf("invalid opcode 0x%02X at %04X", byte(op), pos)}
		}
		if pos+op.InstructionLen() > len(code) {
			return nil, &Error{Index: len(offsets), Op: op, Err: fmt.Errorf("truncated instruction at %04X", pos)}
		}
		index[pos] = len(offsets)
		offsets = append(offsets, pos)
		pos += op.InstructionLen()
	}
	index[len(code)] = len(offsets)

	p := &Program{Instrs: make([]Instr, 0, len(offsets)), Labels: make(map[int][]*Label)}
	for i, pos := range offsets {
		op := bytecode.Opcode(code[pos])
		in := Instr{Op: op}
		switch {
		case op.IsJump():
			target := chunk.JumpTarget(pos)
			dest, ok := index[target]
			if !ok {
				return nil, &Error{Index: i, Op: op, Err: fmt.Errorf("%w: %04X", ErrMisalignedJump, target)}
			}
			in.Dest = dest
			if p.Labels[dest] == nil {
				p.Labels[dest] = []*Label{{id: dest, name: "L"}}
			}
			in.Target = p.Labels[dest][0]

		case op == bytecode.OpCall:
			sym := uint16(code[pos+1])<<8 | uint16(code[pos+2])
			if int(sym) >= len(chunk.Constants) {
				return nil, &Error{Index: i, Op: op, Err: fmt.Errorf("%w: extern symbol %d", ErrOperandRange, sym)}
			}
			in.Symbol = chunk.Constants[sym]
			in.Arg = int(code[pos+3])

		case op.OperandLen() == 1:
			in.Arg = int(code[pos+1])
		}
		p.Instrs = append(p.Instrs, in)
	}
	return p, nil
}
