package asm

import (
	"fmt"

	"github.com/chazu/seqweave/pkg/bytecode"
)

// Frame describes the storage a program may touch.
type Frame struct {
	Params int
	Locals int
}

// Verify checks the stack discipline of every reachable path: no underflow,
// the same depth wherever paths join, exactly one value at each return, and
// no path that runs past the last instruction. It also checks slot and
// parameter indices against frame.
func (p *Program) Verify(frame Frame) error {
	n := len(p.Instrs)
	if n == 0 {
		return &Error{Index: -1, Err: ErrFallthrough}
	}

	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}
	depth[0] = 0
	work := []int{0}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		in := p.Instrs[i]
		d := depth[i]

		fail := func(err error, format string, args ...any) error {
			return &Error{Index: i, Op: in.Op, Err: fmt.Errorf("%w: "+format, append([]any{err}, args...)...)}
		}

		if err := checkOperand(in, frame); err != nil {
			return &Error{Index: i, Op: in.Op, Err: err}
		}

		pop, push := in.stackEffect()
		if pop > d {
			return fail(ErrStackImbalance, "pops %d with depth %d", pop, d)
		}
		if in.Op == bytecode.OpReturn && d != 1 {
			return fail(ErrStackImbalance, "return with depth %d", d)
		}
		next := d - pop + push

		var succ []int
		if !in.Op.IsTerminator() {
			succ = append(succ, i+1)
		}
		if in.Op.IsJump() {
			succ = append(succ, in.Dest)
		}

		for _, s := range succ {
			if s < 0 || s >= n {
				return fail(ErrFallthrough, "successor %d outside program", s)
			}
			switch depth[s] {
			case -1:
				depth[s] = next
				work = append(work, s)
			case next:
			default:
				return fail(ErrStackImbalance, "depth %d at join %d, already %d", next, s, depth[s])
			}
		}
	}
	return nil
}

func checkOperand(in Instr, frame Frame) error {
	switch in.Op {
	case bytecode.OpLoadLocal, bytecode.OpStoreLocal:
		if in.Arg < 0 || in.Arg >= frame.Locals {
			return fmt.Errorf("%w: local slot %d of %d", ErrOperandRange, in.Arg, frame.Locals)
		}
	case bytecode.OpLoadParam:
		if in.Arg < 0 || in.Arg >= frame.Params {
			return fmt.Errorf("%w: parameter %d of %d", ErrOperandRange, in.Arg, frame.Params)
		}
	case bytecode.OpCall:
		if in.Arg < 0 || in.Arg > 255 {
			return fmt.Errorf("%w: argc %d", ErrOperandRange, in.Arg)
		}
		if in.Symbol == "" {
			return fmt.Errorf("%w: call without symbol", ErrOperandRange)
		}
	}
	return nil
}
