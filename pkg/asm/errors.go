package asm

import (
	"errors"
	"fmt"

	"github.com/chazu/seqweave/pkg/bytecode"
)

var (
	// ErrStackImbalance is returned when a condition or path leaves the
	// evaluation stack in the wrong state.
	ErrStackImbalance = errors.New("stack imbalance")

	// ErrUnresolvedLabel is returned when a jump targets a label that was
	// never marked.
	ErrUnresolvedLabel = errors.New("unresolved label")

	// ErrLabelRebound is returned when a label is marked twice.
	ErrLabelRebound = errors.New("label marked more than once")

	// ErrFallthrough is returned when control can run past the last
	// instruction.
	ErrFallthrough = errors.New("control falls off the end")

	// ErrOperandRange is returned when an operand does not fit its encoding.
	ErrOperandRange = errors.New("operand out of range")
)

// Error is an assembly failure, optionally tied to an instruction index.
// Index is -1 when the failure is not tied to one instruction.
type Error struct {
	Index int
	Op    bytecode.Opcode
	Err   error
}

func (e *Error) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("asm: %v", e.Err)
	}
	return fmt.Sprintf("asm: instr %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
