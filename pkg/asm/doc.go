// Package asm assembles control flow for synthesized procedures.
//
// Callers describe structure as a tree: a Block holds straight-line
// instructions plus If, IfAnd and Loop nodes, and every condition is a Cond,
// a straight-line expression that must leave exactly one boolean on the
// stack. Each combinator hands its callbacks fresh, unattached sub-blocks
// and splices them back in order.
//
// Assemble lowers the tree in a single pass and resolves every label to an
// instruction index. Verify runs a stack-depth dataflow over the result, and
// Encode writes it into a bytecode.Chunk with relative jump offsets.
//
// Shapes produced:
//
//	If(c, then)             c; JUMP_FALSE end; then; end:
//	IfAnd(a, b, then, els)  a; JUMP_FALSE else; b; JUMP_FALSE else;
//	                        then; [JUMP end]; else: els; end:
//	Loop(body)              top: body; JUMP top
//
// IfAnd never evaluates b when a is false. Both false outcomes share one
// else target.
package asm
