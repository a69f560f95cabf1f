// Package bytecode provides the instruction set, the encoded procedure body
// (Chunk), and a small stack-based virtual machine for procedures that are
// synthesized directly as bytecode rather than compiled from source.
//
// The bytecode format is designed for:
//   - Compact representation (1-4 bytes per instruction)
//   - Fast decoding (fixed-width opcodes, simple operand formats)
//   - Easy serialization (the "WVBC" format, stored in module images)
//
// # Architecture Overview
//
//   - Opcodes: a minimal stack instruction set covering locals, parameters,
//     boolean logic, jumps, extern calls and return. Each opcode carries its
//     stack effect in OpcodeInfo so assemblers can verify stack discipline.
//
//   - Chunk: code, a constant pool of extern symbols, parameter and local
//     counts, and optional local names. Jumps are encoded as signed 16-bit
//     offsets relative to the end of the jump instruction.
//
//   - VM: executes a chunk. Everything the VM cannot interpret itself
//     (object identity, iteration, element equality) is reached through the
//     Externs interface, so the VM never inspects host values beyond bools
//     and nil.
//
// # Externs
//
// OpCall <symbol:u16> <argc:u8> pops argc arguments, calls the extern
// named by the constant pool entry, and pushes its single result. Errors
// from externs abort execution and are returned wrapped in a RuntimeError.
package bytecode
