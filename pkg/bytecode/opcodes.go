package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop Opcode = 0x00 // No operation
	OpPop Opcode = 0x01 // Pop top of stack
	OpDup Opcode = 0x02 // Duplicate top of stack

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConstNil   Opcode = 0x11 // Push the null reference
	OpConstTrue  Opcode = 0x12 // Push true
	OpConstFalse Opcode = 0x13 // Push false

	// ========================================================================
	// Locals and parameters (0x20-0x2F)
	// ========================================================================

	OpLoadLocal  Opcode = 0x20 // Push local variable: OpLoadLocal <slot:u8>
	OpStoreLocal Opcode = 0x21 // Pop and store to local: OpStoreLocal <slot:u8>
	OpLoadParam  Opcode = 0x22 // Push parameter: OpLoadParam <index:u8>

	// ========================================================================
	// Comparison and logic (0x60-0x6F)
	// ========================================================================

	OpEq  Opcode = 0x60 // Pop two, push true if equal (bool/int/null only)
	OpNot Opcode = 0x68 // Pop a bool, push its negation

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump      Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpTrue  Opcode = 0x81 // Pop, jump if true: OpJumpTrue <offset:i16>
	OpJumpFalse Opcode = 0x82 // Pop, jump if false: OpJumpFalse <offset:i16>

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	// OpCall invokes an extern resolved through the constant pool:
	// OpCall <symbol:u16> <argc:u8>. Pops argc values, pushes one result.
	OpCall Opcode = 0x90

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Return top of stack
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop: {"NOP", 0, 0, 0},
	OpPop: {"POP", 1, 0, 0},
	OpDup: {"DUP", 1, 2, 0},

	OpConstNil:   {"CONST_NIL", 0, 1, 0},
	OpConstTrue:  {"CONST_TRUE", 0, 1, 0},
	OpConstFalse: {"CONST_FALSE", 0, 1, 0},

	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 1},
	OpLoadParam:  {"LOAD_PARAM", 0, 1, 1},

	OpEq:  {"EQ", 2, 1, 0},
	OpNot: {"NOT", 1, 1, 0},

	OpJump:      {"JUMP", 0, 0, 2},
	OpJumpTrue:  {"JUMP_TRUE", 1, 0, 2},
	OpJumpFalse: {"JUMP_FALSE", 1, 0, 2},

	OpCall: {"CALL", -1, 1, 3}, // Pops argc args

	OpReturn: {"RETURN", 1, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpFalse
}

// IsConditionalJump returns true for jumps that pop a boolean.
func (op Opcode) IsConditionalJump() bool {
	return op == OpJumpTrue || op == OpJumpFalse
}

// IsReturn returns true if this opcode terminates execution.
func (op Opcode) IsReturn() bool {
	return op == OpReturn
}

// IsTerminator returns true if control never falls through to the next
// instruction.
func (op Opcode) IsTerminator() bool {
	return op == OpJump || op == OpReturn
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
