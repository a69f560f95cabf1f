package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Weave Bytecode v%d\n", c.Version))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", c.Flags))
	if c.Flags&ChunkFlagDebug != 0 {
		sb.WriteString(" [DEBUG]")
	}
	if c.Flags&ChunkFlagGenerated != 0 {
		sb.WriteString(" [GENERATED]")
	}
	sb.WriteString("\n")

	if c.ParamCount > 0 {
		sb.WriteString(fmt.Sprintf("; Parameters (%d): %s\n", c.ParamCount, strings.Join(c.ParamNames, ", ")))
	}

	if c.LocalCount > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots", c.LocalCount))
		if len(c.VarNames) > 0 {
			sb.WriteString(" (" + strings.Join(c.VarNames, ", ") + ")")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n")

	if len(c.Constants) > 0 {
		sb.WriteString("; Externs:\n")
		for i, s := range c.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, s))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("; Code:\n")
	for _, line := range c.DisassembleToLines() {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}

// disassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	if offset+info.OperandLen >= len(c.Code) && info.OperandLen > 0 {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpLoadLocal, OpStoreLocal:
		slot := c.Code[offset+1]
		if varName := c.getVarName(int(slot)); varName != "" {
			return fmt.Sprintf("%s %d ; %s", info.Name, slot, varName), 2
		}
		return fmt.Sprintf("%s %d", info.Name, slot), 2

	case OpLoadParam:
		idx := c.Code[offset+1]
		if int(idx) < len(c.ParamNames) {
			return fmt.Sprintf("LOAD_PARAM %d ; %s", idx, c.ParamNames[idx]), 2
		}
		return fmt.Sprintf("LOAD_PARAM %d", idx), 2

	case OpJump, OpJumpTrue, OpJumpFalse:
		delta := c.readInt16(offset + 1)
		return fmt.Sprintf("%s %+d (-> %04X)", info.Name, delta, c.JumpTarget(offset)), 3

	case OpCall:
		symIdx := c.readUint16(offset + 1)
		argc := c.Code[offset+3]
		symbol := ""
		if int(symIdx) < len(c.Constants) {
			symbol = c.Constants[symIdx]
		}
		return fmt.Sprintf("CALL %d (%s) argc=%d", symIdx, symbol, argc), 4

	default:
		instrLen := 1 + info.OperandLen
		if info.OperandLen == 0 {
			return info.Name, instrLen
		}

		operands := make([]string, 0, info.OperandLen)
		for i := 0; i < info.OperandLen; i++ {
			operands = append(operands, fmt.Sprintf("0x%02X", c.Code[offset+1+i]))
		}
		return fmt.Sprintf("%s %s", info.Name, strings.Join(operands, " ")), instrLen
	}
}

// DisassembleInstruction returns a human-readable representation of a single instruction.
func (c *Chunk) DisassembleInstruction(offset int) string {
	line, _ := c.disassembleInstruction(offset)
	return line
}

// readUint16 reads a big-endian uint16 from the code at the given offset.
func (c *Chunk) readUint16(offset int) uint16 {
	if offset+1 >= len(c.Code) {
		return 0
	}
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// readInt16 reads a big-endian int16 from the code at the given offset.
func (c *Chunk) readInt16(offset int) int16 {
	return int16(c.readUint16(offset))
}

func (c *Chunk) getVarName(slot int) string {
	if slot < len(c.VarNames) {
		return c.VarNames[slot]
	}
	return ""
}

// DisassembleToLines returns the disassembly as a slice of lines.
func (c *Chunk) DisassembleToLines() []string {
	var lines []string
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)
		lines = append(lines, fmt.Sprintf("%04X  %s", offset, line))
		offset += instrLen
	}
	return lines
}

// InstructionCount returns the number of instructions in the chunk.
// Note: This iterates through all code, so it's O(n).
func (c *Chunk) InstructionCount() int {
	count := 0
	offset := 0
	for offset < len(c.Code) {
		op := Opcode(c.Code[offset])
		offset += op.InstructionLen()
		count++
	}
	return count
}
