package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for serialized chunks: "WVBC" (WeaVe ByteCode)
var BytecodeMagic = []byte{'W', 'V', 'B', 'C'}

// ErrJumpOutOfRange is returned when a jump delta does not fit in an i16.
var ErrJumpOutOfRange = errors.New("jump offset out of range")

// ChunkFlags contains compilation flags for a chunk.
type ChunkFlags uint16

const (
	// ChunkFlagDebug indicates local variable names are present.
	ChunkFlagDebug ChunkFlags = 1 << 0

	// ChunkFlagGenerated marks a body produced by a synthesizer rather than
	// compiled from source.
	ChunkFlagGenerated ChunkFlags = 1 << 1
)

// Chunk is the encoded body of one procedure.
type Chunk struct {
	// Header
	Version uint16     `cbor:"1,keyasint"` // Bytecode format version
	Flags   ChunkFlags `cbor:"2,keyasint"` // Compilation flags

	// Code section
	Code []byte `cbor:"3,keyasint"` // Bytecode instructions

	// Constant pool - extern symbols referenced by OpCall
	Constants []string `cbor:"4,keyasint"`

	// Parameter information
	ParamCount uint8    `cbor:"5,keyasint"` // Number of parameters
	ParamNames []string `cbor:"6,keyasint"` // Parameter names (for debugging/reflection)

	// Local variables
	LocalCount uint8 `cbor:"7,keyasint"` // Number of local variable slots needed

	// Debug information (optional, present if ChunkFlagDebug is set)
	VarNames []string `cbor:"8,keyasint,omitempty"` // Local variable names for debugging
}

// NewChunk creates a new empty chunk with the current version.
func NewChunk() *Chunk {
	return &Chunk{
		Version:   BytecodeVersion,
		Code:      make([]byte, 0, 64),
		Constants: make([]string, 0, 8),
	}
}

// AddConstant adds a symbol to the pool and returns its index.
// If the symbol already exists, returns the existing index.
func (c *Chunk) AddConstant(value string) uint16 {
	for i, s := range c.Constants {
		if s == value {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, value)
	return idx
}

// GetConstant returns the constant at the given index.
// Panics if the index is out of bounds.
func (c *Chunk) GetConstant(index uint16) string {
	return c.Constants[index]
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitCall emits an OpCall to the given extern symbol.
// Adds the symbol to the pool if not already present.
func (c *Chunk) EmitCall(symbol string, argc uint8) int {
	idx := c.AddConstant(symbol)
	return c.EmitWithOperand(OpCall, byte(idx>>8), byte(idx), argc)
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF) // Placeholder
	return offset + 1                              // Return offset of the placeholder bytes
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) error {
	return c.PatchJumpTo(placeholderOffset, len(c.Code))
}

// PatchJumpTo patches a jump to go to a specific offset.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) error {
	jumpFrom := placeholderOffset + 2
	delta := target - jumpFrom
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		return fmt.Errorf("%w: %d bytes from %04X", ErrJumpOutOfRange, delta, placeholderOffset-1)
	}

	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
	return nil
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// CodeLen returns the length of the code section.
func (c *Chunk) CodeLen() int {
	return len(c.Code)
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return len(c.Constants)
}

// JumpTarget returns the absolute target of the jump at offset.
func (c *Chunk) JumpTarget(offset int) int {
	return offset + 3 + int(c.readInt16(offset+1))
}

// Serialize encodes the chunk to bytes for storage/transport.
// Format:
//
//	[magic:4] [version:2] [flags:2]
//	[code_len:4] [code:...]
//	[const_count:2] [constants:...]
//	[param_count:1] [param_names:...]
//	[local_count:1]
//	[debug_present:1] [var_names:...] (if ChunkFlagDebug)
func (c *Chunk) Serialize() ([]byte, error) {
	if len(c.Constants) > math.MaxUint16 {
		return nil, fmt.Errorf("too many constants: %d", len(c.Constants))
	}
	if len(c.ParamNames) != int(c.ParamCount) {
		return nil, fmt.Errorf("param count %d does not match %d param names", c.ParamCount, len(c.ParamNames))
	}
	for _, s := range c.Constants {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("constant too long: %d bytes", len(s))
		}
	}
	if err := checkNames("param", c.ParamNames); err != nil {
		return nil, err
	}
	if c.Flags&ChunkFlagDebug != 0 {
		if len(c.VarNames) > math.MaxUint16 {
			return nil, fmt.Errorf("too many variable names: %d", len(c.VarNames))
		}
		if err := checkNames("variable", c.VarNames); err != nil {
			return nil, err
		}
	}

	estimatedSize := 8 + len(c.Code) + len(c.Constants)*32 + 64
	buf := make([]byte, 0, estimatedSize)

	buf = append(buf, BytecodeMagic...)

	buf = binary.BigEndian.AppendUint16(buf, c.Version)
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Flags))

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = append(buf, c.Code...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Constants)))
	for _, s := range c.Constants {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}

	buf = append(buf, c.ParamCount)
	for _, name := range c.ParamNames {
		buf = append(buf, byte(len(name)))
		buf = append(buf, name...)
	}

	buf = append(buf, c.LocalCount)

	if c.Flags&ChunkFlagDebug != 0 {
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.VarNames)))
		for _, name := range c.VarNames {
			buf = append(buf, byte(len(name)))
			buf = append(buf, name...)
		}
	} else {
		buf = append(buf, 0)
	}

	return buf, nil
}

// checkNames rejects names that do not fit a one-byte length prefix.
func checkNames(kind string, names []string) error {
	for _, name := range names {
		if len(name) > math.MaxUint8 {
			return fmt.Errorf("%s name too long: %d bytes", kind, len(name))
		}
	}
	return nil
}

// Deserialize decodes a chunk from bytes.
func Deserialize(data []byte) (*Chunk, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("bytecode too short: need at least 8 bytes, got %d", len(data))
	}

	if string(data[0:4]) != string(BytecodeMagic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, data[0:4])
	}

	c := &Chunk{
		Version: binary.BigEndian.Uint16(data[4:6]),
		Flags:   ChunkFlags(binary.BigEndian.Uint16(data[6:8])),
	}

	if c.Version > BytecodeVersion {
		return nil, fmt.Errorf("bytecode version %d is newer than supported version %d", c.Version, BytecodeVersion)
	}

	r := &reader{data: data, pos: 8}

	codeLen, err := r.readUint32("code length")
	if err != nil {
		return nil, err
	}
	code, err := r.readBytes(int(codeLen), "code section")
	if err != nil {
		return nil, err
	}
	c.Code = append([]byte(nil), code...)

	constCount, err := r.readUint16("constant count")
	if err != nil {
		return nil, err
	}
	c.Constants = make([]string, constCount)
	for i := range c.Constants {
		n, err := r.readUint16(fmt.Sprintf("constant %d length", i))
		if err != nil {
			return nil, err
		}
		s, err := r.readBytes(int(n), fmt.Sprintf("constant %d", i))
		if err != nil {
			return nil, err
		}
		c.Constants[i] = string(s)
	}

	if c.ParamCount, err = r.readByte("param count"); err != nil {
		return nil, err
	}
	c.ParamNames = make([]string, c.ParamCount)
	for i := range c.ParamNames {
		if c.ParamNames[i], err = r.readString(fmt.Sprintf("param %d name", i)); err != nil {
			return nil, err
		}
	}

	if c.LocalCount, err = r.readByte("local count"); err != nil {
		return nil, err
	}

	hasDebug, err := r.readByte("debug marker")
	if err != nil {
		return nil, err
	}
	if hasDebug != 0 {
		n, err := r.readUint16("var names count")
		if err != nil {
			return nil, err
		}
		c.VarNames = make([]string, n)
		for i := range c.VarNames {
			if c.VarNames[i], err = r.readString(fmt.Sprintf("var name %d", i)); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) readBytes(n int, what string) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading %s at pos %d", what, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readByte(what string) (byte, error) {
	b, err := r.readBytes(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readUint16(what string) (uint16, error) {
	b, err := r.readBytes(2, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) readUint32(what string) (uint32, error) {
	b, err := r.readBytes(4, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) readString(what string) (string, error) {
	n, err := r.readByte(what + " length")
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n), what)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
