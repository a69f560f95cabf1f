package bytecode

import (
	"strings"
	"testing"
)

func TestDisassembleEmpty(t *testing.T) {
	output := NewChunk().Disassemble()

	if !strings.Contains(output, "Weave Bytecode v1") {
		t.Error("Disassembly missing header")
	}
	if strings.Contains(output, "; Externs:") {
		t.Error("Empty chunk should not list externs")
	}
}

func TestDisassembleSample(t *testing.T) {
	output := sampleChunk().DisassembleWithName("Equals.Helpers::Same")

	for _, want := range []string{
		"; === Equals.Helpers::Same ===",
		"[DEBUG]",
		"[GENERATED]",
		"; Parameters (2): left, right",
		"; Locals: 2 slots (leftIterator, rightIterator)",
		"[  0] object.ReferenceEquals",
		"0000  LOAD_PARAM 0 ; left",
		"0002  LOAD_PARAM 1 ; right",
		"0004  CALL 0 (object.ReferenceEquals) argc=2",
		"0008  JUMP_FALSE +2 (-> 000D)",
		"000B  CONST_TRUE",
		"000D  CONST_FALSE",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Disassembly missing %q\n%s", want, output)
		}
	}
}

func TestDisassembleLocalNames(t *testing.T) {
	c := NewChunk()
	c.LocalCount = 1
	c.VarNames = []string{"leftHasNext"}
	c.EmitWithOperand(OpStoreLocal, 0)
	c.EmitWithOperand(OpLoadLocal, 0)
	c.EmitWithOperand(OpLoadLocal, 5)

	lines := c.DisassembleToLines()
	want := []string{
		"0000  STORE_LOCAL 0 ; leftHasNext",
		"0002  LOAD_LOCAL 0 ; leftHasNext",
		"0004  LOAD_LOCAL 5",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestDisassembleBackwardJump(t *testing.T) {
	c := NewChunk()
	c.Emit(OpNop)
	placeholder := c.EmitJump(OpJump)
	if err := c.PatchJumpTo(placeholder, 0); err != nil {
		t.Fatal(err)
	}

	if got := c.DisassembleInstruction(1); got != "JUMP -4 (-> 0000)" {
		t.Errorf("DisassembleInstruction = %q", got)
	}
}

func TestDisassembleTruncated(t *testing.T) {
	c := NewChunk()
	c.Code = []byte{byte(OpCall), 0}

	lines := c.DisassembleToLines()
	if len(lines) != 1 || !strings.Contains(lines[0], "<truncated>") {
		t.Errorf("lines = %v, want one truncated instruction", lines)
	}
}
