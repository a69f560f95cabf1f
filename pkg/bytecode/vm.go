package bytecode

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("weave.bytecode")

// Value is a single slot on the VM stack. Booleans are Go bools and the
// null reference is Go nil; everything else is opaque to the VM and only
// ever handed to externs.
type Value = any

// Externs resolves and invokes the external operations a chunk calls.
// This is the VM's only window onto host objects.
type Externs interface {
	// CallExtern invokes the named extern with the given arguments.
	CallExtern(symbol string, args []Value) (Value, error)
}

// ErrNoExterns is returned when a chunk executes OpCall on a VM with no
// Externs configured.
var ErrNoExterns = errors.New("no externs configured")

// RuntimeError reports a fault at a specific instruction. Errors returned by
// externs are wrapped unchanged so errors.Is/As still reach them.
type RuntimeError struct {
	Offset int
	Op     Opcode
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[%04X] %s: %v", e.Offset, e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// VM executes bytecode chunks. A VM is not safe for concurrent use; give
// each goroutine its own.
type VM struct {
	// Current execution state
	chunk *Chunk  // Current bytecode chunk
	ip    int     // Instruction pointer
	stack []Value // Value stack

	// Variable storage for current frame
	locals []Value // Local variable slots
	params []Value // Parameter values

	externs Externs

	// Trace logs every instruction at debug level.
	Trace bool
}

// NewVM creates a new VM instance.
func NewVM() *VM {
	return &VM{
		stack: make([]Value, 0, 16),
	}
}

// SetExterns sets the extern resolver for the VM.
func (vm *VM) SetExterns(externs Externs) {
	vm.externs = externs
}

// Execute runs a bytecode chunk with the given arguments.
// Returns the result value and any error.
func (vm *VM) Execute(chunk *Chunk, args []Value) (Value, error) {
	if len(args) != int(chunk.ParamCount) {
		return nil, fmt.Errorf("chunk expects %d arguments, got %d", chunk.ParamCount, len(args))
	}

	vm.chunk = chunk
	vm.ip = 0
	vm.stack = vm.stack[:0]
	vm.params = args
	vm.locals = make([]Value, chunk.LocalCount)

	result, err := vm.run()

	// Drop references so a pooled VM does not pin host objects.
	clear(vm.stack[:cap(vm.stack)])
	vm.params = nil
	vm.locals = nil
	vm.chunk = nil

	return result, err
}

// run is the main execution loop.
func (vm *VM) run() (Value, error) {
	code := vm.chunk.Code
	for vm.ip < len(code) {
		start := vm.ip
		op := Opcode(code[vm.ip])
		vm.ip++

		if vm.Trace {
			log.Debugf("[%04x] %-16s sp=%d", start, op, len(vm.stack))
		}

		if !op.IsValid() {
			return vm.fault(start, op, errors.New("invalid opcode"))
		}
		if vm.ip+op.OperandLen() > len(code) {
			return vm.fault(start, op, errors.New("truncated instruction"))
		}
		if pop := GetOpcodeInfo(op).StackPop; pop > len(vm.stack) {
			return vm.fault(start, op, fmt.Errorf("stack underflow: need %d, have %d", pop, len(vm.stack)))
		}

		switch op {
		// ============ Stack Operations ============
		case OpNop:

		case OpPop:
			vm.pop()

		case OpDup:
			vm.push(vm.peek())

		// ============ Constants ============
		case OpConstNil:
			vm.push(nil)

		case OpConstTrue:
			vm.push(true)

		case OpConstFalse:
			vm.push(false)

		// ============ Locals and Parameters ============
		case OpLoadLocal:
			slot := int(code[vm.ip])
			vm.ip++
			if slot >= len(vm.locals) {
				return vm.fault(start, op, fmt.Errorf("local slot %d out of range", slot))
			}
			vm.push(vm.locals[slot])

		case OpStoreLocal:
			slot := int(code[vm.ip])
			vm.ip++
			if slot >= len(vm.locals) {
				return vm.fault(start, op, fmt.Errorf("local slot %d out of range", slot))
			}
			vm.locals[slot] = vm.pop()

		case OpLoadParam:
			idx := int(code[vm.ip])
			vm.ip++
			if idx >= len(vm.params) {
				return vm.fault(start, op, fmt.Errorf("parameter %d out of range", idx))
			}
			vm.push(vm.params[idx])

		// ============ Comparison and Logic ============
		case OpEq:
			b := vm.pop()
			a := vm.pop()
			eq, err := primitiveEqual(a, b)
			if err != nil {
				return vm.fault(start, op, err)
			}
			vm.push(eq)

		case OpNot:
			b, err := vm.popBool()
			if err != nil {
				return vm.fault(start, op, err)
			}
			vm.push(!b)

		// ============ Control Flow ============
		case OpJump:
			vm.ip = start + 3 + int(vm.readInt16())

		case OpJumpTrue, OpJumpFalse:
			target := start + 3 + int(vm.readInt16())
			b, err := vm.popBool()
			if err != nil {
				return vm.fault(start, op, err)
			}
			if b == (op == OpJumpTrue) {
				vm.ip = target
			}

		// ============ Calls ============
		case OpCall:
			symIdx := int(vm.readUint16())
			argc := int(code[vm.ip])
			vm.ip++
			if symIdx >= len(vm.chunk.Constants) {
				return vm.fault(start, op, fmt.Errorf("extern symbol %d out of range", symIdx))
			}
			if argc > len(vm.stack) {
				return vm.fault(start, op, fmt.Errorf("stack underflow: need %d, have %d", argc, len(vm.stack)))
			}
			if vm.externs == nil {
				return vm.fault(start, op, ErrNoExterns)
			}
			args := make([]Value, argc)
			copy(args, vm.stack[len(vm.stack)-argc:])
			vm.stack = vm.stack[:len(vm.stack)-argc]

			result, err := vm.externs.CallExtern(vm.chunk.Constants[symIdx], args)
			if err != nil {
				return vm.fault(start, op, err)
			}
			vm.push(result)

		// ============ Return ============
		case OpReturn:
			return vm.pop(), nil
		}

		if vm.ip < 0 || vm.ip > len(code) {
			return vm.fault(start, op, fmt.Errorf("jump target %04X outside code", vm.ip))
		}
	}

	return nil, errors.New("execution fell off the end of the chunk")
}

func (vm *VM) fault(offset int, op Opcode, err error) (Value, error) {
	return nil, &RuntimeError{Offset: offset, Op: op, Err: err}
}

func (vm *VM) push(val Value) {
	vm.stack = append(vm.stack, val)
}

func (vm *VM) pop() Value {
	val := vm.stack[len(vm.stack)-1]
	vm.stack[len(vm.stack)-1] = nil
	vm.stack = vm.stack[:len(vm.stack)-1]
	return val
}

func (vm *VM) peek() Value {
	return vm.stack[len(vm.stack)-1]
}

func (vm *VM) popBool() (bool, error) {
	v := vm.pop()
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func (vm *VM) readUint16() uint16 {
	val := uint16(vm.chunk.Code[vm.ip])<<8 | uint16(vm.chunk.Code[vm.ip+1])
	vm.ip += 2
	return val
}

func (vm *VM) readInt16() int16 {
	return int16(vm.readUint16())
}

// primitiveEqual compares the values OpEq is defined on: bools, integers
// and the null reference.
func primitiveEqual(a, b Value) (bool, error) {
	switch av := a.(type) {
	case nil:
		return b == nil, nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return false, fmt.Errorf("EQ: mismatched operands bool and %T", b)
		}
		return av == bv, nil
	case int:
		bv, ok := b.(int)
		if !ok {
			return false, fmt.Errorf("EQ: mismatched operands int and %T", b)
		}
		return av == bv, nil
	default:
		if b == nil {
			return false, nil
		}
		return false, fmt.Errorf("EQ: unsupported operand type %T", a)
	}
}
