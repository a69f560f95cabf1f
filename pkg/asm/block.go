package asm

import (
	"fmt"

	"github.com/chazu/seqweave/pkg/bytecode"
)

// Label names a position in the instruction stream. Labels are compared by
// identity; the name is only used in listings.
type Label struct {
	id   int
	name string
}

func (l *Label) String() string {
	return fmt.Sprintf("%s%d", l.name, l.id)
}

// Instr is one instruction before encoding. Jumps carry a Target label until
// Assemble resolves it to Dest, an index into the flat stream.
type Instr struct {
	Op     bytecode.Opcode
	Arg    int    // slot, parameter index, or argc for OpCall
	Symbol string // extern symbol for OpCall
	Target *Label // jump target before lowering
	Dest   int    // resolved instruction index of Target
}

// stackEffect returns how many values the instruction pops and pushes.
func (in Instr) stackEffect() (pop, push int) {
	info := bytecode.GetOpcodeInfo(in.Op)
	if in.Op == bytecode.OpCall {
		return in.Arg, info.StackPush
	}
	return info.StackPop, info.StackPush
}

func (in Instr) String() string {
	switch {
	case in.Op == bytecode.OpCall:
		return fmt.Sprintf("%s %s/%d", in.Op, in.Symbol, in.Arg)
	case in.Op.IsJump() && in.Target != nil:
		return fmt.Sprintf("%s %s", in.Op, in.Target)
	case in.Op.IsJump():
		return fmt.Sprintf("%s @%d", in.Op, in.Dest)
	case in.Op.OperandLen() > 0:
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	default:
		return in.Op.String()
	}
}

// ops holds the straight-line instructions shared by Block and Cond.
type ops struct {
	add func(Instr)
}

// LoadParam pushes parameter i.
func (o ops) LoadParam(i int) { o.add(Instr{Op: bytecode.OpLoadParam, Arg: i}) }

// LoadLocal pushes local slot i.
func (o ops) LoadLocal(i int) { o.add(Instr{Op: bytecode.OpLoadLocal, Arg: i}) }

// ConstNil pushes the null reference.
func (o ops) ConstNil() { o.add(Instr{Op: bytecode.OpConstNil}) }

// ConstBool pushes b.
func (o ops) ConstBool(b bool) {
	if b {
		o.add(Instr{Op: bytecode.OpConstTrue})
	} else {
		o.add(Instr{Op: bytecode.OpConstFalse})
	}
}

// Call invokes an extern, popping argc arguments and pushing its result.
func (o ops) Call(symbol string, argc int) {
	o.add(Instr{Op: bytecode.OpCall, Symbol: symbol, Arg: argc})
}

// Not negates the boolean on top of the stack.
func (o ops) Not() { o.add(Instr{Op: bytecode.OpNot}) }

// Eq replaces the top two values with their primitive equality.
func (o ops) Eq() { o.add(Instr{Op: bytecode.OpEq}) }

// Dup duplicates the top of the stack.
func (o ops) Dup() { o.add(Instr{Op: bytecode.OpDup}) }

// Pop discards the top of the stack.
func (o ops) Pop() { o.add(Instr{Op: bytecode.OpPop}) }

// Cond is a boolean-producing expression: straight-line instructions that
// leave exactly one value on the stack and consume nothing beneath it.
type Cond struct {
	ops
	instrs []Instr
}

func newCond() *Cond {
	c := &Cond{}
	c.ops = ops{add: func(in Instr) { c.instrs = append(c.instrs, in) }}
	return c
}

// check enforces the condition contract.
func (c *Cond) check() error {
	depth := 0
	for i, in := range c.instrs {
		pop, push := in.stackEffect()
		if pop > depth {
			return &Error{Index: i, Op: in.Op, Err: fmt.Errorf("%w: condition consumes a value it did not push", ErrStackImbalance)}
		}
		depth += push - pop
	}
	if depth != 1 {
		return &Error{Index: -1, Err: fmt.Errorf("%w: condition leaves %d values, want 1", ErrStackImbalance, depth)}
	}
	return nil
}

// Node is one element of the control tree.
type Node interface {
	lower(l *lowerer) error
	fallsThrough() bool
}

type instrNode struct{ in Instr }

type markNode struct{ label *Label }

type ifNode struct {
	cond *Cond
	then *Block
}

type ifAndNode struct {
	a, b      *Cond
	then, els *Block
}

type loopNode struct{ body *Block }

// context is shared by every block of one tree.
type context struct {
	nextLabel int
	errors    []error
}

func (c *context) newLabel(name string) *Label {
	c.nextLabel++
	return &Label{id: c.nextLabel, name: name}
}

// Block is an ordered list of control nodes. Blocks handed to callbacks are
// fresh and unattached; they are spliced into their parent when the
// callback returns.
type Block struct {
	ops
	ctx   *context
	nodes []Node
}

// NewBlock creates the root block of a new control tree.
func NewBlock() *Block {
	return newBlock(&context{})
}

func newBlock(ctx *context) *Block {
	b := &Block{ctx: ctx}
	b.ops = ops{add: func(in Instr) { b.nodes = append(b.nodes, instrNode{in}) }}
	return b
}

func (b *Block) fail(err error) {
	b.ctx.errors = append(b.ctx.errors, err)
}

func (b *Block) child(fill func(*Block)) *Block {
	sub := newBlock(b.ctx)
	if fill != nil {
		fill(sub)
	}
	return sub
}

func (b *Block) cond(fill func(*Cond)) *Cond {
	c := newCond()
	if fill != nil {
		fill(c)
	}
	if err := c.check(); err != nil {
		b.fail(err)
	}
	return c
}

// StoreLocal pops into local slot i.
func (b *Block) StoreLocal(i int) {
	b.add(Instr{Op: bytecode.OpStoreLocal, Arg: i})
}

// Return returns the value on top of the stack.
func (b *Block) Return() {
	b.add(Instr{Op: bytecode.OpReturn})
}

// ReturnBool returns the constant v.
func (b *Block) ReturnBool(v bool) {
	b.ConstBool(v)
	b.Return()
}

// NewLabel allocates an unplaced label.
func (b *Block) NewLabel(name string) *Label {
	return b.ctx.newLabel(name)
}

// Mark places label at the current position.
func (b *Block) Mark(label *Label) {
	b.nodes = append(b.nodes, markNode{label})
}

// Jump transfers control to label unconditionally.
func (b *Block) Jump(label *Label) {
	b.add(Instr{Op: bytecode.OpJump, Target: label})
}

// JumpIf evaluates cond and jumps to label when it is true.
func (b *Block) JumpIf(cond func(*Cond), label *Label) {
	b.condJump(cond, bytecode.OpJumpTrue, label)
}

// JumpUnless evaluates cond and jumps to label when it is false.
func (b *Block) JumpUnless(cond func(*Cond), label *Label) {
	b.condJump(cond, bytecode.OpJumpFalse, label)
}

func (b *Block) condJump(cond func(*Cond), op bytecode.Opcode, label *Label) {
	c := b.cond(cond)
	for _, in := range c.instrs {
		b.add(in)
	}
	b.add(Instr{Op: op, Target: label})
}

// If runs then when cond is true. Control continues after then either way
// unless then leaves the procedure.
func (b *Block) If(cond func(*Cond), then func(*Block)) {
	b.nodes = append(b.nodes, ifNode{cond: b.cond(cond), then: b.child(then)})
}

// IfAnd runs then when both conditions are true and els otherwise. condB is
// only evaluated when condA is true.
func (b *Block) IfAnd(condA, condB func(*Cond), then, els func(*Block)) {
	b.nodes = append(b.nodes, ifAndNode{
		a:    b.cond(condA),
		b:    b.cond(condB),
		then: b.child(then),
		els:  b.child(els),
	})
}

// Loop repeats body forever. The only way out is a return inside body.
func (b *Block) Loop(body func(*Block)) {
	b.nodes = append(b.nodes, loopNode{body: b.child(body)})
}

func (b *Block) fallsThrough() bool {
	if len(b.nodes) == 0 {
		return true
	}
	return b.nodes[len(b.nodes)-1].fallsThrough()
}

func (n instrNode) fallsThrough() bool { return !n.in.Op.IsTerminator() }
func (n markNode) fallsThrough() bool  { return true }
func (n ifNode) fallsThrough() bool    { return true }
func (n ifAndNode) fallsThrough() bool { return n.then.fallsThrough() || n.els.fallsThrough() }
func (n loopNode) fallsThrough() bool  { return false }
