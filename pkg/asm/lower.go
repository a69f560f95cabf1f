package asm

import (
	"fmt"
	"slices"
	"strings"

	"github.com/chazu/seqweave/pkg/bytecode"
)

// Program is a flat instruction stream with every jump resolved.
type Program struct {
	Instrs []Instr

	// Labels maps instruction indices to the labels placed there, for
	// listings only.
	Labels map[int][]*Label
}

// lowerer linearizes a control tree in one pass. Jump targets stay symbolic
// until every block has been spliced in.
type lowerer struct {
	ctx   *context
	out   []Instr
	marks map[*Label]int
}

// Assemble lowers the tree rooted at root into a Program. Contract breaches
// recorded while the tree was built are reported first.
func Assemble(root *Block) (*Program, error) {
	if len(root.ctx.errors) > 0 {
		return nil, root.ctx.errors[0]
	}

	l := &lowerer{ctx: root.ctx, marks: make(map[*Label]int)}
	if err := l.block(root); err != nil {
		return nil, err
	}

	p := &Program{Instrs: l.out, Labels: make(map[int][]*Label)}
	for i := range p.Instrs {
		in := &p.Instrs[i]
		if !in.Op.IsJump() {
			continue
		}
		dest, ok := l.marks[in.Target]
		if !ok {
			return nil, &Error{Index: i, Op: in.Op, Err: fmt.Errorf("%w: %v", ErrUnresolvedLabel, in.Target)}
		}
		in.Dest = dest
	}
	for label, idx := range l.marks {
		p.Labels[idx] = append(p.Labels[idx], label)
	}
	for _, labels := range p.Labels {
		slices.SortFunc(labels, func(a, b *Label) int { return a.id - b.id })
	}
	return p, nil
}

func (l *lowerer) emit(in Instr) {
	l.out = append(l.out, in)
}

func (l *lowerer) jump(op bytecode.Opcode, target *Label) {
	l.emit(Instr{Op: op, Target: target})
}

func (l *lowerer) mark(label *Label) error {
	if label == nil {
		return &Error{Index: -1, Err: fmt.Errorf("%w: nil label", ErrUnresolvedLabel)}
	}
	if _, ok := l.marks[label]; ok {
		return &Error{Index: len(l.out), Err: fmt.Errorf("%w: %v", ErrLabelRebound, label)}
	}
	l.marks[label] = len(l.out)
	return nil
}

func (l *lowerer) block(b *Block) error {
	for _, n := range b.nodes {
		if err := n.lower(l); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowerer) cond(c *Cond) {
	l.out = append(l.out, c.instrs...)
}

func (n instrNode) lower(l *lowerer) error {
	l.emit(n.in)
	return nil
}

func (n markNode) lower(l *lowerer) error {
	return l.mark(n.label)
}

// cond; JUMP_FALSE end; then; end:
func (n ifNode) lower(l *lowerer) error {
	end := l.ctx.newLabel("endif")
	l.cond(n.cond)
	l.jump(bytecode.OpJumpFalse, end)
	if err := l.block(n.then); err != nil {
		return err
	}
	return l.mark(end)
}

// a; JUMP_FALSE else; b; JUMP_FALSE else; then; [JUMP end]; else: els; end:
func (n ifAndNode) lower(l *lowerer) error {
	els := l.ctx.newLabel("else")
	end := l.ctx.newLabel("endand")

	l.cond(n.a)
	l.jump(bytecode.OpJumpFalse, els)
	l.cond(n.b)
	l.jump(bytecode.OpJumpFalse, els)
	if err := l.block(n.then); err != nil {
		return err
	}
	if n.then.fallsThrough() {
		l.jump(bytecode.OpJump, end)
	}
	if err := l.mark(els); err != nil {
		return err
	}
	if err := l.block(n.els); err != nil {
		return err
	}
	return l.mark(end)
}

// top: body; JUMP top
func (n loopNode) lower(l *lowerer) error {
	top := l.ctx.newLabel("loop")
	if err := l.mark(top); err != nil {
		return err
	}
	if err := l.block(n.body); err != nil {
		return err
	}
	l.jump(bytecode.OpJump, top)
	return nil
}

// String renders the program as a labelled listing.
func (p *Program) String() string {
	var sb strings.Builder
	for i, in := range p.Instrs {
		for _, label := range p.Labels[i] {
			sb.WriteString(label.String() + ":\n")
		}
		fmt.Fprintf(&sb, "  %3d  %s\n", i, in)
	}
	for _, label := range p.Labels[len(p.Instrs)] {
		sb.WriteString(label.String() + ":\n")
	}
	return sb.String()
}
