// Package synth emits the sequence equality helper into a module.
//
// The helper is never written as source. Its body is described as a
// control tree with package asm and encoded straight to bytecode:
//
//	if ReferenceEquals(left, right)  return true
//	if ReferenceEquals(left, nil)    return false
//	if ReferenceEquals(right, nil)   return false
//	leftIterator  = GetIterator(left)
//	rightIterator = GetIterator(right)
//	loop:
//	    leftHasNext  = MoveNext(leftIterator)
//	    rightHasNext = MoveNext(rightIterator)
//	    if !leftHasNext && !rightHasNext      return true
//	    else if leftHasNext && rightHasNext
//	        if !Equals(Current(leftIterator), Current(rightIterator))  return false
//	    else                                  return false
//
// Both iterators are advanced on every pass, so a length mismatch shows up
// as exactly one of them running dry. This relies on MoveNext returning
// false, with no side effects, every time it is called on an exhausted
// iterator.
package synth

import (
	"fmt"

	"github.com/chazu/seqweave/pkg/asm"
	"github.com/chazu/seqweave/pkg/bytecode"
	"github.com/chazu/seqweave/pkg/module"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("weave.synth")

// Options names the synthesized artifacts.
type Options struct {
	Namespace string // utility type namespace
	TypeName  string // utility type name
	ProcName  string // procedure name
	LeftName  string // first parameter
	RightName string // second parameter

	// DebugInfo records local names in the body.
	DebugInfo bool
}

// DefaultOptions returns the conventional names: Equals.Helpers::SequenceEquals.
func DefaultOptions() Options {
	return Options{
		Namespace: "Equals",
		TypeName:  "Helpers",
		ProcName:  "SequenceEquals",
		LeftName:  "left",
		RightName: "right",
		DebugInfo: true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Namespace == "" {
		o.Namespace = d.Namespace
	}
	if o.TypeName == "" {
		o.TypeName = d.TypeName
	}
	if o.ProcName == "" {
		o.ProcName = d.ProcName
	}
	if o.LeftName == "" {
		o.LeftName = d.LeftName
	}
	if o.RightName == "" {
		o.RightName = d.RightName
	}
	return o
}

// externs holds the resolved references the body calls.
type externs struct {
	referenceEquals module.ExternRef
	valueEquals     module.ExternRef
	getIterator     module.ExternRef
	advance         module.ExternRef
	current         module.ExternRef
}

func (x externs) all() []module.ExternRef {
	return []module.ExternRef{x.referenceEquals, x.valueEquals, x.getIterator, x.advance, x.current}
}

func resolveExterns(m *module.Module) (externs, error) {
	var x externs
	for _, imp := range []struct {
		symbol string
		dst    *module.ExternRef
	}{
		{module.ExternReferenceEquals, &x.referenceEquals},
		{module.ExternValueEquals, &x.valueEquals},
		{module.ExternGetIterator, &x.getIterator},
		{module.ExternIteratorAdvance, &x.advance},
		{module.ExternIteratorCurrent, &x.current},
	} {
		ref, err := m.Resolve(imp.symbol)
		if err != nil {
			return externs{}, err
		}
		*imp.dst = ref
	}
	return x, nil
}

// slots are the parameter and local indices the body refers to.
type slots struct {
	left, right                 int
	leftIterator, rightIterator int
	leftHasNext, rightHasNext   int
}

// Inject declares a stateless utility type holding a static
// SequenceEquals(left, right Sequence) bool and inserts it into m. Nothing
// is inserted unless the whole procedure assembles and verifies.
func Inject(m *module.Module, opts Options) (*module.Procedure, error) {
	opts = opts.withDefaults()

	if m.Sealed() {
		return nil, fmt.Errorf("synth: %s: %w", m.Name, module.ErrSealed)
	}

	x, err := resolveExterns(m)
	if err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}

	helper := module.NewTypeDef(opts.Namespace, opts.TypeName, module.Stateless)
	helper.Generated = true

	proc := module.NewProcedure(opts.ProcName, module.ProcPublic|module.ProcStatic|module.ProcHideBySig, module.TypeBool)
	proc.Generated = true

	s, err := declare(proc, opts)
	if err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}

	root := asm.NewBlock()
	emitBody(root, s, x)

	prog, err := asm.Assemble(root)
	if err != nil {
		return nil, fmt.Errorf("synth: assemble %s: %w", opts.ProcName, err)
	}
	if err := prog.Verify(asm.Frame{Params: len(proc.Params), Locals: len(proc.Locals)}); err != nil {
		return nil, fmt.Errorf("synth: verify %s: %w", opts.ProcName, err)
	}
	if err := prog.Encode(proc.Body); err != nil {
		return nil, fmt.Errorf("synth: encode %s: %w", opts.ProcName, err)
	}

	proc.Body.Flags |= bytecode.ChunkFlagGenerated
	if opts.DebugInfo {
		proc.Body.Flags |= bytecode.ChunkFlagDebug
		for _, l := range proc.Locals {
			proc.Body.VarNames = append(proc.Body.VarNames, l.Name)
		}
	}

	if err := helper.AddProcedure(proc); err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}
	if err := m.AddType(helper); err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}
	for _, ref := range x.all() {
		m.AddExtern(ref)
	}

	log.Infof("synthesized %s (%d instructions, %d bytes)", proc.FullName(), len(prog.Instrs), proc.Body.CodeLen())
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("%s listing:\n%s", proc.FullName(), prog)
	}
	return proc, nil
}

func declare(p *module.Procedure, opts Options) (slots, error) {
	var s slots
	var err error
	if s.left, err = p.AddParam(opts.LeftName, module.TypeSequence); err != nil {
		return s, err
	}
	if s.right, err = p.AddParam(opts.RightName, module.TypeSequence); err != nil {
		return s, err
	}

	for _, l := range []struct {
		name string
		typ  module.TypeRef
		dst  *int
	}{
		{"leftIterator", module.TypeIterator, &s.leftIterator},
		{"rightIterator", module.TypeIterator, &s.rightIterator},
		{"leftHasNext", module.TypeBool, &s.leftHasNext},
		{"rightHasNext", module.TypeBool, &s.rightHasNext},
	} {
		local, err := p.AddLocal(l.name, l.typ)
		if err != nil {
			return s, err
		}
		*l.dst = local.Slot
	}
	return s, nil
}

func emitBody(b *asm.Block, s slots, x externs) {
	referenceEquals := func(load func(c *asm.Cond)) func(*asm.Cond) {
		return func(c *asm.Cond) {
			load(c)
			c.Call(x.referenceEquals.Symbol, x.referenceEquals.Argc)
		}
	}

	// Same instance, or both null.
	b.If(referenceEquals(func(c *asm.Cond) {
		c.LoadParam(s.left)
		c.LoadParam(s.right)
	}), func(t *asm.Block) { t.ReturnBool(true) })

	b.If(referenceEquals(func(c *asm.Cond) {
		c.LoadParam(s.left)
		c.ConstNil()
	}), func(t *asm.Block) { t.ReturnBool(false) })

	b.If(referenceEquals(func(c *asm.Cond) {
		c.LoadParam(s.right)
		c.ConstNil()
	}), func(t *asm.Block) { t.ReturnBool(false) })

	emitGetIterator(b, s.left, s.leftIterator, x)
	emitGetIterator(b, s.right, s.rightIterator, x)

	b.Loop(func(loop *asm.Block) {
		emitAdvance(loop, s.leftIterator, s.leftHasNext, x)
		emitAdvance(loop, s.rightIterator, s.rightHasNext, x)

		loop.IfAnd(
			hasNext(s.leftHasNext, false),
			hasNext(s.rightHasNext, false),
			func(t *asm.Block) { t.ReturnBool(true) },
			func(e *asm.Block) {
				e.IfAnd(
					hasNext(s.leftHasNext, true),
					hasNext(s.rightHasNext, true),
					func(t *asm.Block) {
						t.If(currentDiffers(s, x), func(tt *asm.Block) { tt.ReturnBool(false) })
					},
					func(e2 *asm.Block) { e2.ReturnBool(false) },
				)
			},
		)
	})
}

func emitGetIterator(b *asm.Block, param, iterator int, x externs) {
	b.LoadParam(param)
	b.Call(x.getIterator.Symbol, x.getIterator.Argc)
	b.StoreLocal(iterator)
}

func emitAdvance(b *asm.Block, iterator, hasNextSlot int, x externs) {
	b.LoadLocal(iterator)
	b.Call(x.advance.Symbol, x.advance.Argc)
	b.StoreLocal(hasNextSlot)
}

// hasNext tests a stored advance result against want.
func hasNext(slot int, want bool) func(*asm.Cond) {
	return func(c *asm.Cond) {
		c.LoadLocal(slot)
		if !want {
			c.Not()
		}
	}
}

func currentDiffers(s slots, x externs) func(*asm.Cond) {
	return func(c *asm.Cond) {
		c.LoadLocal(s.leftIterator)
		c.Call(x.current.Symbol, x.current.Argc)
		c.LoadLocal(s.rightIterator)
		c.Call(x.current.Symbol, x.current.Argc)
		c.Call(x.valueEquals.Symbol, x.valueEquals.Argc)
		c.Not()
	}
}
