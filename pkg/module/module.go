// Package module is the insertion point for synthesized code: a container of
// utility types, their static procedures, and the extern references those
// procedures call.
package module

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/seqweave/pkg/bytecode"
	"github.com/google/uuid"
)

var (
	// ErrSealed is returned when inserting into a sealed module.
	ErrSealed = errors.New("module is sealed")

	// ErrDuplicateType is returned when a type with the same full name exists.
	ErrDuplicateType = errors.New("duplicate type")

	// ErrDuplicateProcedure is returned when a type already declares a
	// procedure with the same name.
	ErrDuplicateProcedure = errors.New("duplicate procedure")

	// ErrUnknownExtern is returned when an extern symbol cannot be resolved.
	ErrUnknownExtern = errors.New("unknown extern")

	// ErrFrozen is returned when mutating a procedure after insertion.
	ErrFrozen = errors.New("procedure is frozen")
)

// TypeRef names a type in the module's type system.
type TypeRef string

const (
	TypeObject   TypeRef = "object"
	TypeBool     TypeRef = "bool"
	TypeSequence TypeRef = "Sequence"
	TypeIterator TypeRef = "Iterator"
)

// TypeAttrs are flags on a type definition.
type TypeAttrs uint32

const (
	TypePublic TypeAttrs = 1 << iota
	TypeAbstract
	TypeSealed
	TypeBeforeFieldInit
)

// Stateless is the attribute set for a static utility container: it can
// be neither instantiated nor derived from.
const Stateless = TypePublic | TypeAbstract | TypeSealed | TypeBeforeFieldInit

// ProcAttrs are flags on a procedure.
type ProcAttrs uint32

const (
	ProcPublic ProcAttrs = 1 << iota
	ProcStatic
	ProcHideBySig
)

// Param is a procedure parameter.
type Param struct {
	Name string  `cbor:"1,keyasint"`
	Type TypeRef `cbor:"2,keyasint"`
}

// Local is a scratch slot scoped to one invocation.
type Local struct {
	Name string  `cbor:"1,keyasint"`
	Type TypeRef `cbor:"2,keyasint"`
	Slot int     `cbor:"3,keyasint"`
}

// Procedure is a callable unit. Once inserted into a module it is frozen.
type Procedure struct {
	Name          string          `cbor:"1,keyasint"`
	DeclaringType string          `cbor:"2,keyasint"`
	Attrs         ProcAttrs       `cbor:"3,keyasint"`
	Params        []Param         `cbor:"4,keyasint"`
	Returns       TypeRef         `cbor:"5,keyasint"`
	Locals        []Local         `cbor:"6,keyasint,omitempty"`
	Body          *bytecode.Chunk `cbor:"7,keyasint"`
	Generated     bool            `cbor:"8,keyasint,omitempty"`

	frozen bool
}

// NewProcedure creates an empty procedure with an empty body.
func NewProcedure(name string, attrs ProcAttrs, returns TypeRef) *Procedure {
	return &Procedure{
		Name:    name,
		Attrs:   attrs,
		Returns: returns,
		Body:    bytecode.NewChunk(),
	}
}

// AddParam appends a parameter and returns its index.
func (p *Procedure) AddParam(name string, typ TypeRef) (int, error) {
	if p.frozen {
		return 0, fmt.Errorf("%s: %w", p.Name, ErrFrozen)
	}
	p.Params = append(p.Params, Param{Name: name, Type: typ})
	return len(p.Params) - 1, nil
}

// AddLocal appends a local slot.
func (p *Procedure) AddLocal(name string, typ TypeRef) (Local, error) {
	if p.frozen {
		return Local{}, fmt.Errorf("%s: %w", p.Name, ErrFrozen)
	}
	l := Local{Name: name, Type: typ, Slot: len(p.Locals)}
	p.Locals = append(p.Locals, l)
	return l, nil
}

// FullName is the stable name other code uses to reference the procedure.
func (p *Procedure) FullName() string {
	return p.DeclaringType + "::" + p.Name
}

// IsStatic reports whether the procedure takes no receiver.
func (p *Procedure) IsStatic() bool {
	return p.Attrs&ProcStatic != 0
}

// Frozen reports whether the procedure has been inserted.
func (p *Procedure) Frozen() bool {
	return p.frozen
}

// freeze copies the signature into the body header and locks the procedure.
func (p *Procedure) freeze() {
	p.Body.ParamCount = uint8(len(p.Params))
	p.Body.ParamNames = make([]string, len(p.Params))
	for i, param := range p.Params {
		p.Body.ParamNames[i] = param.Name
	}
	p.Body.LocalCount = uint8(len(p.Locals))
	p.frozen = true
}

// TypeDef is a type that holds procedures.
type TypeDef struct {
	Namespace  string       `cbor:"1,keyasint,omitempty"`
	Name       string       `cbor:"2,keyasint"`
	Attrs      TypeAttrs    `cbor:"3,keyasint"`
	BaseType   TypeRef      `cbor:"4,keyasint"`
	Generated  bool         `cbor:"5,keyasint,omitempty"`
	Procedures []*Procedure `cbor:"6,keyasint"`
}

// NewTypeDef creates a type definition deriving from object.
func NewTypeDef(namespace, name string, attrs TypeAttrs) *TypeDef {
	return &TypeDef{
		Namespace: namespace,
		Name:      name,
		Attrs:     attrs,
		BaseType:  TypeObject,
	}
}

// FullName returns Namespace.Name.
func (t *TypeDef) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// AddProcedure declares p on the type.
func (t *TypeDef) AddProcedure(p *Procedure) error {
	for _, existing := range t.Procedures {
		if existing.Name == p.Name {
			return fmt.Errorf("%s::%s: %w", t.FullName(), p.Name, ErrDuplicateProcedure)
		}
	}
	p.DeclaringType = t.FullName()
	t.Procedures = append(t.Procedures, p)
	return nil
}

// ExternRef is a resolved reference to an operation outside the module.
type ExternRef struct {
	Symbol string `cbor:"1,keyasint"`
	Argc   int    `cbor:"2,keyasint"`
}

// Well-known extern symbols.
const (
	ExternReferenceEquals = "object.ReferenceEquals"
	ExternValueEquals     = "object.Equals"
	ExternGetIterator     = "Sequence.GetIterator"
	ExternIteratorAdvance = "Iterator.MoveNext"
	ExternIteratorCurrent = "Iterator.Current"
)

// StandardExterns is the default resolver table.
var StandardExterns = map[string]ExternRef{
	ExternReferenceEquals: {Symbol: ExternReferenceEquals, Argc: 2},
	ExternValueEquals:     {Symbol: ExternValueEquals, Argc: 2},
	ExternGetIterator:     {Symbol: ExternGetIterator, Argc: 1},
	ExternIteratorAdvance: {Symbol: ExternIteratorAdvance, Argc: 1},
	ExternIteratorCurrent: {Symbol: ExternIteratorCurrent, Argc: 1},
}

// Module is a unit into which types and procedures can be inserted.
// A Module is not safe for concurrent mutation.
type Module struct {
	Name    string
	MVID    string
	Types   []*TypeDef
	Externs []ExternRef

	resolver map[string]ExternRef
	sealed   bool
}

// New creates an empty module with a fresh version id.
func New(name string) *Module {
	return &Module{
		Name:     name,
		MVID:     uuid.NewString(),
		resolver: StandardExterns,
	}
}

// SetResolver replaces the extern resolution table.
func (m *Module) SetResolver(table map[string]ExternRef) {
	m.resolver = table
}

// Resolve looks up an extern symbol without recording it.
func (m *Module) Resolve(symbol string) (ExternRef, error) {
	resolver := m.resolver
	if resolver == nil {
		resolver = StandardExterns
	}
	ref, ok := resolver[symbol]
	if !ok {
		return ExternRef{}, fmt.Errorf("%w: %s", ErrUnknownExtern, symbol)
	}
	return ref, nil
}

// Import resolves an extern symbol and records it on the module.
func (m *Module) Import(symbol string) (ExternRef, error) {
	ref, err := m.Resolve(symbol)
	if err != nil {
		return ExternRef{}, err
	}
	return m.AddExtern(ref), nil
}

// AddExtern records an already resolved extern. Refs are deduplicated by
// their resolved symbol, so a table that remaps a name is recorded under
// the target symbol.
func (m *Module) AddExtern(ref ExternRef) ExternRef {
	for _, existing := range m.Externs {
		if existing.Symbol == ref.Symbol {
			return existing
		}
	}
	m.Externs = append(m.Externs, ref)
	return ref
}

// AddType inserts a fully built type. Its procedures are frozen on
// insertion and become reachable through Lookup.
func (m *Module) AddType(t *TypeDef) error {
	if m.sealed {
		return fmt.Errorf("%s: %w", m.Name, ErrSealed)
	}
	if m.Type(t.FullName()) != nil {
		return fmt.Errorf("%s: %w", t.FullName(), ErrDuplicateType)
	}
	for _, p := range t.Procedures {
		p.freeze()
	}
	m.Types = append(m.Types, t)
	return nil
}

// Type returns the type with the given full name, or nil.
func (m *Module) Type(fullName string) *TypeDef {
	for _, t := range m.Types {
		if t.FullName() == fullName {
			return t
		}
	}
	return nil
}

// Lookup finds a procedure by its stable name, "Namespace.Type::Name".
func (m *Module) Lookup(fullName string) (*Procedure, bool) {
	typeName, procName, ok := strings.Cut(fullName, "::")
	if !ok {
		return nil, false
	}
	t := m.Type(typeName)
	if t == nil {
		return nil, false
	}
	for _, p := range t.Procedures {
		if p.Name == procName {
			return p, true
		}
	}
	return nil, false
}

// Procedures returns every procedure in insertion order.
func (m *Module) Procedures() []*Procedure {
	var out []*Procedure
	for _, t := range m.Types {
		out = append(out, t.Procedures...)
	}
	return out
}

// Seal prevents further insertion.
func (m *Module) Seal() {
	m.sealed = true
}

// Sealed reports whether the module accepts insertions.
func (m *Module) Sealed() bool {
	return m.sealed
}
