package module

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/seqweave/pkg/bytecode"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newHelperType(t *testing.T, ns, name string, procs ...string) *TypeDef {
	t.Helper()
	td := NewTypeDef(ns, name, Stateless)
	for _, pn := range procs {
		p := NewProcedure(pn, ProcPublic|ProcStatic, TypeBool)
		if _, err := p.AddParam("left", TypeSequence); err != nil {
			t.Fatal(err)
		}
		if _, err := p.AddParam("right", TypeSequence); err != nil {
			t.Fatal(err)
		}
		if _, err := p.AddLocal("it", TypeIterator); err != nil {
			t.Fatal(err)
		}
		p.Body.Emit(bytecode.OpConstTrue)
		p.Body.Emit(bytecode.OpReturn)
		if err := td.AddProcedure(p); err != nil {
			t.Fatal(err)
		}
	}
	return td
}

func TestAddTypeAndLookup(t *testing.T) {
	m := New("app")
	if err := m.AddType(newHelperType(t, "Equals", "Helpers", "SequenceEquals")); err != nil {
		t.Fatalf("AddType failed: %v", err)
	}

	p, ok := m.Lookup("Equals.Helpers::SequenceEquals")
	if !ok {
		t.Fatal("Lookup did not find the procedure")
	}
	if p.FullName() != "Equals.Helpers::SequenceEquals" {
		t.Errorf("FullName = %q", p.FullName())
	}
	if !p.Frozen() {
		t.Error("inserted procedure is not frozen")
	}
	if !p.IsStatic() {
		t.Error("procedure should be static")
	}
	if p.Body.ParamCount != 2 || p.Body.LocalCount != 1 {
		t.Errorf("body header params/locals = %d/%d, want 2/1", p.Body.ParamCount, p.Body.LocalCount)
	}
	if diff := cmp.Diff([]string{"left", "right"}, p.Body.ParamNames); diff != "" {
		t.Errorf("ParamNames mismatch (-want +got):\n%s", diff)
	}

	for _, name := range []string{"Equals.Helpers::Missing", "Other::SequenceEquals", "no-separator"} {
		if _, ok := m.Lookup(name); ok {
			t.Errorf("Lookup(%q) succeeded", name)
		}
	}
}

func TestTypeWithoutNamespace(t *testing.T) {
	td := NewTypeDef("", "Helpers", Stateless)
	if td.FullName() != "Helpers" {
		t.Errorf("FullName = %q, want Helpers", td.FullName())
	}
}

func TestFrozenProcedureRejectsChanges(t *testing.T) {
	m := New("app")
	td := newHelperType(t, "Equals", "Helpers", "SequenceEquals")
	if err := m.AddType(td); err != nil {
		t.Fatal(err)
	}
	p := td.Procedures[0]

	if _, err := p.AddParam("extra", TypeObject); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddParam: expected ErrFrozen, got %v", err)
	}
	if _, err := p.AddLocal("extra", TypeObject); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddLocal: expected ErrFrozen, got %v", err)
	}
}

func TestDuplicates(t *testing.T) {
	m := New("app")
	if err := m.AddType(newHelperType(t, "Equals", "Helpers", "A")); err != nil {
		t.Fatal(err)
	}
	if err := m.AddType(newHelperType(t, "Equals", "Helpers", "B")); !errors.Is(err, ErrDuplicateType) {
		t.Errorf("expected ErrDuplicateType, got %v", err)
	}
	if len(m.Types) != 1 {
		t.Errorf("module has %d types after rejected insert, want 1", len(m.Types))
	}

	td := NewTypeDef("X", "Y", Stateless)
	if err := td.AddProcedure(NewProcedure("P", ProcStatic, TypeBool)); err != nil {
		t.Fatal(err)
	}
	if err := td.AddProcedure(NewProcedure("P", ProcStatic, TypeBool)); !errors.Is(err, ErrDuplicateProcedure) {
		t.Errorf("expected ErrDuplicateProcedure, got %v", err)
	}
}

func TestSealed(t *testing.T) {
	m := New("app")
	m.Seal()
	if !m.Sealed() {
		t.Fatal("Sealed() = false after Seal")
	}
	if err := m.AddType(newHelperType(t, "Equals", "Helpers", "A")); !errors.Is(err, ErrSealed) {
		t.Errorf("expected ErrSealed, got %v", err)
	}
}

func TestImportAndResolve(t *testing.T) {
	m := New("app")

	ref, err := m.Import(ExternIteratorAdvance)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if ref.Argc != 1 {
		t.Errorf("Argc = %d, want 1", ref.Argc)
	}
	if _, err := m.Import(ExternIteratorAdvance); err != nil {
		t.Fatal(err)
	}
	if len(m.Externs) != 1 {
		t.Errorf("Externs = %v, want one deduplicated entry", m.Externs)
	}

	if _, err := m.Resolve("Nope.Nothing"); !errors.Is(err, ErrUnknownExtern) {
		t.Errorf("expected ErrUnknownExtern, got %v", err)
	}
	if _, err := m.Resolve(ExternValueEquals); err != nil {
		t.Errorf("Resolve of a standard extern failed: %v", err)
	}
	if len(m.Externs) != 1 {
		t.Error("Resolve recorded an extern")
	}

	m.SetResolver(map[string]ExternRef{"custom.Eq": {Symbol: "custom.Eq", Argc: 2}})
	if _, err := m.Resolve(ExternValueEquals); !errors.Is(err, ErrUnknownExtern) {
		t.Errorf("custom resolver still resolves standard externs: %v", err)
	}
	if _, err := m.Resolve("custom.Eq"); err != nil {
		t.Errorf("custom resolver failed: %v", err)
	}
}

func TestProceduresOrder(t *testing.T) {
	m := New("app")
	if err := m.AddType(newHelperType(t, "A", "One", "x", "y")); err != nil {
		t.Fatal(err)
	}
	if err := m.AddType(newHelperType(t, "B", "Two", "z")); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, p := range m.Procedures() {
		names = append(names, p.FullName())
	}
	want := []string{"A.One::x", "A.One::y", "B.Two::z"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Procedures mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecode(t *testing.T) {
	m := New("app")
	if err := m.AddType(newHelperType(t, "Equals", "Helpers", "SequenceEquals")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Import(ExternValueEquals); err != nil {
		t.Fatal(err)
	}
	m.Seal()

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	opts := cmp.Options{
		cmpopts.IgnoreUnexported(Module{}, Procedure{}),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(m, got, opts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !got.Sealed() {
		t.Error("seal lost in round trip")
	}
	if p, _ := got.Lookup("Equals.Helpers::SequenceEquals"); p == nil || !p.Frozen() {
		t.Error("decoded procedure is not frozen")
	}

	again, err := Encode(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(data) {
		t.Error("re-encoding is not byte-identical")
	}
}

func TestDecodeRejectsMissingBody(t *testing.T) {
	m := New("app")
	td := newHelperType(t, "Equals", "Helpers", "SequenceEquals")
	td.Procedures[0].Body = nil
	m.Types = append(m.Types, td)

	data, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data); err == nil {
		t.Error("expected error for procedure without body")
	}
}

func TestWriteReadFile(t *testing.T) {
	m := New("app")
	if err := m.AddType(newHelperType(t, "Equals", "Helpers", "SequenceEquals")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "nested", "app.wvm")
	if err := WriteFile(path, m); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got.MVID != m.MVID {
		t.Errorf("MVID = %q, want %q", got.MVID, m.MVID)
	}
	if _, ok := got.Lookup("Equals.Helpers::SequenceEquals"); !ok {
		t.Error("procedure lost in file round trip")
	}
}

func TestContentHash(t *testing.T) {
	a := newHelperType(t, "Equals", "Helpers", "SequenceEquals").Procedures[0]
	b := newHelperType(t, "Equals", "Helpers", "SequenceEquals").Procedures[0]

	ha, err := ContentHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := ContentHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Error("identical procedures hash differently")
	}

	b.Body.Code[0] = byte(bytecode.OpConstFalse)
	hc, err := ContentHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if hc == ha {
		t.Error("body change did not change the hash")
	}

	c := newHelperType(t, "Equals", "Helpers", "Other").Procedures[0]
	hd, err := ContentHash(c)
	if err != nil {
		t.Fatal(err)
	}
	if hd == ha {
		t.Error("rename did not change the hash")
	}
}

func TestDigestIgnoresMVID(t *testing.T) {
	build := func() *Module {
		m := New("app")
		if err := m.AddType(newHelperType(t, "Equals", "Helpers", "SequenceEquals")); err != nil {
			t.Fatal(err)
		}
		return m
	}
	a, b := build(), build()
	if a.MVID == b.MVID {
		t.Fatal("two modules share an MVID")
	}

	da, err := Digest(a)
	if err != nil {
		t.Fatal(err)
	}
	db, err := Digest(b)
	if err != nil {
		t.Fatal(err)
	}
	if da != db {
		t.Errorf("digests differ: %s != %s", da, db)
	}
	if len(da) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(da))
	}
}

func TestDigestCoversWholeImage(t *testing.T) {
	build := func() *Module {
		m := New("app")
		if err := m.AddType(newHelperType(t, "Equals", "Helpers", "SequenceEquals")); err != nil {
			t.Fatal(err)
		}
		return m
	}
	base, err := Digest(build())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		change func(m *Module)
	}{
		{"empty type", func(m *Module) {
			if err := m.AddType(NewTypeDef("Other", "Marker", Stateless)); err != nil {
				t.Fatal(err)
			}
		}},
		{"type attrs", func(m *Module) { m.Types[0].Attrs &^= TypeBeforeFieldInit }},
		{"extern", func(m *Module) { m.AddExtern(StandardExterns[ExternValueEquals]) }},
		{"sealed", func(m *Module) { m.Seal() }},
		{"name", func(m *Module) { m.Name = "other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := build()
			tt.change(m)
			got, err := Digest(m)
			if err != nil {
				t.Fatal(err)
			}
			if got == base {
				t.Error("change did not alter the digest")
			}
		})
	}
}

func TestAddExternRecordsResolvedSymbol(t *testing.T) {
	m := New("app")
	ref := ExternRef{Symbol: "My.ElementEquals", Argc: 2}
	if got := m.AddExtern(ref); got != ref {
		t.Errorf("AddExtern = %v, want %v", got, ref)
	}
	m.AddExtern(ref)
	if diff := cmp.Diff([]ExternRef{ref}, m.Externs); diff != "" {
		t.Errorf("Externs mismatch (-want +got):\n%s", diff)
	}
}

func TestImageUsesIntegerKeys(t *testing.T) {
	m := New("app")
	if err := m.AddType(newHelperType(t, "Equals", "Helpers", "SequenceEquals")); err != nil {
		t.Fatal(err)
	}
	data, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[int]cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("image is not keyed by integers: %v", err)
	}
	var name string
	if err := cbor.Unmarshal(raw[2], &name); err != nil || name != "app" {
		t.Errorf("key 2 = %q, %v; want module name", name, err)
	}

	var types []map[int]cbor.RawMessage
	if err := cbor.Unmarshal(raw[5], &types); err != nil {
		t.Fatalf("types are not keyed by integers: %v", err)
	}
	var procs []map[int]cbor.RawMessage
	if err := cbor.Unmarshal(types[0][6], &procs); err != nil {
		t.Fatalf("procedures are not keyed by integers: %v", err)
	}
	var body map[int]cbor.RawMessage
	if err := cbor.Unmarshal(procs[0][7], &body); err != nil {
		t.Fatalf("body is not keyed by integers: %v", err)
	}
	if _, ok := body[3]; !ok {
		t.Error("body has no code under key 3")
	}
}
