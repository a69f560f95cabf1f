// Package runtime executes synthesized procedures against Go values.
//
// A Host supplies the externs a procedure body calls, and an Invoker binds
// one procedure to a Host and a pool of VMs so it can be called from many
// goroutines at once.
package runtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/seqweave/pkg/bytecode"
	"github.com/chazu/seqweave/pkg/module"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("weave.runtime")

// ErrNotFound is returned when a module has no procedure with the
// requested name.
var ErrNotFound = errors.New("procedure not found")

// ErrSignature is returned when binding a procedure that is not a static
// two-argument predicate.
var ErrSignature = errors.New("procedure is not a binary predicate")

// Invoker calls one frozen procedure. It is safe for concurrent use.
type Invoker struct {
	proc *module.Procedure
	host bytecode.Externs
	pool sync.Pool

	// Trace enables per-instruction debug logging on pooled VMs.
	Trace bool
}

// Bind prepares proc for invocation with host. A nil host, including a
// nil *Host, uses a default Host.
func Bind(proc *module.Procedure, host bytecode.Externs) (*Invoker, error) {
	if !proc.Frozen() {
		return nil, fmt.Errorf("%s: not inserted into a module", proc.FullName())
	}
	if !proc.IsStatic() || len(proc.Params) != 2 || proc.Returns != module.TypeBool {
		return nil, fmt.Errorf("%s: %w", proc.FullName(), ErrSignature)
	}
	if h, ok := host.(*Host); host == nil || (ok && h == nil) {
		host = &Host{}
	}

	inv := &Invoker{proc: proc, host: host}
	inv.pool.New = func() any {
		vm := bytecode.NewVM()
		vm.SetExterns(inv.host)
		return vm
	}
	return inv, nil
}

// Load looks up a procedure by stable name and binds it.
func Load(m *module.Module, fullName string, host bytecode.Externs) (*Invoker, error) {
	proc, ok := m.Lookup(fullName)
	if !ok {
		return nil, fmt.Errorf("%s: %w", fullName, ErrNotFound)
	}
	return Bind(proc, host)
}

// Procedure returns the bound procedure.
func (inv *Invoker) Procedure() *module.Procedure {
	return inv.proc
}

// Invoke runs the procedure on left and right.
func (inv *Invoker) Invoke(left, right any) (bool, error) {
	vm := inv.pool.Get().(*bytecode.VM)
	defer inv.pool.Put(vm)
	vm.Trace = inv.Trace

	result, err := vm.Execute(inv.proc.Body, []bytecode.Value{left, right})
	if err != nil {
		log.Debugf("%s failed: %v", inv.proc.FullName(), err)
		return false, fmt.Errorf("%s: %w", inv.proc.FullName(), err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%s: returned %T, want bool", inv.proc.FullName(), result)
	}
	return b, nil
}
