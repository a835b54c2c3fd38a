// Package vm implements nyx's bytecode interpreter (C6): a stack
// machine that executes a compiled Bytecode module against a shared
// heap and global namespace.
//
// Every function call (see Call) spawns a fresh VM — its own operand
// stack, its own local-slot array, its own with-chain and for-in
// state — sharing only Heap, Globals, and the call stack/debugger with
// its caller. This mirrors the teacher's `methodVM := New()` pattern
// (a fresh execution context per call, wired back to shared state)
// almost exactly, but simpler: nyx closures never need a parent's
// locals array the way the teacher's Smalltalk blocks did. A closure's
// free variables arrive through a global-namespace overlay the
// compiler snapshots immediately before MakeClosure runs (see
// Call's overlayCaptures), so nothing here needs a HomeContext pointer
// or non-local return at all — every `return` exits only its own
// function, because JS has no non-local block return to support.
package vm

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/kristofer/nyx/pkg/bytecode"
	"github.com/kristofer/nyx/pkg/heap"
	"github.com/kristofer/nyx/pkg/value"
)

// maxCallDepth bounds recursion the way a real engine's native stack
// would, surfaced as a catchable RangeError rather than a Go stack
// overflow.
const maxCallDepth = 2000

// newCallFlag and methodCallFlag mirror the identically named
// unexported constants in pkg/compiler: the high bits of OpCall's
// argument-count operand that mark `new Foo()` and `obj.method()`
// dispatch, respectively.
const (
	newCallFlag    = 1 << 16
	methodCallFlag = 1 << 17
	callArgMask    = (1 << 16) - 1
)

// VM is one call frame's execution context.
type VM struct {
	Heap    *heap.Heap
	Globals map[string]value.Value

	stack  []value.Value
	locals []value.Value
	this   value.Value

	withChain []value.Value
	forIn     []*forInIterator

	caller    *VM
	depth     int
	callStack *[]StackFrame
	debugger  *Debugger

	ip int
}

type forInIterator struct {
	keys []string
	pos  int
}

// New creates a top-level VM over h with an empty global namespace.
func New(h *heap.Heap) *VM {
	cs := make([]StackFrame, 0, 32)
	return &VM{
		Heap:      h,
		Globals:   make(map[string]value.Value),
		this:      value.Undefined,
		callStack: &cs,
	}
}

// EnableDebugger attaches an interactive debugger to this VM.
func (vm *VM) EnableDebugger() *Debugger {
	vm.debugger = NewDebugger(vm)
	vm.debugger.Enable()
	return vm.debugger
}

// GetDebugger returns the attached debugger, or nil.
func (vm *VM) GetDebugger() *Debugger { return vm.debugger }

// Run executes a top-level compiled program as its own call frame
// ("<program>"), with `this` undefined.
func (vm *VM) Run(bc *bytecode.Bytecode) (value.Value, error) {
	*vm.callStack = append(*vm.callStack, StackFrame{Name: "<program>"})
	defer vm.popCallStack()
	return vm.execute(bc)
}

func (vm *VM) popCallStack() {
	cs := *vm.callStack
	if len(cs) > 0 {
		*vm.callStack = cs[:len(cs)-1]
	}
}

// --- the main dispatch loop ---

// execute runs bc to completion (OpReturn/OpHalt) or until an
// uncaught/internal error propagates out, routing a thrown value to
// the innermost try/catch/finally handler that covers the current
// instruction, per bc's own flat Handlers list.
func (vm *VM) execute(bc *bytecode.Bytecode) (value.Value, error) {
	// pending/pendingFinallyEnd track an exception that's unwinding
	// through a catch-less finally: the finally block runs inline as
	// ordinary fallthrough code (see compileTry), so once its last
	// instruction (pendingFinallyEnd) has executed, the loop below
	// re-dispatches tv as if it had just been thrown at that point —
	// the only way for the exception to keep propagating to whatever
	// handler (if any) encloses this one.
	var pending *ThrownValue
	pendingFinallyEnd := -1
	for ip := 0; ip < len(bc.Instructions); ip++ {
		vm.ip = ip

		if vm.debugger != nil && vm.debugger.ShouldPause() {
			if !vm.debugger.InteractivePrompt(bc) {
				return value.Undefined, vm.internalError("debugging session terminated")
			}
		}

		halted, haltVal, err := vm.step(bc, bc.Instructions[ip])
		if err != nil {
			tv, ok := err.(*ThrownValue)
			if !ok {
				return value.Undefined, err
			}
			nextIP, newPending, newFinallyEnd, handled := vm.routeThrow(bc, ip, tv)
			if !handled {
				return value.Undefined, tv
			}
			pending, pendingFinallyEnd = newPending, newFinallyEnd
			ip = nextIP
			continue
		}
		if halted {
			if pending != nil {
				return value.Undefined, pending
			}
			return haltVal, nil
		}
		ip = vm.ip // step() moves vm.ip directly for jumps

		if pending != nil && ip == pendingFinallyEnd {
			tv := pending
			nextIP, newPending, newFinallyEnd, handled := vm.routeThrow(bc, ip, tv)
			if !handled {
				return value.Undefined, tv
			}
			pending, pendingFinallyEnd = newPending, newFinallyEnd
			ip = nextIP
		}
	}
	if pending != nil {
		return value.Undefined, pending
	}
	return value.Undefined, nil
}

// routeThrow finds the narrowest try/catch/finally handler covering ip
// and resolves what should happen to tv: jump into a catch (pushing
// tv.Value, no longer pending), jump into a catch-less finally (still
// pending, to be re-dispatched once that finally's last instruction
// runs), or report that nothing in range handles it.
func (vm *VM) routeThrow(bc *bytecode.Bytecode, ip int, tv *ThrownValue) (nextIP int, pending *ThrownValue, finallyEnd int, handled bool) {
	handler, found := findHandler(bc, ip)
	if !found {
		return 0, nil, -1, false
	}
	if handler.HasCatch {
		vm.push(tv.Value)
		return handler.CatchPC - 1, nil, -1, true
	}
	if handler.HasFinally {
		return handler.FinallyPC - 1, tv, handler.FinallyEndPC, true
	}
	return 0, nil, -1, false
}

func findHandler(bc *bytecode.Bytecode, ip int) (*bytecode.TryHandler, bool) {
	best := -1
	bestWidth := 0
	for i, h := range bc.Handlers {
		if ip < h.StartPC || ip > h.EndPC {
			continue
		}
		width := h.EndPC - h.StartPC
		if best == -1 || width < bestWidth {
			best, bestWidth = i, width
		}
	}
	if best == -1 {
		return nil, false
	}
	return &bc.Handlers[best], true
}

// step executes one instruction. It returns (true, v, nil) when the
// frame should exit with value v (OpReturn/OpHalt); jumps move vm.ip
// directly (to target-1, since execute's for loop increments on the
// next turn).
func (vm *VM) step(bc *bytecode.Bytecode, inst bytecode.Instruction) (bool, value.Value, error) {
	switch inst.Op {
	case bytecode.OpLoadConst:
		v, err := vm.constantValue(bc, inst.Operand)
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(v)
	case bytecode.OpLoadUndefined:
		vm.push(value.Undefined)
	case bytecode.OpLoadNull:
		vm.push(value.Null)
	case bytecode.OpLoadTrue:
		vm.push(value.True)
	case bytecode.OpLoadFalse:
		vm.push(value.False)
	case bytecode.OpLoadLocal:
		vm.push(vm.getLocal(inst.Operand))
	case bytecode.OpStoreLocal:
		v, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.setLocal(inst.Operand, v)
		vm.push(v)
	case bytecode.OpLoadGlobal:
		name, err := vm.constantName(bc, inst.Operand)
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(vm.loadGlobal(name))
	case bytecode.OpStoreGlobal:
		v, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		name, err := vm.constantName(bc, inst.Operand)
		if err != nil {
			return false, value.Undefined, err
		}
		vm.storeGlobal(name, v)
		vm.push(v)
	case bytecode.OpLoadThis:
		vm.push(vm.this)

	case bytecode.OpPop:
		if _, err := vm.pop(); err != nil {
			return false, value.Undefined, err
		}
	case bytecode.OpDup:
		n := len(vm.stack)
		if n == 0 {
			return false, value.Undefined, vm.internalError("dup on empty stack")
		}
		vm.push(vm.stack[n-1])
	case bytecode.OpSwap:
		n := len(vm.stack)
		if n < 2 {
			return false, value.Undefined, vm.internalError("swap needs two operands")
		}
		vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]
	case bytecode.OpNop:

	case bytecode.OpAdd:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Add(a, b, vm.toPrimitive))
	case bytecode.OpSub:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(vm.toNum(a) - vm.toNum(b)))
	case bytecode.OpMul:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(vm.toNum(a) * vm.toNum(b)))
	case bytecode.OpDiv:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(vm.toNum(a) / vm.toNum(b)))
	case bytecode.OpMod:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(math.Mod(vm.toNum(a), vm.toNum(b))))
	case bytecode.OpPow:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(math.Pow(vm.toNum(a), vm.toNum(b))))
	case bytecode.OpNeg:
		a, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(-vm.toNum(a)))
	case bytecode.OpBitAnd:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(float64(vm.toI32(a) & vm.toI32(b))))
	case bytecode.OpBitOr:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(float64(vm.toI32(a) | vm.toI32(b))))
	case bytecode.OpBitXor:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(float64(vm.toI32(a) ^ vm.toI32(b))))
	case bytecode.OpShl:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(float64(vm.toI32(a) << (vm.toU32(b) & 31))))
	case bytecode.OpShr:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(float64(vm.toI32(a) >> (vm.toU32(b) & 31))))
	case bytecode.OpUshr:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(float64(vm.toU32(a) >> (vm.toU32(b) & 31))))
	case bytecode.OpBitNot:
		a, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Number(float64(^vm.toI32(a))))
	case bytecode.OpLt:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Bool(value.Lt(vm.toPrimitive(a), vm.toPrimitive(b))))
	case bytecode.OpLe:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Bool(value.Le(vm.toPrimitive(a), vm.toPrimitive(b))))
	case bytecode.OpGt:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Bool(value.Gt(vm.toPrimitive(a), vm.toPrimitive(b))))
	case bytecode.OpGe:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Bool(value.Ge(vm.toPrimitive(a), vm.toPrimitive(b))))
	case bytecode.OpEq:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Bool(value.Eq(a, b, vm.toPrimitive)))
	case bytecode.OpNe:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Bool(!value.Eq(a, b, vm.toPrimitive)))
	case bytecode.OpStrictEq:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Bool(value.StrictEq(a, b)))
	case bytecode.OpStrictNe:
		b, a, err := vm.pop2()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Bool(!value.StrictEq(a, b)))
	case bytecode.OpNot:
		a, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.Bool(!a.ToBoolean()))
	case bytecode.OpTypeOf:
		a, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.push(value.String(a.TypeOf()))
	case bytecode.OpInstanceOf:
		return vm.opInstanceOf()
	case bytecode.OpIn:
		return vm.opIn()

	case bytecode.OpJump:
		vm.ip = inst.Operand - 1
	case bytecode.OpJumpIfTrue:
		v, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		if v.ToBoolean() {
			vm.ip = inst.Operand - 1
		}
	case bytecode.OpJumpIfFalse:
		v, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		if !v.ToBoolean() {
			vm.ip = inst.Operand - 1
		}

	case bytecode.OpNewObject:
		h := vm.Heap.Allocate(heap.NewObject())
		vm.push(value.Object(h))
	case bytecode.OpNewArray:
		n := inst.Operand
		elems := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			v, err := vm.pop()
			if err != nil {
				return false, value.Undefined, err
			}
			elems[i] = v
		}
		arr := heap.NewArray(elems)
		if proto, ok := vm.arrayPrototype(); ok {
			arr.Prototype = &proto
		}
		h := vm.Heap.Allocate(arr)
		vm.push(value.Object(h))
	case bytecode.OpGetProperty:
		return vm.opGetProperty(bc, inst)
	case bytecode.OpSetProperty:
		return vm.opSetProperty(bc, inst)
	case bytecode.OpDeleteProperty:
		return vm.opDeleteProperty(bc, inst)

	case bytecode.OpCall:
		return vm.opCall(inst)
	case bytecode.OpReturn:
		v, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		return true, v, nil
	case bytecode.OpMakeClosure:
		return vm.opMakeClosure(bc, inst)

	case bytecode.OpForInInit:
		return vm.opForInInit()
	case bytecode.OpForInNext:
		return vm.opForInNext(inst)
	case bytecode.OpForInDone:
		if len(vm.forIn) > 0 {
			vm.forIn = vm.forIn[:len(vm.forIn)-1]
		}

	case bytecode.OpThrow:
		v, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		return false, value.Undefined, &ThrownValue{Value: v}
	case bytecode.OpHalt:
		return true, value.Undefined, nil

	case bytecode.OpWithEnter:
		v, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		vm.withChain = append(vm.withChain, v)
	case bytecode.OpWithExit:
		if len(vm.withChain) > 0 {
			vm.withChain = vm.withChain[:len(vm.withChain)-1]
		}

	default:
		return false, value.Undefined, vm.internalError(fmt.Sprintf("unknown opcode %v", inst.Op))
	}
	return false, value.Undefined, nil
}

// --- stack/locals ---

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() (value.Value, error) {
	n := len(vm.stack)
	if n == 0 {
		return value.Undefined, vm.internalError("stack underflow")
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v, nil
}

// pop2 pops the top two values as (b, a): b was pushed last (the
// right operand of a binary op), a beneath it (the left operand).
func (vm *VM) pop2() (b, a value.Value, err error) {
	if b, err = vm.pop(); err != nil {
		return
	}
	a, err = vm.pop()
	return
}

func (vm *VM) ensureLocal(idx int) {
	for len(vm.locals) <= idx {
		vm.locals = append(vm.locals, value.Undefined)
	}
}

func (vm *VM) getLocal(idx int) value.Value {
	if idx < 0 || idx >= len(vm.locals) {
		return value.Undefined
	}
	return vm.locals[idx]
}

func (vm *VM) setLocal(idx int, v value.Value) {
	vm.ensureLocal(idx)
	vm.locals[idx] = v
}

// --- globals / with-chain ---
//
// Only values stored into the true global namespace get rooted
// (spec.md §6.1 Core API treats add_root/remove_root as an explicit,
// host-managed concern — not automatic per-local bookkeeping this
// layer would have to rediscover). A minor GC firing mid-expression,
// before a freshly built object has been stored anywhere, is the one
// known gap this leaves: nothing walks the live operand stack/locals
// of in-flight frames as extra roots. Precise root discovery there
// would need a shadow stack or frame-pointer scan; out of scope here,
// the same spirit as the heap package's own documented
// promoted-handle-forwarding gap.
func (vm *VM) loadGlobal(name string) value.Value {
	for i := len(vm.withChain) - 1; i >= 0; i-- {
		if v, ok := vm.withChainLookup(vm.withChain[i], name); ok {
			return v
		}
	}
	if v, ok := vm.Globals[name]; ok {
		return v
	}
	// An unbound global reads as undefined rather than raising
	// ReferenceError — keeps `typeof neverDeclared` trivially safe
	// without special-casing TypeOf, at the cost of not flagging a
	// genuine typo as an error.
	return value.Undefined
}

func (vm *VM) storeGlobal(name string, v value.Value) {
	for i := len(vm.withChain) - 1; i >= 0; i-- {
		if _, ok := vm.withChainLookup(vm.withChain[i], name); ok {
			if o, ok2 := vm.Heap.Get(vm.withChain[i].AsHandle()); ok2 {
				o.Set(name, v)
				vm.Heap.WriteBarrier(vm.withChain[i].AsHandle())
			}
			return
		}
	}
	vm.Globals[name] = v
	if v.IsObject() || v.IsFunction() {
		vm.Heap.AddRoot(v.AsHandle())
	}
}

func (vm *VM) withChainLookup(obj value.Value, name string) (value.Value, bool) {
	if !obj.IsObject() && !obj.IsFunction() {
		return value.Undefined, false
	}
	o, ok := vm.Heap.Get(obj.AsHandle())
	if !ok {
		return value.Undefined, false
	}
	return o.Get(name)
}

// --- property access ---

func (vm *VM) opGetProperty(bc *bytecode.Bytecode, inst bytecode.Instruction) (bool, value.Value, error) {
	key, err := vm.resolveKey(bc, inst.Operand)
	if err != nil {
		return false, value.Undefined, err
	}
	obj, err := vm.pop()
	if err != nil {
		return false, value.Undefined, err
	}
	v, err := vm.getProperty(obj, key)
	if err != nil {
		return false, value.Undefined, err
	}
	vm.push(v)
	return false, value.Undefined, nil
}

func (vm *VM) opSetProperty(bc *bytecode.Bytecode, inst bytecode.Instruction) (bool, value.Value, error) {
	val, err := vm.pop()
	if err != nil {
		return false, value.Undefined, err
	}
	key, err := vm.resolveKey(bc, inst.Operand)
	if err != nil {
		return false, value.Undefined, err
	}
	obj, err := vm.pop()
	if err != nil {
		return false, value.Undefined, err
	}
	if err := vm.setProperty(obj, key, val); err != nil {
		return false, value.Undefined, err
	}
	vm.push(val)
	return false, value.Undefined, nil
}

func (vm *VM) opDeleteProperty(bc *bytecode.Bytecode, inst bytecode.Instruction) (bool, value.Value, error) {
	key, err := vm.resolveKey(bc, inst.Operand)
	if err != nil {
		return false, value.Undefined, err
	}
	obj, err := vm.pop()
	if err != nil {
		return false, value.Undefined, err
	}
	vm.push(value.Bool(vm.deleteProperty(obj, key)))
	return false, value.Undefined, nil
}

// resolveKey reads a GetProperty/SetProperty/DeleteProperty operand:
// -1 means the key is already on top of the stack (computed member
// access), otherwise it's a constant-pool index of the property name.
func (vm *VM) resolveKey(bc *bytecode.Bytecode, operand int) (string, error) {
	if operand == -1 {
		v, err := vm.pop()
		if err != nil {
			return "", err
		}
		return vm.toPropertyKey(v), nil
	}
	return vm.constantName(bc, operand)
}

// GetProperty, SetProperty, DeleteProperty, and HasProperty expose the
// VM's property-access machinery (prototype-chain walking, array
// index/length handling, primitive method dispatch) to host code —
// pkg/builtins natives like Object.keys/assign and Array.prototype
// methods need the exact same semantics a script's own property
// access gets, not a reimplementation.
func (vm *VM) GetProperty(objVal value.Value, key string) (value.Value, error) {
	return vm.getProperty(objVal, key)
}

func (vm *VM) SetProperty(objVal value.Value, key string, val value.Value) error {
	return vm.setProperty(objVal, key, val)
}

func (vm *VM) DeleteProperty(objVal value.Value, key string) bool {
	return vm.deleteProperty(objVal, key)
}

func (vm *VM) HasProperty(objVal value.Value, key string) bool {
	return vm.hasProperty(objVal, key)
}

func (vm *VM) getProperty(objVal value.Value, key string) (value.Value, error) {
	switch {
	case objVal.IsNullish():
		return value.Undefined, vm.typeError(fmt.Sprintf("Cannot read properties of %s (reading '%s')", objVal.ToString(), key))
	case objVal.IsObject() || objVal.IsFunction():
		return vm.objectGetProperty(objVal.AsHandle(), key), nil
	case objVal.IsString():
		return vm.stringGetProperty(objVal.AsString(), key), nil
	case objVal.IsNumber():
		return vm.protoGetProperty("number", key), nil
	case objVal.IsBoolean():
		return vm.protoGetProperty("boolean", key), nil
	default:
		return value.Undefined, nil
	}
}

func (vm *VM) objectGetProperty(h value.Handle, key string) value.Value {
	for i := 0; i < 1000; i++ {
		o, ok := vm.Heap.Get(h)
		if !ok {
			return value.Undefined
		}
		if o.IsArray {
			if key == "length" {
				return value.Number(float64(o.Length()))
			}
			if idx, ok := arrayIndex(key); ok {
				return o.GetElement(idx)
			}
		}
		if o.Function != nil {
			if key == "name" {
				if _, exists := o.Get("name"); !exists {
					return value.String(o.Function.Name)
				}
			}
			if key == "length" {
				if _, exists := o.Get("length"); !exists {
					return value.Number(float64(o.Function.Arity))
				}
			}
		}
		if v, ok := o.Get(key); ok {
			return v
		}
		if o.Prototype == nil {
			return value.Undefined
		}
		h = *o.Prototype
	}
	return value.Undefined
}

// protoGetProperty looks a method up on the well-known prototype
// object pkg/builtins registers under "__proto_<kind>__" (e.g.
// "__proto_string__" for String.prototype), the extensibility point
// that lets primitive values answer method calls like "x".toUpperCase()
// without the VM hardcoding every String/Number/Boolean method itself.
func (vm *VM) protoGetProperty(kind, key string) value.Value {
	proto, ok := vm.Globals["__proto_"+kind+"__"]
	if !ok || (!proto.IsObject() && !proto.IsFunction()) {
		return value.Undefined
	}
	return vm.objectGetProperty(proto.AsHandle(), key)
}

func (vm *VM) stringGetProperty(s, key string) value.Value {
	if key == "length" {
		return value.Number(float64(len([]rune(s))))
	}
	if idx, ok := arrayIndex(key); ok {
		rs := []rune(s)
		if int(idx) < len(rs) {
			return value.String(string(rs[idx]))
		}
		return value.Undefined
	}
	return vm.protoGetProperty("string", key)
}

func (vm *VM) setProperty(objVal value.Value, key string, val value.Value) error {
	switch {
	case objVal.IsNullish():
		return vm.typeError(fmt.Sprintf("Cannot set properties of %s (setting '%s')", objVal.ToString(), key))
	case objVal.IsObject() || objVal.IsFunction():
		h := objVal.AsHandle()
		o, ok := vm.Heap.Get(h)
		if !ok {
			return nil
		}
		if o.IsArray {
			if key == "length" {
				o.SetLength(uint32(val.ToNumber()))
				vm.Heap.WriteBarrier(h)
				return nil
			}
			if idx, ok := arrayIndex(key); ok {
				o.SetElement(idx, val)
				vm.Heap.WriteBarrier(h)
				return nil
			}
		}
		o.Set(key, val)
		vm.Heap.WriteBarrier(h)
		return nil
	default:
		// sloppy-mode property writes on a primitive are silently
		// discarded, matching ES3 semantics.
		return nil
	}
}

func (vm *VM) deleteProperty(objVal value.Value, key string) bool {
	if !objVal.IsObject() && !objVal.IsFunction() {
		return true
	}
	o, ok := vm.Heap.Get(objVal.AsHandle())
	if !ok {
		return true
	}
	if o.IsArray {
		if idx, ok := arrayIndex(key); ok && int(idx) < len(o.Elements) {
			o.Elements[idx] = value.Undefined
			return true
		}
	}
	return o.Delete(key)
}

func (vm *VM) toPropertyKey(v value.Value) string {
	if v.IsString() {
		return v.AsString()
	}
	if v.IsNumber() {
		return v.ToString()
	}
	return vm.toPrimitive(v).ToString()
}

func arrayIndex(key string) (uint32, bool) {
	if key == "" {
		return 0, false
	}
	if key == "0" {
		return 0, true
	}
	if key[0] < '1' || key[0] > '9' {
		return 0, false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// --- calls, closures, `new`, instanceof ---

func (vm *VM) opCall(inst bytecode.Instruction) (bool, value.Value, error) {
	argCount := inst.Operand & callArgMask
	isNew := inst.Operand&newCallFlag != 0
	isMethod := inst.Operand&methodCallFlag != 0

	args := make([]value.Value, argCount)
	for i := argCount - 1; i >= 0; i-- {
		v, err := vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
		args[i] = v
	}
	callee, err := vm.pop()
	if err != nil {
		return false, value.Undefined, err
	}
	this := value.Undefined
	if isMethod {
		this, err = vm.pop()
		if err != nil {
			return false, value.Undefined, err
		}
	}
	result, err := vm.Call(callee, this, args, isNew)
	if err != nil {
		return false, value.Undefined, err
	}
	vm.push(result)
	return false, value.Undefined, nil
}

// Call invokes fn with the given receiver and arguments, spawning a
// fresh call frame for a compiled function or running a native one
// directly. It is exported so pkg/builtins natives can call back into
// script code (Array.prototype.forEach's callback, a replacer passed
// to String.prototype.replace, and the like).
func (vm *VM) Call(fn value.Value, this value.Value, args []value.Value, isNew bool) (value.Value, error) {
	if !fn.IsFunction() {
		return value.Undefined, vm.typeError(fmt.Sprintf("%s is not a function", fn.ToString()))
	}
	obj, ok := vm.Heap.Get(fn.AsHandle())
	if !ok || obj.Function == nil {
		return value.Undefined, vm.typeError("value is not callable")
	}
	payload := obj.Function

	if isNew {
		protoHandle, err := vm.ensurePrototype(fn)
		if err != nil {
			return value.Undefined, err
		}
		this = value.Object(vm.Heap.Allocate(heap.NewObjectWithPrototype(protoHandle)))
	}

	if payload.Native != nil {
		result, err := payload.Native(this, args)
		if err != nil {
			return value.Undefined, vm.wrapNativeError(err)
		}
		if isNew && !result.IsObject() && !result.IsFunction() {
			return this, nil
		}
		return result, nil
	}

	if vm.depth+1 > maxCallDepth {
		return value.Undefined, vm.rangeError("Maximum call stack size exceeded")
	}

	tmpl := payload.Template
	if tmpl == nil {
		return value.Undefined, vm.internalError("function value has neither a native body nor a template")
	}

	callee := &VM{
		Heap:      vm.Heap,
		Globals:   vm.Globals,
		this:      this,
		caller:    vm,
		depth:     vm.depth + 1,
		callStack: vm.callStack,
		debugger:  vm.debugger,
	}
	callee.locals = make([]value.Value, tmpl.NumLocals)
	for i := range callee.locals {
		callee.locals[i] = value.Undefined
	}
	for i := 0; i < tmpl.ParamCount && i < len(args); i++ {
		callee.locals[i] = args[i]
	}
	if tmpl.SelfSlot >= 0 {
		callee.ensureLocal(tmpl.SelfSlot)
		callee.locals[tmpl.SelfSlot] = fn
	}

	overlay := make(map[string]value.Value, len(payload.Captures)+1)
	for name, v := range payload.Captures {
		overlay[name] = v
	}
	overlay["arguments"] = vm.makeArgumentsObject(fn, args)
	restore := vm.overlayCaptures(overlay)
	defer restore()

	*vm.callStack = append(*vm.callStack, StackFrame{Name: frameName(tmpl.Name), IP: vm.ip})
	defer vm.popCallStack()

	result, err := callee.execute(tmpl.Code)
	for name := range payload.Captures {
		if v, ok := vm.Globals[name]; ok {
			payload.Captures[name] = v
		}
	}
	if err != nil {
		return value.Undefined, err
	}
	if isNew {
		if result.IsObject() || result.IsFunction() {
			return result, nil
		}
		return this, nil
	}
	return result, nil
}

// makeArgumentsObject builds the array-like `arguments` value every
// script function call sees (spec §3.2, §4.6): a heap array of the
// actual arguments with an extra `callee` property pointing back at
// the function. overlayCaptures installs it into Globals for the
// call's duration and restores whatever bound the name before, so a
// nested call's own `arguments` never leaks into its caller.
func (vm *VM) makeArgumentsObject(fn value.Value, args []value.Value) value.Value {
	elems := make([]value.Value, len(args))
	copy(elems, args)
	o := heap.NewArray(elems)
	o.Set("callee", fn)
	return value.Object(vm.Heap.Allocate(o))
}

// arrayPrototype returns the heap handle Array.prototype methods live
// on, if pkg/builtins has registered one under the same
// "__proto_<kind>__" convention protoGetProperty uses for primitives.
// Arrays are ordinary objects with a real Prototype field (unlike
// strings/numbers), so wiring it once at construction time lets
// ordinary prototype-chain walking in objectGetProperty find
// Array.prototype methods without any array-specific dispatch here.
func (vm *VM) arrayPrototype() (value.Handle, bool) {
	v, ok := vm.Globals["__proto_array__"]
	if !ok || !v.IsObject() {
		return value.Handle(0), false
	}
	return v.AsHandle(), true
}

// regexPrototype finds RegExp.prototype the same way arrayPrototype
// finds Array.prototype, except RegExp's prototype hangs off the
// constructor's own "prototype" property (the ordinary `new`
// convention) rather than a "__proto_<kind>__" global, since regex
// literals are plain objects rather than one of the tagged primitive
// kinds protoGetProperty dispatches for.
func (vm *VM) regexPrototype() (value.Handle, bool) {
	ctor, ok := vm.Globals["RegExp"]
	if !ok || !ctor.IsFunction() {
		return value.Handle(0), false
	}
	o, ok := vm.Heap.Get(ctor.AsHandle())
	if !ok {
		return value.Handle(0), false
	}
	p, ok := o.Get("prototype")
	if !ok || !p.IsObject() {
		return value.Handle(0), false
	}
	return p.AsHandle(), true
}

func frameName(name string) string {
	if name == "" {
		return "<anonymous>"
	}
	return name
}

// overlayCaptures installs a closure's snapshotted free variables into
// the shared Globals map for the duration of one call, restoring
// whatever was there before on return — the mechanism that lets
// LoadGlobal/StoreGlobal serve as nyx's upvalue access without a
// dedicated opcode. Saves/restores nest correctly across recursive and
// re-entrant calls because Go's own call stack unwinds the deferred
// restores in the right order. Call itself copies the post-execution
// value of each captured name back into payload.Captures before this
// restore runs, so a mutation made by one invocation is the value the
// next invocation's overlay installs (spec §4.3.3, §8's closure
// invariant).
func (vm *VM) overlayCaptures(captures map[string]value.Value) func() {
	if len(captures) == 0 {
		return func() {}
	}
	type saved struct {
		v   value.Value
		had bool
	}
	prev := make(map[string]saved, len(captures))
	for name, v := range captures {
		old, had := vm.Globals[name]
		prev[name] = saved{old, had}
		vm.Globals[name] = v
	}
	return func() {
		for name, s := range prev {
			if s.had {
				vm.Globals[name] = s.v
			} else {
				delete(vm.Globals, name)
			}
		}
	}
}

func (vm *VM) opMakeClosure(bc *bytecode.Bytecode, inst bytecode.Instruction) (bool, value.Value, error) {
	if inst.Operand < 0 || inst.Operand >= len(bc.Constants) {
		return false, value.Undefined, vm.internalError("closure template index out of range")
	}
	tmpl, ok := bc.Constants[inst.Operand].(*bytecode.FunctionTemplate)
	if !ok {
		return false, value.Undefined, vm.internalError("constant is not a function template")
	}
	captures := make(map[string]value.Value, len(tmpl.Captures))
	for _, name := range tmpl.Captures {
		captures[name] = vm.Globals[name]
	}
	payload := &heap.FunctionPayload{
		Name:     tmpl.Name,
		Template: tmpl,
		Captures: captures,
		Arity:    tmpl.ParamCount,
	}
	h := vm.Heap.Allocate(heap.NewFunction(payload))
	vm.push(value.Function(h))
	return false, value.Undefined, nil
}

func (vm *VM) ensurePrototype(fnVal value.Value) (value.Handle, error) {
	o, ok := vm.Heap.Get(fnVal.AsHandle())
	if !ok {
		return value.Handle(0), vm.internalError("dangling function handle")
	}
	if p, ok := o.Get("prototype"); ok && p.IsObject() {
		return p.AsHandle(), nil
	}
	protoHandle := vm.Heap.Allocate(heap.NewObject())
	o.Set("prototype", value.Object(protoHandle))
	vm.Heap.WriteBarrier(fnVal.AsHandle())
	return protoHandle, nil
}

func (vm *VM) opInstanceOf() (bool, value.Value, error) {
	right, left, err := vm.pop2()
	if err != nil {
		return false, value.Undefined, err
	}
	if !right.IsFunction() {
		return false, value.Undefined, vm.typeError("Right-hand side of 'instanceof' is not callable")
	}
	if !left.IsObject() && !left.IsFunction() {
		vm.push(value.False)
		return false, value.Undefined, nil
	}
	protoHandle, err := vm.ensurePrototype(right)
	if err != nil {
		return false, value.Undefined, err
	}
	cur := left.AsHandle()
	found := false
	for i := 0; i < 1000; i++ {
		o, ok := vm.Heap.Get(cur)
		if !ok || o.Prototype == nil {
			break
		}
		if *o.Prototype == protoHandle {
			found = true
			break
		}
		cur = *o.Prototype
	}
	vm.push(value.Bool(found))
	return false, value.Undefined, nil
}

func (vm *VM) opIn() (bool, value.Value, error) {
	key, obj, err := vm.pop2()
	if err != nil {
		return false, value.Undefined, err
	}
	if !obj.IsObject() && !obj.IsFunction() {
		return false, value.Undefined, vm.typeError("Cannot use 'in' operator to search for a property in a non-object")
	}
	vm.push(value.Bool(vm.hasProperty(obj, vm.toPropertyKey(key))))
	return false, value.Undefined, nil
}

func (vm *VM) hasProperty(objVal value.Value, name string) bool {
	h := objVal.AsHandle()
	for i := 0; i < 1000; i++ {
		o, ok := vm.Heap.Get(h)
		if !ok {
			return false
		}
		if o.IsArray {
			if name == "length" {
				return true
			}
			if idx, ok := arrayIndex(name); ok && int(idx) < len(o.Elements) {
				return true
			}
		}
		if _, ok := o.Get(name); ok {
			return true
		}
		if o.Prototype == nil {
			return false
		}
		h = *o.Prototype
	}
	return false
}

// --- for-in ---

func (vm *VM) opForInInit() (bool, value.Value, error) {
	obj, err := vm.pop()
	if err != nil {
		return false, value.Undefined, err
	}
	vm.forIn = append(vm.forIn, &forInIterator{keys: vm.enumerableKeys(obj)})
	return false, value.Undefined, nil
}

func (vm *VM) enumerableKeys(v value.Value) []string {
	switch {
	case v.IsString():
		rs := []rune(v.AsString())
		keys := make([]string, len(rs))
		for i := range rs {
			keys[i] = strconv.Itoa(i)
		}
		return keys
	case v.IsObject() || v.IsFunction():
		o, ok := vm.Heap.Get(v.AsHandle())
		if !ok {
			return nil
		}
		var keys []string
		if o.IsArray {
			for i := range o.Elements {
				keys = append(keys, strconv.Itoa(i))
			}
		}
		for k := range o.Properties {
			if o.IsArray && k == "length" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	default:
		return nil
	}
}

func (vm *VM) opForInNext(inst bytecode.Instruction) (bool, value.Value, error) {
	if len(vm.forIn) == 0 {
		return false, value.Undefined, vm.internalError("FOR_IN_NEXT with no active iterator")
	}
	it := vm.forIn[len(vm.forIn)-1]
	if it.pos >= len(it.keys) {
		vm.ip = inst.Operand - 1
		return false, value.Undefined, nil
	}
	vm.push(value.String(it.keys[it.pos]))
	it.pos++
	return false, value.Undefined, nil
}

// --- ToPrimitive / numeric coercion ---

// toPrimitive is the VM's heap-aware ToPrimitiveFunc: valueOf first,
// then toString, then a last-resort stringification for arrays/plain
// objects, matching the abstract ToPrimitive algorithm's
// "number"-then-"string" hint order closely enough for this core.
func (vm *VM) toPrimitive(v value.Value) value.Value {
	if !v.IsObject() && !v.IsFunction() {
		return v
	}
	if r, ok := vm.tryPrimitiveMethod(v, "valueOf"); ok {
		return r
	}
	if r, ok := vm.tryPrimitiveMethod(v, "toString"); ok {
		return r
	}
	if o, ok := vm.Heap.Get(v.AsHandle()); ok && o.IsArray {
		parts := make([]string, len(o.Elements))
		for i, e := range o.Elements {
			if !e.IsNullish() {
				parts[i] = vm.toPrimitive(e).ToString()
			}
		}
		return value.String(strings.Join(parts, ","))
	}
	return value.String("[object Object]")
}

func (vm *VM) tryPrimitiveMethod(v value.Value, name string) (value.Value, bool) {
	m := vm.objectGetProperty(v.AsHandle(), name)
	if !m.IsFunction() {
		return value.Undefined, false
	}
	r, err := vm.Call(m, v, nil, false)
	if err != nil || r.IsObject() || r.IsFunction() {
		return value.Undefined, false
	}
	return r, true
}

func (vm *VM) toNum(v value.Value) float64 { return vm.toPrimitive(v).ToNumber() }
func (vm *VM) toI32(v value.Value) int32   { return vm.toPrimitive(v).ToInt32() }
func (vm *VM) toU32(v value.Value) uint32  { return vm.toPrimitive(v).ToUint32() }

// --- constant pool resolution ---

func (vm *VM) constantName(bc *bytecode.Bytecode, idx int) (string, error) {
	if idx < 0 || idx >= len(bc.Constants) {
		return "", vm.internalError("name constant index out of range")
	}
	s, ok := bc.Constants[idx].(string)
	if !ok {
		return "", vm.internalError("constant is not a name string")
	}
	return s, nil
}

func (vm *VM) constantValue(bc *bytecode.Bytecode, idx int) (value.Value, error) {
	if idx < 0 || idx >= len(bc.Constants) {
		return value.Undefined, vm.internalError("constant index out of range")
	}
	// A .nyxb-decoded pool holds bytecode.Undefined/bytecode.Null as
	// distinct sentinel types (format.go's constTypeUndef/constTypeNull),
	// not plain nil, so they need checking ahead of the type switch below.
	switch bc.Constants[idx] {
	case bytecode.Undefined:
		return value.Undefined, nil
	case bytecode.Null:
		return value.Null, nil
	}
	switch v := bc.Constants[idx].(type) {
	case float64:
		return value.Number(v), nil
	case string:
		return value.String(v), nil
	case bool:
		return value.Bool(v), nil
	case bytecode.BigIntText:
		text := strings.TrimSuffix(string(v), "n")
		n := new(big.Int)
		if _, ok := n.SetString(text, 0); !ok {
			return value.Undefined, vm.internalError("malformed bigint literal " + text)
		}
		return value.BigInt(n), nil
	case bytecode.RegexLit:
		return vm.newRegExp(v.Pattern, v.Flags), nil
	case nil:
		return value.Undefined, nil
	default:
		return value.Undefined, vm.internalError(fmt.Sprintf("constant %d has unsupported type %T", idx, v))
	}
}

// newRegExp builds a plain object carrying a regex literal's source
// and flags; pkg/builtins' RegExp support compiles it lazily (on
// test/exec) rather than the VM eagerly compiling a Go regexp for
// every literal it ever loads.
func (vm *VM) newRegExp(pattern, flags string) value.Value {
	o := heap.NewObject()
	if proto, ok := vm.regexPrototype(); ok {
		o.Prototype = &proto
	}
	o.Set("source", value.String(pattern))
	o.Set("flags", value.String(flags))
	o.Set("global", value.Bool(strings.Contains(flags, "g")))
	o.Set("ignoreCase", value.Bool(strings.Contains(flags, "i")))
	o.Set("multiline", value.Bool(strings.Contains(flags, "m")))
	o.Set("lastIndex", value.Number(0))
	return value.Object(vm.Heap.Allocate(o))
}

// --- error construction ---

func (vm *VM) typeError(msg string) *ThrownValue  { return vm.throwError("TypeError", msg) }
func (vm *VM) rangeError(msg string) *ThrownValue { return vm.throwError("RangeError", msg) }

// ThrowTypeError, ThrowRangeError, and NewError let host natives raise
// the same shape of JS error a script's own `throw` produces (spec.md
// §6.2's RuntimeError is reserved for genuine VM-internal faults).
func (vm *VM) ThrowTypeError(msg string) error  { return vm.throwError("TypeError", msg) }
func (vm *VM) ThrowRangeError(msg string) error { return vm.throwError("RangeError", msg) }
func (vm *VM) NewError(name, msg string) value.Value {
	return vm.newErrorValue(name, msg)
}

// ToDisplayString renders a value the way an implicit string coercion
// in array/console/string context would, walking toPrimitive through
// any user-defined toString/valueOf before falling back to ToString.
func (vm *VM) ToDisplayString(v value.Value) string {
	return vm.toPrimitive(v).ToString()
}

func (vm *VM) throwError(name, msg string) *ThrownValue {
	return &ThrownValue{Value: vm.newErrorValue(name, msg)}
}

func (vm *VM) newErrorValue(name, msg string) value.Value {
	o := heap.NewObject()
	o.Set("name", value.String(name))
	o.Set("message", value.String(msg))
	o.Set("stack", value.String(vm.stackTraceString(name, msg)))
	return value.Object(vm.Heap.Allocate(o))
}

func (vm *VM) stackTraceString(name, msg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", name, msg)
	if vm.callStack != nil {
		cs := *vm.callStack
		for i := len(cs) - 1; i >= 0; i-- {
			fmt.Fprintf(&b, "\n    at %s", cs[i].Name)
		}
	}
	return b.String()
}

func (vm *VM) internalError(msg string) *RuntimeError {
	var cs []StackFrame
	if vm.callStack != nil {
		cs = *vm.callStack
	}
	return newRuntimeError(msg, cs)
}

// wrapNativeError lets a native function either raise a JS-catchable
// exception directly (by returning a *ThrownValue) or a plain Go
// error, which becomes a generic catchable Error rather than an
// uncatchable RuntimeError — a builtin's failure (say, a JSON parse
// error) is a script-level condition, not a VM bug.
func (vm *VM) wrapNativeError(err error) error {
	if tv, ok := err.(*ThrownValue); ok {
		return tv
	}
	return vm.throwError("Error", err.Error())
}
