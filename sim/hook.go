package sim

// HookPos defines the enum of possible hooking positions
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable defines an object that accept Hooks
type Hookable interface {
	// AcceptHook registers a hook
	AcceptHook(hook Hook)
}

// HookPosTickStart triggers on the coordinator before a tick changes any
// state. Item is the tick number that is about to run.
var HookPosTickStart = &HookPos{Name: "TickStart"}

// HookPosTickEnd triggers on the coordinator after the snapshot of a tick is
// assembled. Item is the *TrafficSnapshot.
var HookPosTickEnd = &HookPos{Name: "TickEnd"}

// HookPosBeforeDispatch triggers in a lane worker right before the lane
// dispatches. Item is the LaneID. It runs outside of the lane lock.
var HookPosBeforeDispatch = &HookPos{Name: "BeforeDispatch"}

// HookPosBeforeCommand triggers inside an isolated lane worker before a
// command is handled. Item is the command.
var HookPosBeforeCommand = &HookPos{Name: "BeforeCommand"}

// HookPosLaneDegraded triggers when a lane produced no result in a tick. Item
// is the LaneID and Detail is the reason.
var HookPosLaneDegraded = &HookPos{Name: "LaneDegraded"}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc turns a plain function into a Hook.
type HookFunc func(ctx HookCtx)

// Func calls f(ctx).
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface. Hooks must be registered before the owner starts
// running; after that the hook list is only read.
type HookableBase struct {
	Hooks []Hook
}

// NewHookableBase creates a HookableBase object
func NewHookableBase() *HookableBase {
	h := new(HookableBase)
	h.Hooks = make([]Hook, 0)
	return h
}

// AcceptHook register a hook
func (h *HookableBase) AcceptHook(hook Hook) {
	h.Hooks = append(h.Hooks, hook)
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.Hooks)
}

// InvokeHook triggers the register Hooks
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks {
		hook.Func(ctx)
	}
}
