package process

import "runtime/debug"

// LifecycleHandler is notified of the transitions of a process. Calls are
// made without the process lock held; panics are recovered and logged.
type LifecycleHandler interface {
	OnStart(p *Process)
	OnEnd(p *Process)
	OnReset(p *Process)
}

// LifecycleFuncs adapts optional functions to LifecycleHandler.
type LifecycleFuncs struct {
	Start func(p *Process)
	End   func(p *Process)
	Reset func(p *Process)
}

// OnStart implements LifecycleHandler.
func (f LifecycleFuncs) OnStart(p *Process) {
	if f.Start != nil {
		f.Start(p)
	}
}

// OnEnd implements LifecycleHandler.
func (f LifecycleFuncs) OnEnd(p *Process) {
	if f.End != nil {
		f.End(p)
	}
}

// OnReset implements LifecycleHandler.
func (f LifecycleFuncs) OnReset(p *Process) {
	if f.Reset != nil {
		f.Reset(p)
	}
}

type transition int

const (
	onStart transition = iota
	onEnd
	onReset
)

func (t transition) String() string {
	switch t {
	case onStart:
		return "start"
	case onEnd:
		return "end"
	default:
		return "reset"
	}
}

func (p *Process) notify(handlers []LifecycleHandler, t transition) {
	for _, h := range handlers {
		p.safeNotify(h, t)
	}
}

func (p *Process) safeNotify(h LifecycleHandler, t transition) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("lifecycle handler panicked",
				"transition", t.String(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	switch t {
	case onStart:
		h.OnStart(p)
	case onEnd:
		h.OnEnd(p)
	case onReset:
		h.OnReset(p)
	}
}
