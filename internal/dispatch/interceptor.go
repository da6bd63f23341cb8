// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

// ActionKind tells InterceptorListener what to do after an Interceptor
// ran: either let the chain keep walking, or stop right there. This
// replaces a dynamic-dispatch proxy with an explicit value the caller
// can switch on.
type ActionKind int

const (
	// ActionContinue lets the next interceptor in the chain, and
	// afterward the underlying Listener, still observe the event.
	ActionContinue ActionKind = iota
	// ActionStop suppresses the rest of the chain and the underlying
	// Listener for this one event.
	ActionStop
)

// Action is the explicit variant an Interceptor hook returns: which
// kind of outcome, and an optionally-substituted payload (only
// meaningful for Sent/Received/Interrupted hooks; ignored by ErrorOnly).
type Action struct {
	Kind    ActionKind
	Payload []byte // non-nil replaces the event's payload before forwarding
}

// Continue is the zero-value action: keep walking the chain unchanged.
var Continue = Action{Kind: ActionContinue}

// Stop suppresses further delivery of the current event.
var Stop = Action{Kind: ActionStop}

// Interceptor is one link in the chain InterceptorListener walks. Each
// field is an explicit variant of "what this interceptor reacts to";
// a nil field means this interceptor has no opinion on that event kind
// and the chain falls through to ActionContinue for it.
type Interceptor struct {
	Sent        func(e *MessageEvent) Action
	Received    func(e *MessageEvent) Action
	Interrupted func(e *MessageEvent) Action
	ErrorOnly   func(op Op, errno error, message string, cause error) Action
}

// InterceptorListener implements Listener by walking an ordered chain
// of Interceptors ahead of delivering to Next. The first interceptor
// to return ActionStop ends the walk for that event; Next never sees a
// stopped event. Lifecycle callbacks (OnStart/OnShutdown/OnExitLoop)
// pass straight through to Next since the chain only covers message
// and error events.
type InterceptorListener struct {
	BaseListener
	Chain []Interceptor
	Next  Listener
}

func (il *InterceptorListener) GetPriority() int {
	if il.Next != nil {
		return il.Next.GetPriority()
	}
	return il.BaseListener.GetPriority()
}

func (il *InterceptorListener) OnMessageSent(e *MessageEvent) {
	for _, ic := range il.Chain {
		if ic.Sent == nil {
			continue
		}
		act := ic.Sent(e)
		if act.Payload != nil {
			e.SetPayload(act.Payload)
		}
		if act.Kind == ActionStop {
			return
		}
	}
	if il.Next != nil {
		il.Next.OnMessageSent(e)
	}
}

func (il *InterceptorListener) OnMessageReceived(e *MessageEvent) {
	for _, ic := range il.Chain {
		if ic.Received == nil {
			continue
		}
		act := ic.Received(e)
		if act.Payload != nil {
			e.SetPayload(act.Payload)
		}
		if act.Kind == ActionStop {
			return
		}
	}
	if il.Next != nil {
		il.Next.OnMessageReceived(e)
	}
}

func (il *InterceptorListener) OnInterruptReceive(e *MessageEvent) {
	for _, ic := range il.Chain {
		if ic.Interrupted == nil {
			continue
		}
		act := ic.Interrupted(e)
		if act.Payload != nil {
			e.SetPayload(act.Payload)
		}
		if act.Kind == ActionStop {
			return
		}
	}
	if il.Next != nil {
		il.Next.OnInterruptReceive(e)
	}
}

func (il *InterceptorListener) OnRouterError(op Op, errno error, message string, cause error) {
	for _, ic := range il.Chain {
		if ic.ErrorOnly == nil {
			continue
		}
		if ic.ErrorOnly(op, errno, message, cause).Kind == ActionStop {
			return
		}
	}
	if il.Next != nil {
		il.Next.OnRouterError(op, errno, message, cause)
	}
}

func (il *InterceptorListener) OnPeerShutdown(exec ExecutorHandle, pid int32, unsent []UnsentFrame) {
	if il.Next != nil {
		il.Next.OnPeerShutdown(exec, pid, unsent)
	}
}

func (il *InterceptorListener) OnStart(exec ExecutorHandle) {
	if il.Next != nil {
		il.Next.OnStart(exec)
	}
}

func (il *InterceptorListener) OnShutdown(exec ExecutorHandle) {
	if il.Next != nil {
		il.Next.OnShutdown(exec)
	}
}

func (il *InterceptorListener) OnExitLoop(exec ExecutorHandle) {
	if il.Next != nil {
		il.Next.OnExitLoop(exec)
	}
}

var _ Listener = (*InterceptorListener)(nil)
