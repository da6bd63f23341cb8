// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tree

import (
	"os"
	"testing"

	"github.com/xilon-jul/lightprocess/internal/dispatch"
	"github.com/xilon-jul/lightprocess/internal/reactor"
	"github.com/xilon-jul/lightprocess/internal/router"
)

// TestMain intercepts the re-exec'd child process before the test
// framework runs any *testing.T: Fork always re-execs os.Args[0],
// which in a test binary is this very binary. When LIGHTPROCESS_ROLE
// marks this process as a fork child, it runs childMain's minimal
// echo protocol and exits instead of ever calling m.Run(),
// exactly the guard pattern Go's own os/exec tests use for subprocess
// testing.
func TestMain(m *testing.M) {
	if IsChildRole() {
		os.Exit(childMain())
	}
	os.Exit(m.Run())
}

// childMain is the test fixture's child-side entry point: build a
// fresh router/reactor/listener registry, EnterChild, and run until
// the parent shuts it down. The listener replies to every non-ack
// message it receives with a unicast echo to its sender (no ack
// requested) so the parent-side test can observe round-trip connectivity.
func childMain() int {
	re, err := reactor.New()
	if err != nil {
		return 1
	}
	listeners := dispatch.NewRegistry()
	listeners.Register(&echoListener{})
	r := router.New(int32(os.Getpid()), ChildAlias(), re, listeners)

	e, err := EnterChild(r, re, listeners, nil, WithShutdownTTL(5))
	if err != nil {
		return 1
	}
	if err := e.Run(); err != nil {
		return 1
	}
	return 0
}

type echoListener struct {
	dispatch.BaseListener
}

func (echoListener) OnMessageReceived(ev *dispatch.MessageEvent) {
	if ev.IsAck() {
		return
	}
	rt, ok := ev.Router().(*router.Router)
	if !ok {
		return
	}
	_, _ = rt.Submit(ev.Payload(), router.ToPid(ev.Src()), true, false, false, false)
}
