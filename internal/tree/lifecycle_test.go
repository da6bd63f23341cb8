// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tree

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/xilon-jul/lightprocess/internal/dispatch"
	"github.com/xilon-jul/lightprocess/internal/netio"
	"github.com/xilon-jul/lightprocess/internal/reactor"
	"github.com/xilon-jul/lightprocess/internal/router"
)

// lifecycleListener records every callback a lifecycle spec needs to
// assert against.
type lifecycleListener struct {
	dispatch.BaseListener
	received  []*dispatch.MessageEvent
	sent      []*dispatch.MessageEvent
	shutdowns []int32
	unsent    map[int32][]dispatch.UnsentFrame
}

func newLifecycleListener() *lifecycleListener {
	return &lifecycleListener{unsent: make(map[int32][]dispatch.UnsentFrame)}
}

func (l *lifecycleListener) OnMessageReceived(e *dispatch.MessageEvent) {
	l.received = append(l.received, e)
}
func (l *lifecycleListener) OnMessageSent(e *dispatch.MessageEvent) {
	l.sent = append(l.sent, e)
}
func (l *lifecycleListener) OnPeerShutdown(_ dispatch.ExecutorHandle, pid int32, unsent []dispatch.UnsentFrame) {
	l.shutdowns = append(l.shutdowns, pid)
	l.unsent[pid] = unsent
}

// treeNode is one process-tree node under test: its own reactor,
// router, executor and listener, wired exactly the way Fork/EnterChild
// wire a real forked node, but linked here by directly-constructed
// socketpairs instead of a re-exec, so a whole topology can be built
// and driven deterministically inside a single test process.
type treeNode struct {
	pid    int32
	re     *reactor.Reactor
	router *router.Router
	exec   *Executor
	lis    *lifecycleListener
}

func newTreeNode(pid int32, alias string) *treeNode {
	re, err := reactor.New()
	Expect(err).NotTo(HaveOccurred())
	listeners := dispatch.NewRegistry()
	lis := newLifecycleListener()
	listeners.Register(lis)
	r := router.New(pid, alias, re, listeners)
	e := New(pid, pid, 0, r, re, listeners)
	return &treeNode{pid: pid, re: re, router: r, exec: e, lis: lis}
}

func (n *treeNode) close() { n.re.Close() }

// linkNodes wires a and b together as if b had been forked as a's
// child: a real socketpair, one endpoint registered on each side.
func linkNodes(a, b *treeNode) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	Expect(err).NotTo(HaveOccurred())
	epA, err := netio.NewEndpoint(b.pid, fds[0])
	Expect(err).NotTo(HaveOccurred())
	epB, err := netio.NewEndpoint(a.pid, fds[1])
	Expect(err).NotTo(HaveOccurred())
	Expect(a.router.AddEndpoint(epA)).To(Succeed())
	Expect(b.router.AddEndpoint(epB)).To(Succeed())
}

// pumpUntil drives every node's executor loop in round-robin until cond
// is true or timeout elapses.
func pumpUntil(nodes []*treeNode, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		for _, n := range nodes {
			_, _ = n.exec.RunOnce(20 * time.Millisecond)
		}
	}
}

var _ = Describe("a line topology of three nodes", func() {
	It("forwards through the middle node and delivers once at the far end", func() {
		a := newTreeNode(101, "a")
		b := newTreeNode(102, "b")
		c := newTreeNode(103, "c")
		defer a.close()
		defer b.close()
		defer c.close()
		linkNodes(a, b)
		linkNodes(b, c)
		nodes := []*treeNode{a, b, c}

		_, err := a.router.Submit([]byte("hello"), router.ToPid(103), true, false, false, false)
		Expect(err).NotTo(HaveOccurred())

		pumpUntil(nodes, 3*time.Second, func() bool { return len(c.lis.received) > 0 })

		Expect(c.lis.received).To(HaveLen(1))
		ev := c.lis.received[0]
		Expect(string(ev.Payload())).To(Equal("hello"))
		Expect(ev.Src()).To(Equal(int32(101)))
		Expect(ev.Dst()).To(Equal(int32(103)))
		Expect(ev.IsBroadcast()).To(BeFalse())
		Expect(ev.IsAck()).To(BeFalse())
		Expect(b.lis.received).To(BeEmpty())
		Expect(a.lis.received).To(BeEmpty())
	})
})

var _ = Describe("a star topology broadcast", func() {
	It("delivers to every child exactly once and fires onMessageSent once on the root", func() {
		root := newTreeNode(110, "root")
		x := newTreeNode(111, "x")
		y := newTreeNode(112, "y")
		z := newTreeNode(113, "z")
		defer root.close()
		defer x.close()
		defer y.close()
		defer z.close()
		linkNodes(root, x)
		linkNodes(root, y)
		linkNodes(root, z)
		nodes := []*treeNode{root, x, y, z}

		_, err := root.router.Submit([]byte("bcast"), router.Dest{}, true, false, true, false)
		Expect(err).NotTo(HaveOccurred())

		pumpUntil(nodes, 3*time.Second, func() bool {
			return len(x.lis.received) > 0 && len(y.lis.received) > 0 && len(z.lis.received) > 0
		})

		for _, n := range []*treeNode{x, y, z} {
			Expect(n.lis.received).To(HaveLen(1))
			Expect(n.lis.received[0].IsBroadcast()).To(BeTrue())
			Expect(string(n.lis.received[0].Payload())).To(Equal("bcast"))
		}
		Expect(root.lis.sent).To(HaveLen(1))
	})
})

var _ = Describe("an ack round trip", func() {
	It("sequences onMessageSent, then the ack, on the requester", func() {
		a := newTreeNode(120, "a")
		b := newTreeNode(121, "b")
		defer a.close()
		defer b.close()
		linkNodes(a, b)
		nodes := []*treeNode{a, b}

		id, err := a.router.Submit([]byte("q"), router.ToPid(121), true, true, false, false)
		Expect(err).NotTo(HaveOccurred())

		pumpUntil(nodes, 3*time.Second, func() bool {
			return len(a.lis.received) > 0 && len(b.lis.received) > 0
		})

		Expect(a.lis.sent).To(HaveLen(1))
		Expect(a.lis.received).To(HaveLen(1))
		Expect(a.lis.received[0].IsAck()).To(BeTrue())
		Expect(a.lis.received[0].ID()).To(Equal(id))
		Expect(string(a.lis.received[0].Payload())).To(Equal("1"))

		Expect(b.lis.received).To(HaveLen(1))
		Expect(b.lis.received[0].IsAck()).To(BeFalse())
		Expect(b.lis.received[0].ID()).To(Equal(id))
	})
})

var _ = Describe("peer shutdown with unsent messages", func() {
	It("reports the peer's pid and its still-queued frames in enqueue order", func() {
		a := newTreeNode(130, "a")
		b := newTreeNode(131, "b")
		defer a.close()
		linkNodes(a, b)

		// Enqueue without ever pumping a's reactor, so both frames sit
		// fully queued (never flushed) when b's side closes out from
		// under the connection.
		_, err := a.router.Submit([]byte("x"), router.ToPid(131), true, false, false, false)
		Expect(err).NotTo(HaveOccurred())
		_, err = a.router.Submit([]byte("y"), router.ToPid(131), true, false, false, false)
		Expect(err).NotTo(HaveOccurred())

		ep, ok := b.router.Endpoint(130)
		Expect(ok).To(BeTrue())
		Expect(ep.Close()).To(Succeed())
		b.close()

		pumpUntil([]*treeNode{a}, 3*time.Second, func() bool { return len(a.lis.shutdowns) > 0 })

		Expect(a.lis.shutdowns).To(Equal([]int32{131}))
		unsent := a.lis.unsent[131]
		Expect(unsent).To(HaveLen(2))
		Expect(string(unsent[0].Data)).To(Equal("x"))
		Expect(string(unsent[1].Data)).To(Equal("y"))
	})
})

var _ = Describe("alias routing across depth 2 with a sibling", func() {
	It("delivers only to the aliased node, not the forwarding sibling's parent", func() {
		root := newTreeNode(140, "root")
		mid := newTreeNode(141, "mid")
		worker := newTreeNode(142, "worker")
		sibling := newTreeNode(143, "sibling")
		defer root.close()
		defer mid.close()
		defer worker.close()
		defer sibling.close()
		linkNodes(root, mid)
		linkNodes(mid, worker)
		linkNodes(root, sibling)
		nodes := []*treeNode{root, mid, worker, sibling}

		_, err := root.router.Submit([]byte("job"), router.ToAlias("worker"), true, false, false, false)
		Expect(err).NotTo(HaveOccurred())

		pumpUntil(nodes, 3*time.Second, func() bool { return len(worker.lis.received) > 0 })

		Expect(worker.lis.received).To(HaveLen(1))
		Expect(string(worker.lis.received[0].Payload())).To(Equal("job"))
		Expect(mid.lis.received).To(BeEmpty())
		Expect(sibling.lis.received).To(BeEmpty())
		Expect(root.lis.received).To(BeEmpty())
	})
})

var _ = Describe("the shutdown TTL cap", func() {
	It("exits the loop within TTL iterations with both behaviour flags set, nothing pending and no children", func() {
		a := newTreeNode(150, "solo")
		defer a.close()
		a.exec.ttl = 3

		a.exec.Shutdown(FlushPendingMessages | WaitForPeersTermination)

		iterations := 0
		deadline := time.Now().Add(5 * time.Second)
		stopped := false
		for time.Now().Before(deadline) {
			again, err := a.exec.RunOnce(20 * time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			iterations++
			if !again {
				stopped = true
				break
			}
		}
		Expect(stopped).To(BeTrue())
		Expect(iterations).To(BeNumerically("<=", 3))
	})
})
