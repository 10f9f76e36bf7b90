package netreactor

// loopPool distributes connections across N I/O loop threads attached to a
// base loop. With N == 0, every distribution method falls
// back to the base loop: a Server configured with zero I/O threads runs
// entirely on the thread that calls Run.
type loopPool struct {
	base    *Loop
	threads []*LoopThread
	loops   []*Loop
	next    int
}

func newLoopPool(base *Loop) *loopPool {
	return &loopPool{base: base}
}

// start spawns n loop threads, running init (if any) on each one — and, if
// n == 0, runs init on the base loop directly. Must run on the base loop
// thread.
func (p *loopPool) start(n int, init func(*Loop)) error {
	p.base.affinity.assert("loopPool.start")
	if n == 0 {
		if init != nil {
			init(p.base)
		}
		return nil
	}
	for i := 0; i < n; i++ {
		lt := NewLoopThread(init)
		l, err := lt.Start()
		if err != nil {
			return err
		}
		p.threads = append(p.threads, lt)
		p.loops = append(p.loops, l)
	}
	return nil
}

// getNextLoop returns loops round-robin, or the base loop if the pool has
// none. Must run on the base loop thread.
func (p *loopPool) getNextLoop() *Loop {
	p.base.affinity.assert("loopPool.getNextLoop")
	if len(p.loops) == 0 {
		return p.base
	}
	l := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return l
}

// getLoopForHash deterministically maps h onto one of the pool's loops, or
// the base loop if the pool has none. Must run on the base loop thread.
func (p *loopPool) getLoopForHash(h uint64) *Loop {
	p.base.affinity.assert("loopPool.getLoopForHash")
	if len(p.loops) == 0 {
		return p.base
	}
	return p.loops[h%uint64(len(p.loops))]
}

// stop asks every owned loop thread to quit. The base loop is left running:
// its lifetime is the caller's responsibility.
func (p *loopPool) stop() {
	for _, lt := range p.threads {
		lt.Stop()
	}
}
