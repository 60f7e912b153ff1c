package core

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// PollReq is delivered to the HAL when a capability's periodic read is due.
type PollReq struct {
	Addr CapAddr
	Verb string
}

type pollSchedule struct {
	spec PollSpec
	next time.Time
}

// Poller drives periodic reads, one schedule per capability. Range arrays
// publish a schedule per sensor, so a node carries a handful of entries and
// the earliest due one is found by scan.
//
// Requests go to out without blocking: a read that comes due while the HAL
// is still busy with the previous one is skipped, never queued, so a slow
// bus cannot build a backlog of stale reads.
type Poller struct {
	mu    sync.Mutex
	sched map[CapAddr]*pollSchedule
	wake  chan struct{}
	rng   *rand.Rand
	out   chan<- PollReq
}

func NewPoller(out chan<- PollReq) *Poller {
	return &Poller{
		sched: make(map[CapAddr]*pollSchedule),
		wake:  make(chan struct{}, 1),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		out:   out,
	}
}

// Upsert starts or replaces the schedule for addr. The first read fires one
// interval (plus jitter) from now. Specs without a verb or interval are
// ignored.
func (p *Poller) Upsert(addr CapAddr, spec PollSpec) {
	if spec.Every <= 0 || spec.Verb == "" {
		return
	}
	if spec.Jitter < 0 {
		spec.Jitter = 0
	}
	p.mu.Lock()
	p.sched[addr] = &pollSchedule{spec: spec, next: time.Now().Add(p.interval(spec))}
	p.mu.Unlock()
	p.wakeup()
}

// Stop drops the schedule for addr, if any.
func (p *Poller) Stop(addr CapAddr) {
	p.mu.Lock()
	delete(p.sched, addr)
	p.mu.Unlock()
	p.wakeup()
}

// Run fires due reads until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		req, wait, ok := p.due(time.Now())
		if ok {
			select {
			case p.out <- req:
			default:
			}
			continue
		}
		if wait < 0 {
			wait = time.Hour
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

// due pops the earliest schedule that is ready at now and re-arms it. When
// nothing is ready it returns the wait until the next one, or -1 if there
// are no schedules.
func (p *Poller) due(now time.Time) (PollReq, time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		addr  CapAddr
		first *pollSchedule
	)
	for a, s := range p.sched {
		if first == nil || s.next.Before(first.next) {
			addr, first = a, s
		}
	}
	if first == nil {
		return PollReq{}, -1, false
	}
	if first.next.After(now) {
		return PollReq{}, first.next.Sub(now), false
	}
	first.next = now.Add(p.interval(first.spec))
	return PollReq{Addr: addr, Verb: first.spec.Verb}, 0, true
}

func (p *Poller) wakeup() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) interval(s PollSpec) time.Duration {
	if s.Jitter <= 0 {
		return s.Every
	}
	return s.Every + time.Duration(p.rng.Int63n(int64(s.Jitter)+1))
}
