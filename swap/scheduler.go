package swap

import (
	"container/heap"
	"sync"
	"time"

	"go.dedis.ch/htlcswap/eventchain"
)

type deadline struct {
	trade eventchain.TradeID
	at    time.Time
	fn    func()
	index int
}

// deadlineHeap implements heap.Interface, earliest deadline first.
type deadlineHeap []*deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x interface{}) {
	d := x.(*deadline)
	d.index = len(*h)
	*h = append(*h, d)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.index = -1
	*h = old[:n-1]
	return d
}

// Scheduler runs at most one callback per trade when its deadline passes.
// A single goroutine sleeps until the earliest deadline.
type Scheduler struct {
	mu      sync.Mutex
	queue   deadlineHeap
	byTrade map[eventchain.TradeID]*deadline

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
	now  func() time.Time
}

func NewScheduler() *Scheduler {
	s := &Scheduler{
		byTrade: make(map[eventchain.TradeID]*deadline),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go s.loop()
	return s
}

// Schedule runs fn in its own goroutine at at, replacing the deadline the
// trade had.
func (s *Scheduler) Schedule(trade eventchain.TradeID, at time.Time, fn func()) {
	s.mu.Lock()
	if d, ok := s.byTrade[trade]; ok {
		d.at = at
		d.fn = fn
		heap.Fix(&s.queue, d.index)
	} else {
		d := &deadline{trade: trade, at: at, fn: fn}
		heap.Push(&s.queue, d)
		s.byTrade[trade] = d
	}
	s.mu.Unlock()
	s.notify()
}

// Cancel drops the trade's deadline. It returns false when there was none.
func (s *Scheduler) Cancel(trade eventchain.TradeID) bool {
	s.mu.Lock()
	d, ok := s.byTrade[trade]
	if ok {
		heap.Remove(&s.queue, d.index)
		delete(s.byTrade, trade)
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// Pending returns the trade's deadline, if any.
func (s *Scheduler) Pending(trade eventchain.TradeID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byTrade[trade]
	if !ok {
		return time.Time{}, false
	}
	return d.at, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stop ends the timer goroutine. Pending deadlines never fire.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// due pops every expired deadline and returns how long until the next one,
// or -1 when the queue is empty.
func (s *Scheduler) due() ([]func(), time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var fns []func()
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		d := heap.Pop(&s.queue).(*deadline)
		delete(s.byTrade, d.trade)
		fns = append(fns, d.fn)
	}
	if len(s.queue) == 0 {
		return fns, -1
	}
	return fns, s.queue[0].at.Sub(now)
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		fns, wait := s.due()
		for _, fn := range fns {
			go fn()
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-fire:
		case <-s.wake:
		case <-s.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}
