package vm

import (
	"math"
	"sync/atomic"
	"time"
)

// TimerPump drives the `timer` event on a host-configurable interval,
// adapted from the teacher's systemTimer hardware device: a single
// goroutine owns a time.Timer and a reset channel, so SetInterval can
// safely be called from any goroutine without racing the firing loop.
type TimerPump struct {
	vm              *VM
	resetChan       chan time.Duration
	closed          atomic.Bool
	currentInterval time.Duration
}

// NewTimerPump starts the pump's goroutine immediately, parked at the
// maximum duration until SetInterval is called.
func NewTimerPump(vm *VM) *TimerPump {
	p := &TimerPump{vm: vm, resetChan: make(chan time.Duration, 1)}
	go p.run()
	return p
}

func (p *TimerPump) run() {
	t := time.NewTimer(time.Duration(math.MaxInt64))
	for {
		if p.closed.Load() {
			t.Stop()
			return
		}
		select {
		case <-t.C:
			p.vm.EnqueueEvent(EventTimer, nil)
			t.Reset(p.currentInterval)
		case d := <-p.resetChan:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			p.currentInterval = d
			t.Reset(d)
		}
	}
}

// SetInterval changes the firing period; zero disables the pump (matches
// llSetTimerEvent(0.0) turning the timer off).
func (p *TimerPump) SetInterval(d time.Duration) {
	if d <= 0 {
		d = time.Duration(math.MaxInt64)
	}
	p.resetChan <- d
}

// Close stops the pump's goroutine permanently.
func (p *TimerPump) Close() {
	p.closed.Store(true)
	p.resetChan <- time.Duration(math.MaxInt64)
}
