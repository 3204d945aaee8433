package presentation

import (
	"sync"
	"time"

	"github.com/ent0n29/kiosk/internal/media"
)

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// fire runs the callback the way a real timer would.
func (t *manualTimer) fire() {
	if t.stopped || t.fired {
		return
	}
	t.fired = true
	t.f()
}

// fireLate runs the callback even if Stop was called, as a timer that was
// already dispatched when it got cancelled.
func (t *manualTimer) fireLate() {
	t.fired = true
	t.f()
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) pending() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (c *manualClock) last() *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

type shown struct {
	index int
	item  media.Item
}

type recordingDisplay struct {
	mu           sync.Mutex
	shows        []shown
	placeholders []Mode
}

func (d *recordingDisplay) Show(index int, item media.Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shows = append(d.shows, shown{index: index, item: item})
}

func (d *recordingDisplay) ShowPlaceholder(mode Mode, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.placeholders = append(d.placeholders, mode)
}

func (d *recordingDisplay) urls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.shows))
	for _, s := range d.shows {
		out = append(out, s.item.URL)
	}
	return out
}

type fakePlayer struct {
	mu        sync.Mutex
	duration  time.Duration
	noLength  bool
	playbacks []*fakePlayback
}

func (p *fakePlayer) Play(item media.Item) (Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pb := &fakePlayback{item: item, duration: p.duration, hasDuration: !p.noLength, listeners: map[int]func(){}}
	p.playbacks = append(p.playbacks, pb)
	return pb, nil
}

func (p *fakePlayer) last() *fakePlayback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playbacks[len(p.playbacks)-1]
}

type fakePlayback struct {
	mu          sync.Mutex
	item        media.Item
	duration    time.Duration
	hasDuration bool
	listeners   map[int]func()
	nextID      int
	stops       int
	onDuration  func(time.Duration)
}

func (p *fakePlayback) Duration() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration, p.hasDuration
}

func (p *fakePlayback) OnDuration(fn func(time.Duration)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDuration = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.onDuration = nil
	}
}

// reportDuration delivers a length learned after Play, as a page's
// loadedmetadata would.
func (p *fakePlayback) reportDuration(d time.Duration) {
	p.mu.Lock()
	p.duration, p.hasDuration = d, true
	fn := p.onDuration
	p.onDuration = nil
	p.mu.Unlock()
	if fn != nil {
		fn(d)
	}
}

func (p *fakePlayback) hasDurationListener() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onDuration != nil
}

func (p *fakePlayback) OnEnded(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayback) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// end fires the ended event to whatever listeners are still registered.
func (p *fakePlayback) end() {
	p.mu.Lock()
	fns := make([]func(), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// snapshotListeners captures the listeners so a test can invoke one after it
// was removed, as an event already queued when cleanup ran.
func (p *fakePlayback) snapshotListeners() []func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]func(), 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}
