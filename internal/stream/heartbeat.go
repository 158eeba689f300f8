package stream

import (
	"sync"
	"time"
)

const DefaultHeartbeatInterval = 15 * time.Second

const heartbeatComment = "heartbeat"

// Heartbeat writes a comment frame through the relay on a fixed interval so
// idle proxies keep the connection open during long generations.
type Heartbeat struct {
	relay  *Relay
	ticker *time.Ticker
	onBeat func()

	stopOnce sync.Once
	stop     chan struct{}
	exited   chan struct{}
}

// StartHeartbeat starts ticking immediately. onBeat, if set, runs after each
// comment frame the relay accepted.
func StartHeartbeat(relay *Relay, interval time.Duration, onBeat func()) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	h := &Heartbeat{
		relay:  relay,
		ticker: time.NewTicker(interval),
		onBeat: onBeat,
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Heartbeat) run() {
	defer close(h.exited)
	defer h.ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-h.relay.Done():
			return
		case <-h.ticker.C:
			if !h.tick() {
				return
			}
		}
	}
}

// tick reports whether the heartbeat should keep running.
func (h *Heartbeat) tick() bool {
	select {
	case <-h.stop:
		return false
	default:
	}
	if h.relay.Closed() {
		return false
	}

	if err := h.relay.Comment(heartbeatComment); err != nil {
		// Not a disconnect: the relay stays open, try again next tick.
		return true
	}
	if h.relay.Closed() {
		return false
	}
	if h.onBeat != nil {
		h.onBeat()
	}
	return true
}

// Stop cancels the timer and waits for any in-flight tick to finish. Safe
// to call more than once.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.exited
}
