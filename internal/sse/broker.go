// Package sse streams batch progress to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/rpfba/internal/batch"
	"github.com/starford/rpfba/internal/metrics"
)

// Event is one SSE message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event names sent to clients.
const (
	TypeRunStarted  = "run.started"
	TypeJobFinished = "job.finished"
	TypeRunFinished = "run.finished"
	TypeProgress    = "run.progress"
)

// Progress is the throttled per-run counter snapshot.
type Progress struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Skipped   int    `json:"skipped"`
}

// Broker fans events out to subscribers.
//
// A single loop goroutine owns the client set and the progress counters;
// public methods talk to it through channels.
type Broker struct {
	progressMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	batchCh       chan batch.Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. progressThrottle bounds how often run.progress
// is emitted per run; non-positive values mean one second.
func NewBroker(progressThrottle time.Duration) *Broker {
	if progressThrottle <= 0 {
		progressThrottle = time.Second
	}

	b := &Broker{
		progressMin:   progressThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		batchCh:       make(chan batch.Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

type runState struct {
	progress Progress
	lastSent time.Time
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	runs := make(map[string]*runState)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// slow client
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.batchCh:
			switch ev.Type {
			case batch.EventRunStarted:
				runs[ev.RunID] = &runState{progress: Progress{RunID: ev.RunID, Total: ev.Total}}
				broadcast(Event{Type: TypeRunStarted, Data: ev})

			case batch.EventJobFinished:
				broadcast(Event{Type: TypeJobFinished, Data: ev})
				st, ok := runs[ev.RunID]
				if !ok {
					continue
				}
				if ev.Status == metrics.StatusCompleted {
					st.progress.Completed++
				} else {
					st.progress.Skipped++
				}
				now := time.Now()
				if now.Sub(st.lastSent) >= b.progressMin {
					st.lastSent = now
					broadcast(Event{Type: TypeProgress, Data: st.progress})
				}

			case batch.EventRunFinished:
				delete(runs, ev.RunID)
				broadcast(Event{Type: TypeRunFinished, Data: ev})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishBatch forwards a batch event. It has the signature of
// batch.Orchestrator.Notify.
func (b *Broker) PublishBatch(ev batch.Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.batchCh <- ev:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
