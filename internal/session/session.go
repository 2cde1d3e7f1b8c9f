// Package session holds the state shared by every request of one server run:
// the transfer history, the current upload progress and the sinks that the
// surrounding shell listens on. Workers never call sinks directly; they post
// messages that a single dispatcher goroutine delivers in order.
package session

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindSent          Kind = "sent"
	KindReceived      Kind = "received"
	KindZipped        Kind = "zipped"
	KindServerStarted Kind = "server_started"
	KindServerStopped Kind = "server_stopped"
)

// TransferEvent is one history entry.
type TransferEvent struct {
	ID       uuid.UUID `json:"id"`
	Kind     Kind      `json:"kind"`
	Title    string    `json:"title"`
	Subtitle string    `json:"subtitle"`
	Time     time.Time `json:"time"`
}

type ProgressSink interface {
	OnProgress(percent int)
}

type HistorySink interface {
	OnHistoryEvent(title, subtitle string)
}

type NotificationSink interface {
	OnNotify(title, body string)
}

// Sinks are the shell's callbacks. Any of them may be nil.
type Sinks struct {
	Progress ProgressSink
	History  HistorySink
	Notify   NotificationSink
}

// queueSize bounds the hand-off channel. Progress updates are dropped when it
// is full; history and notifications wait.
const queueSize = 256

type msgKind int

const (
	msgProgress msgKind = iota
	msgHistory
	msgNotify
)

type message struct {
	kind    msgKind
	percent int
	title   string
	body    string
}

type Session struct {
	sinks  Sinks
	logger *log.Logger

	mu       sync.Mutex
	history  []TransferEvent
	progress int

	// sendMu guards msgs against being closed while a post is in flight.
	sendMu sync.RWMutex
	closed bool
	msgs   chan message
	done   chan struct{}
}

// New starts the dispatcher. Call Close to stop it.
func New(sinks Sinks, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags|log.Lmsgprefix)
	}
	s := &Session{
		sinks:  sinks,
		logger: logger,
		msgs:   make(chan message, queueSize),
		done:   make(chan struct{}),
	}
	go s.dispatch()
	return s
}

func (s *Session) dispatch() {
	defer close(s.done)
	for m := range s.msgs {
		s.deliver(m)
	}
}

func (s *Session) deliver(m message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("sink panic: %v", r)
		}
	}()
	switch m.kind {
	case msgProgress:
		if s.sinks.Progress != nil {
			s.sinks.Progress.OnProgress(m.percent)
		}
	case msgHistory:
		if s.sinks.History != nil {
			s.sinks.History.OnHistoryEvent(m.title, m.body)
		}
	case msgNotify:
		if s.sinks.Notify != nil {
			s.sinks.Notify.OnNotify(m.title, m.body)
		}
	}
}

func (s *Session) post(m message, mayDrop bool) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	if !mayDrop {
		s.msgs <- m
		return
	}
	select {
	case s.msgs <- m:
	default:
	}
}

// Record prepends an event to the history and forwards it to the history sink.
func (s *Session) Record(kind Kind, title, subtitle string) TransferEvent {
	ev := TransferEvent{
		ID:       uuid.New(),
		Kind:     kind,
		Title:    title,
		Subtitle: subtitle,
		Time:     time.Now(),
	}
	s.mu.Lock()
	s.history = append([]TransferEvent{ev}, s.history...)
	s.mu.Unlock()
	s.post(message{kind: msgHistory, title: title, body: subtitle}, false)
	return ev
}

// History returns the events, most recent first.
func (s *Session) History() []TransferEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransferEvent(nil), s.history...)
}

func (s *Session) Notify(title, body string) {
	s.post(message{kind: msgNotify, title: title, body: body}, false)
}

// SetProgress stores percent (clamped to 0..100) and forwards it.
func (s *Session) SetProgress(percent int) {
	percent = min(max(percent, 0), 100)
	s.mu.Lock()
	s.progress = percent
	s.mu.Unlock()
	s.post(message{kind: msgProgress, percent: percent}, true)
}

func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Close delivers what is queued and stops the dispatcher. Posts after Close
// are dropped.
func (s *Session) Close() {
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.msgs)
	}
	s.sendMu.Unlock()
	<-s.done
}

// UploadProgress tracks the progress of one upload request. Reported values
// never go down until Done resets them.
type UploadProgress struct {
	s    *Session
	mu   sync.Mutex
	last int
}

func (s *Session) BeginUpload() *UploadProgress {
	return &UploadProgress{s: s}
}

// Report publishes percent, or the highest value seen so far if percent is
// lower.
func (p *UploadProgress) Report(percent int) int {
	p.mu.Lock()
	if percent > p.last {
		p.last = min(percent, 100)
	}
	v := p.last
	p.mu.Unlock()
	p.s.SetProgress(v)
	return v
}

// Done resets the shared progress to 0.
func (p *UploadProgress) Done() {
	p.mu.Lock()
	p.last = 0
	p.mu.Unlock()
	p.s.SetProgress(0)
}
