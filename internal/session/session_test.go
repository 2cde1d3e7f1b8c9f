package session

import (
	"fmt"
	"sync"
	"testing"
)

type recorder struct {
	mu       sync.Mutex
	progress []int
	history  []string
	notes    []string
}

func (r *recorder) OnProgress(p int) {
	r.mu.Lock()
	r.progress = append(r.progress, p)
	r.mu.Unlock()
}

func (r *recorder) OnHistoryEvent(title, subtitle string) {
	r.mu.Lock()
	r.history = append(r.history, title+"|"+subtitle)
	r.mu.Unlock()
}

func (r *recorder) OnNotify(title, body string) {
	r.mu.Lock()
	r.notes = append(r.notes, title+"|"+body)
	r.mu.Unlock()
}

func TestRecordOrderAndSinks(t *testing.T) {
	rec := &recorder{}
	s := New(Sinks{Progress: rec, History: rec, Notify: rec}, nil)
	s.Record(KindReceived, "File Received", "a.txt")
	s.Notify("New File Received", "a.txt")
	s.Record(KindSent, "File Sent", "b.txt")
	s.Close()

	h := s.History()
	if len(h) != 2 || h[0].Title != "File Sent" || h[1].Title != "File Received" {
		t.Fatalf("history = %+v", h)
	}
	if h[0].ID == h[1].ID {
		t.Fatalf("event ids collide")
	}
	if h[1].Kind != KindReceived || h[1].Time.IsZero() {
		t.Fatalf("event = %+v", h[1])
	}
	if fmt.Sprint(rec.history) != "[File Received|a.txt File Sent|b.txt]" {
		t.Fatalf("history sink = %v", rec.history)
	}
	if fmt.Sprint(rec.notes) != "[New File Received|a.txt]" {
		t.Fatalf("notify sink = %v", rec.notes)
	}
}

func TestNilSinks(t *testing.T) {
	s := New(Sinks{}, nil)
	s.Record(KindServerStarted, "Server Started", "")
	s.Notify("x", "y")
	s.SetProgress(40)
	s.Close()
	if s.Progress() != 40 {
		t.Fatalf("progress = %d", s.Progress())
	}
	// Posting after Close must not panic.
	s.Record(KindServerStopped, "Server Stopped", "Manual Stop")
	s.Close()
}

func TestUploadProgressMonotonic(t *testing.T) {
	rec := &recorder{}
	s := New(Sinks{Progress: rec}, nil)
	up := s.BeginUpload()
	for _, p := range []int{0, 50, 25, 100} {
		up.Report(p)
	}
	up.Done()
	s.Close()

	if got := fmt.Sprint(rec.progress); got != "[0 50 50 100 0]" {
		t.Fatalf("progress = %s", got)
	}
	if s.Progress() != 0 {
		t.Fatalf("progress not reset")
	}
}

func TestSetProgressClamps(t *testing.T) {
	s := New(Sinks{}, nil)
	defer s.Close()
	s.SetProgress(150)
	if s.Progress() != 100 {
		t.Fatalf("progress = %d", s.Progress())
	}
	s.SetProgress(-3)
	if s.Progress() != 0 {
		t.Fatalf("progress = %d", s.Progress())
	}
}

type panicky struct{}

func (panicky) OnHistoryEvent(string, string) { panic("boom") }

func TestSinkPanicDoesNotStopDispatcher(t *testing.T) {
	rec := &recorder{}
	s := New(Sinks{History: panicky{}, Notify: rec}, nil)
	s.Record(KindZipped, "Zipped Folder", "Served x.zip")
	s.Notify("still", "alive")
	s.Close()
	if len(rec.notes) != 1 {
		t.Fatalf("notes = %v", rec.notes)
	}
}

func TestConcurrentRecord(t *testing.T) {
	s := New(Sinks{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Record(KindReceived, "File Received", fmt.Sprint(i))
			s.SetProgress(i)
		}(i)
	}
	wg.Wait()
	s.Close()
	if n := len(s.History()); n != 20 {
		t.Fatalf("history has %d events", n)
	}
}
