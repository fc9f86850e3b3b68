package stream

import (
	"context"
	"sync"
	"time"
)

// Event types published by the workspace service.
const (
	ProjectCreated = "project.created"
	ProjectUpdated = "project.updated"
	ProjectDeleted = "project.deleted"
	TaskCreated    = "task.created"
	TaskUpdated    = "task.updated"
	TaskDeleted    = "task.deleted"
)

const subscriberBuffer = 16

// Event describes one change to a project or task. OwnerID and AssigneeID select the
// audience and are not serialised.
type Event struct {
	Type       string    `json:"type"`
	ProjectID  string    `json:"projectId"`
	TaskID     string    `json:"taskId,omitempty"`
	Status     string    `json:"status,omitempty"`
	OwnerID    string    `json:"-"`
	AssigneeID string    `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
}

type subscriber struct {
	principalID string
	ch          chan Event
}

// Stream fans events out to the subscribers they concern: the project owner and,
// for task events, the assignee.
type Stream struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	next   int
	closed bool
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers principalID and returns a channel which will receive its events.
// The channel is closed when ctx ends or the stream is closed.
func (s *Stream) Subscribe(ctx context.Context, principalID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	id := s.next
	s.next++
	s.subs[id] = subscriber{principalID: principalID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt without blocking; slow subscribers miss events.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.principalID == "" || (sub.principalID != evt.OwnerID && sub.principalID != evt.AssigneeID) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Close ends every subscription and rejects new ones.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// Subscribers reports the number of open subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
