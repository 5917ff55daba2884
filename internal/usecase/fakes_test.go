package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"leadcall/internal/domain"
)

type memStore struct {
	mu        sync.Mutex
	tasks     map[string]*domain.CallTask
	conflicts int
	putErr    error
	getErr    error
	puts      int

	// failPut fails only the n-th Put call, counting from 1.
	failPut  int
	putCalls int
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]*domain.CallTask)}
}

func (s *memStore) Get(_ context.Context, id string) (*domain.CallTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (s *memStore) Put(_ context.Context, t *domain.CallTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.putCalls == s.failPut {
		return domain.Failure(domain.KindStorePersistence, "redis.put", errBoom)
	}
	if s.putErr != nil {
		return s.putErr
	}
	if s.conflicts > 0 {
		s.conflicts--
		return domain.ErrConflict
	}
	var stored int64
	if cur, ok := s.tasks[t.ContactID]; ok {
		stored = cur.Version
	}
	if stored != t.Version {
		return domain.ErrConflict
	}
	next := t.Clone()
	next.Version++
	s.tasks[t.ContactID] = next
	t.Version = next.Version
	s.puts++
	return nil
}

func (s *memStore) seed(t *domain.CallTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := t.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	s.tasks[t.ContactID] = c
}

func (s *memStore) task(id string) *domain.CallTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.Clone()
	}
	return nil
}

type fakeQueue struct {
	mu          sync.Mutex
	due         map[string]time.Time
	unscheduled []string
	acked       []string
	scheduleErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{due: make(map[string]time.Time)}
}

func (q *fakeQueue) Schedule(_ context.Context, id string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scheduleErr != nil {
		return q.scheduleErr
	}
	q.due[id] = at
	return nil
}

func (q *fakeQueue) Unschedule(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.due, id)
	q.unscheduled = append(q.unscheduled, id)
	return nil
}

func (q *fakeQueue) Claim(ctx context.Context, _ string, _ time.Duration) (string, string, error) {
	<-ctx.Done()
	return "", "", ctx.Err()
}

func (q *fakeQueue) Ack(_ context.Context, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msgID)
	return nil
}

func (q *fakeQueue) dueAt(id string) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	at, ok := q.due[id]
	return at, ok
}

type dialCall struct {
	phone     string
	contactID string
	metadata  map[string]string
}

type fakeDialer struct {
	mu    sync.Mutex
	calls []dialCall
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, phone, contactID string, metadata map[string]string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dialCall{phone: phone, contactID: contactID, metadata: metadata})
	if d.err != nil {
		return "", d.err
	}
	return fmt.Sprintf("call-%d", len(d.calls)), nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type sms struct {
	phone string
	vars  map[string]string
}

type fakeCRM struct {
	mu     sync.Mutex
	sms    []sms
	tags   []string
	tagErr error
}

func (c *fakeCRM) SendSMS(_ context.Context, phone, _ string, vars map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sms = append(c.sms, sms{phone: phone, vars: vars})
	return nil
}

func (c *fakeCRM) AddTag(_ context.Context, contactID, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tagErr != nil {
		return c.tagErr
	}
	c.tags = append(c.tags, contactID+":"+tag)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *fakePublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var errBoom = errors.New("boom")
