package wizard

import (
	"errors"
	"sync"
	"time"

	"github.com/suPer8Hu/ai-broker/internal/action"
	"github.com/suPer8Hu/ai-broker/internal/request"
)

var (
	ErrUnknownFlow = errors.New("wizard: unknown flow")
	ErrNoSession   = errors.New("wizard: no active session")
)

// Engine keeps one in-memory session per user. Sessions are never persisted;
// a restart drops any wizard in progress.
type Engine struct {
	mu       sync.Mutex
	flows    map[string]*Flow
	order    []*Flow
	sessions map[uint64]Session
	idle     time.Duration
	now      func() time.Time
}

func NewEngine(idle time.Duration, flows ...*Flow) *Engine {
	e := &Engine{
		flows:    make(map[string]*Flow, len(flows)),
		sessions: make(map[uint64]Session),
		idle:     idle,
		now:      time.Now,
	}
	for _, f := range flows {
		e.flows[f.Kind] = f
		e.order = append(e.order, f)
	}
	return e
}

func (e *Engine) Flows() []*Flow { return e.order }

func (e *Engine) Flow(kind string) (*Flow, bool) {
	f, ok := e.flows[kind]
	return f, ok
}

// Start replaces any session the user had with a new one for the flow.
func (e *Engine) Start(userID uint64, kind string) (Prompt, error) {
	return e.StartWith(userID, kind, nil)
}

// StartWith is Start with leading steps answered from known, keyed by field.
func (e *Engine) StartWith(userID uint64, kind string, known map[string]string) (Prompt, error) {
	f, ok := e.flows[kind]
	if !ok {
		return Prompt{}, ErrUnknownFlow
	}
	p, sess := f.Begin(userID)
	if len(known) > 0 {
		p, *sess = f.Prefill(*sess, known)
	}
	sess.UpdatedAt = e.now()

	e.mu.Lock()
	e.sessions[userID] = *sess
	e.mu.Unlock()
	return p, nil
}

// Advance feeds one action into the user's session. It returns a payload
// once the user confirms.
func (e *Engine) Advance(userID uint64, in action.Action) (Prompt, *request.Payload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions[userID]
	if ok && e.expired(sess) {
		delete(e.sessions, userID)
		ok = false
	}
	if !ok {
		return Prompt{}, nil, ErrNoSession
	}
	f, ok := e.flows[sess.Flow]
	if !ok {
		delete(e.sessions, userID)
		return Prompt{}, nil, ErrNoSession
	}

	p, next, payload := f.Advance(sess, in)
	if next == nil {
		delete(e.sessions, userID)
	} else {
		next.UpdatedAt = e.now()
		e.sessions[userID] = *next
	}
	return p, payload, nil
}

func (e *Engine) Active(userID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[userID]
	return ok && !e.expired(sess)
}

// Cancel drops the session. Parked drafts are not touched.
func (e *Engine) Cancel(userID uint64) {
	e.mu.Lock()
	delete(e.sessions, userID)
	e.mu.Unlock()
}

// Sweep drops idle sessions and reports how many were removed.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, sess := range e.sessions {
		if e.expired(sess) {
			delete(e.sessions, id)
			n++
		}
	}
	return n
}

func (e *Engine) expired(sess Session) bool {
	return e.idle > 0 && e.now().Sub(sess.UpdatedAt) > e.idle
}
