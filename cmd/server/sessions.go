package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

// canvasBackend is a CanvasService that can also report the canvas extent.
// *canvus.Client satisfies it.
type canvasBackend interface {
	notemapper.CanvasService
	GetCanvasSize(ctx context.Context, canvasID string) (notemapper.CanvasSize, error)
}

// clientFactory builds a backend for a server URL and API key.
type clientFactory func(server, apiKey string) (canvasBackend, error)

// canvasProvider forwards to the current backend. Credentials can be
// replaced at runtime; calls already running keep the backend they started
// with.
type canvasProvider struct {
	newClient clientFactory

	mu      sync.RWMutex
	backend canvasBackend
	server  string
}

var _ canvasBackend = (*canvasProvider)(nil)

func newCanvasProvider(newClient clientFactory) *canvasProvider {
	return &canvasProvider{newClient: newClient}
}

// Configure swaps the backend. The old one is dropped only if the new one
// could be built.
func (p *canvasProvider) Configure(server, apiKey string) error {
	backend, err := p.newClient(server, apiKey)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.backend = backend
	p.server = server
	p.mu.Unlock()
	return nil
}

func (p *canvasProvider) Server() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.server
}

func (p *canvasProvider) current(op string) (canvasBackend, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.backend == nil {
		return nil, notemapper.Errorf(notemapper.ErrUpstreamUnavailable, op, "canvas server credentials are not configured")
	}
	return p.backend, nil
}

func (p *canvasProvider) ListCanvases(ctx context.Context) ([]notemapper.Canvas, error) {
	b, err := p.current("list canvases")
	if err != nil {
		return nil, err
	}
	return b.ListCanvases(ctx)
}

func (p *canvasProvider) ListAnchors(ctx context.Context, canvasID string) ([]notemapper.Anchor, error) {
	b, err := p.current("list anchors")
	if err != nil {
		return nil, err
	}
	return b.ListAnchors(ctx, canvasID)
}

func (p *canvasProvider) GetAnchor(ctx context.Context, canvasID, anchorID string) (notemapper.Anchor, error) {
	b, err := p.current("get anchor")
	if err != nil {
		return notemapper.Anchor{}, err
	}
	return b.GetAnchor(ctx, canvasID, anchorID)
}

func (p *canvasProvider) CreateNotes(ctx context.Context, canvasID, anchorID string, notes []notemapper.PlacedNote) (notemapper.PlaceResult, error) {
	b, err := p.current("create notes")
	if err != nil {
		return notemapper.PlaceResult{}, err
	}
	return b.CreateNotes(ctx, canvasID, anchorID, notes)
}

func (p *canvasProvider) GetCanvasSize(ctx context.Context, canvasID string) (notemapper.CanvasSize, error) {
	b, err := p.current("canvas size")
	if err != nil {
		return notemapper.CanvasSize{}, err
	}
	return b.GetCanvasSize(ctx, canvasID)
}

type session struct {
	id       string
	pipeline *notemapper.Pipeline
	created  time.Time
	lastUsed time.Time
}

// sessionStore holds one pipeline per browser session and expires idle ones.
type sessionStore struct {
	newPipeline func(id string) *notemapper.Pipeline
	ttl         time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionStore(ttl time.Duration, newPipeline func(id string) *notemapper.Pipeline) *sessionStore {
	return &sessionStore{
		newPipeline: newPipeline,
		ttl:         ttl,
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
}

func (s *sessionStore) create() *session {
	id := uuid.NewString()
	now := s.now()
	sess := &session{id: id, pipeline: s.newPipeline(id), created: now, lastUsed: now}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

// get returns the session and marks it used.
func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.lastUsed = s.now()
	}
	return sess, ok
}

func (s *sessionStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// sweep drops sessions idle for longer than the TTL and reports how many
// went.
func (s *sessionStore) sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// run sweeps every interval until ctx is done.
func (s *sessionStore) run(ctx context.Context, interval time.Duration, log notemapper.Logger) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				log.Infof("Expired %d idle sessions", n)
			}
		}
	}
}
