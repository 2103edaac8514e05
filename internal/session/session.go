package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CookieName holds the browser's session id.
const CookieName = "viralclips_session"

// Job is the hand-off between the form page and the progress page.
type Job struct {
	JobID      string `json:"jobId"`
	VideoTitle string `json:"videoTitle"`
	VideoURL   string `json:"videoUrl"`
}

type entry struct {
	job       Job
	updatedAt time.Time
}

// Store keeps one current job per browser session in memory.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Put stores job for the request's session, issuing a session cookie if
// needed. The cookie is written on every call so its lifetime follows the
// server-side entry.
func (s *Store) Put(w http.ResponseWriter, r *http.Request, job Job) {
	id := s.id(r)
	if id == "" {
		id = uuid.NewString()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})

	s.mu.Lock()
	s.entries[id] = entry{job: job, updatedAt: s.now()}
	s.mu.Unlock()
}

// Get returns the session's current job.
func (s *Store) Get(r *http.Request) (Job, bool) {
	id := s.id(r)
	if id == "" {
		return Job{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		return Job{}, false
	}
	return e.job, true
}

// Clear forgets the session's job.
func (s *Store) Clear(r *http.Request) {
	id := s.id(r)
	if id == "" {
		return
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartCleanupLoop evicts expired sessions every interval until ctx is done.
func (s *Store) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// Cleanup removes expired sessions and returns how many were dropped.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *Store) expired(e entry) bool {
	return s.ttl > 0 && s.now().Sub(e.updatedAt) > s.ttl
}

func (s *Store) id(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}
