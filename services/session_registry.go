package services

import (
	"sync"
	"time"

	"listening-raid-system/models"
)

// TrackingSession is the in-process record of one participant's in-progress
// listening attempt for one raid. It is not durable; it is rebuilt from the
// persisted RaidParticipant row after a restart.
//
// All fields after mu are guarded by mu. The registry mutex only guards the
// map itself, so evaluating one session never blocks another.
type TrackingSession struct {
	ParticipantID string
	RaidID        string
	TrackID       string
	Platform      models.Platform

	RequiredSeconds int
	IsPremiumTier   bool
	StartedAt       time.Time

	mu                sync.Mutex
	accumulatedListen float64 // seconds, fractional
	isListening       bool
	lastEvaluatedAt   time.Time
	removed           bool
}

func (s *TrackingSession) key() string {
	return sessionKey(s.ParticipantID, s.RaidID)
}

func sessionKey(participantID, raidID string) string {
	return participantID + "|" + raidID
}

// Snapshot returns the current accumulated seconds and listening flag.
func (s *TrackingSession) Snapshot() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulatedListen, s.isListening
}

// SessionRegistry owns session identity: at most one live session per
// (participant, raid), creation replaces, and a removed session is never
// evaluated again even if a tick already holds a reference to it.
type SessionRegistry struct {
	Now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*TrackingSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{Now: time.Now, sessions: make(map[string]*TrackingSession)}
}

// Create registers a session, replacing any live session for the same pair.
// resumeSeconds seeds the accumulator when rebuilding after a restart;
// callers pass 0 for a fresh join.
func (r *SessionRegistry) Create(participantID, raidID, trackID string, platform models.Platform, requiredSeconds int, premium bool, resumeSeconds float64) *TrackingSession {
	now := r.Now().UTC()
	session := &TrackingSession{
		ParticipantID:     participantID,
		RaidID:            raidID,
		TrackID:           trackID,
		Platform:          platform,
		RequiredSeconds:   requiredSeconds,
		IsPremiumTier:     premium,
		StartedAt:         now,
		accumulatedListen: resumeSeconds,
		isListening:       resumeSeconds > 0,
		lastEvaluatedAt:   now,
	}

	r.mu.Lock()
	if old, ok := r.sessions[session.key()]; ok {
		old.markRemoved()
	}
	r.sessions[session.key()] = session
	r.mu.Unlock()
	return session
}

// Remove drops the session for the pair. The removal is visible to any
// in-flight evaluation before it persists anything.
func (r *SessionRegistry) Remove(participantID, raidID string) {
	r.mu.Lock()
	if session, ok := r.sessions[sessionKey(participantID, raidID)]; ok {
		session.markRemoved()
		delete(r.sessions, session.key())
	}
	r.mu.Unlock()
}

// RemoveForRaid drops every session tracking the given raid.
func (r *SessionRegistry) RemoveForRaid(raidID string) {
	r.mu.Lock()
	for key, session := range r.sessions {
		if session.RaidID == raidID {
			session.markRemoved()
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()
}

// Get returns the live session for the pair, if any.
func (r *SessionRegistry) Get(participantID, raidID string) (*TrackingSession, bool) {
	r.mu.RLock()
	session, ok := r.sessions[sessionKey(participantID, raidID)]
	r.mu.RUnlock()
	return session, ok
}

// ListActive returns a point-in-time snapshot. Safe to iterate while
// sessions are concurrently created or removed.
func (r *SessionRegistry) ListActive() []*TrackingSession {
	r.mu.RLock()
	snapshot := make([]*TrackingSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		snapshot = append(snapshot, session)
	}
	r.mu.RUnlock()
	return snapshot
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (s *TrackingSession) markRemoved() {
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
}
