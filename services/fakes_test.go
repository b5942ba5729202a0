package services

import (
	"context"
	"sync"
	"time"

	"listening-raid-system/models"
	"listening-raid-system/storage"
)

// fakeStore implements the storage contracts in memory with the same
// guarded-update semantics the gorm store gets from conditional UPDATEs.
type fakeStore struct {
	mu           sync.Mutex
	raids        map[string]*models.Raid
	participants map[string]*models.RaidParticipant
	credentials  map[string]*models.PlatformCredential
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		raids:        make(map[string]*models.Raid),
		participants: make(map[string]*models.RaidParticipant),
		credentials:  make(map[string]*models.PlatformCredential),
	}
}

func participantKey(participantID, raidID string) string {
	return participantID + "|" + raidID
}

func (f *fakeStore) putRaid(raid models.Raid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := raid
	f.raids[raid.ID] = &copied
}

func (f *fakeStore) putParticipant(p models.RaidParticipant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := p
	f.participants[participantKey(p.ParticipantID, p.RaidID)] = &copied
}

func (f *fakeStore) putCredential(c models.PlatformCredential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := c
	f.credentials[c.ParticipantID+"|"+string(c.Platform)] = &copied
}

func (f *fakeStore) raid(id string) models.Raid {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.raids[id]
}

func (f *fakeStore) participant(participantID, raidID string) models.RaidParticipant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.participants[participantKey(participantID, raidID)]
}

// --- RaidStore ---

func (f *fakeStore) Get(ctx context.Context, id string) (models.Raid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raid, ok := f.raids[id]
	if !ok {
		return models.Raid{}, storage.ErrNotFound
	}
	return *raid, nil
}

func (f *fakeStore) GetBySlug(ctx context.Context, slug string) (models.Raid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, raid := range f.raids {
		if raid.Slug == slug {
			return *raid, nil
		}
	}
	return models.Raid{}, storage.ErrNotFound
}

func (f *fakeStore) Create(ctx context.Context, raid *models.Raid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *raid
	f.raids[raid.ID] = &copied
	return nil
}

func (f *fakeStore) CountParticipants(ctx context.Context, raidID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, p := range f.participants {
		if p.RaidID == raidID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CountQualified(ctx context.Context, raidID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, p := range f.participants {
		if p.RaidID == raidID && p.Qualified {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) TransitionStatus(ctx context.Context, raidID string, from, to models.RaidStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raid, ok := f.raids[raidID]
	if !ok || raid.Status != from {
		return false, nil
	}
	raid.Status = to
	return true, nil
}

func (f *fakeStore) ListExpired(ctx context.Context, now time.Time) ([]models.Raid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Raid
	for _, raid := range f.raids {
		if raid.Status == models.RaidStatusActive && !raid.ExpiresAt.After(now) {
			out = append(out, *raid)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActive(ctx context.Context, now time.Time) ([]models.Raid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Raid
	for _, raid := range f.raids {
		if raid.Status == models.RaidStatusActive && raid.ExpiresAt.After(now) {
			out = append(out, *raid)
		}
	}
	return out, nil
}

func (f *fakeStore) SetReportURL(ctx context.Context, raidID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if raid, ok := f.raids[raidID]; ok {
		raid.ReportURL = url
	}
	return nil
}

// --- ParticipantStore ---

func (f *fakeStore) GetParticipant(ctx context.Context, participantID, raidID string) (models.RaidParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantKey(participantID, raidID)]
	if !ok {
		return models.RaidParticipant{}, storage.ErrNotFound
	}
	return *p, nil
}

func (f *fakeStore) Enroll(ctx context.Context, p *models.RaidParticipant, capacity int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := participantKey(p.ParticipantID, p.RaidID)
	if _, exists := f.participants[key]; exists {
		return true, nil
	}
	var count int64
	for _, row := range f.participants {
		if row.RaidID == p.RaidID {
			count++
		}
	}
	if count >= int64(capacity) {
		return false, nil
	}
	copied := *p
	f.participants[key] = &copied
	return true, nil
}

func (f *fakeStore) UpdateProgress(ctx context.Context, participantID, raidID string, totalSeconds float64, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.participants[participantKey(participantID, raidID)]; ok {
		p.IsListening = true
		p.TotalListenSeconds = totalSeconds
		p.LastCheckedAt = &checkedAt
	}
	return nil
}

func (f *fakeStore) ResetProgress(ctx context.Context, participantID, raidID string, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.participants[participantKey(participantID, raidID)]; ok {
		p.IsListening = false
		p.TotalListenSeconds = 0
		p.LastCheckedAt = &checkedAt
	}
	return nil
}

func (f *fakeStore) SetListening(ctx context.Context, participantID, raidID string, listening bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.participants[participantKey(participantID, raidID)]; ok {
		p.IsListening = listening
	}
	return nil
}

func (f *fakeStore) MarkQualified(ctx context.Context, participantID, raidID string, at time.Time, totalSeconds float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantKey(participantID, raidID)]
	if !ok || p.Qualified {
		return false, nil
	}
	p.Qualified = true
	p.QualifiedAt = &at
	p.TotalListenSeconds = totalSeconds
	p.IsListening = true
	p.LastCheckedAt = &at
	return true, nil
}

func (f *fakeStore) MarkClaimed(ctx context.Context, participantID, raidID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantKey(participantID, raidID)]
	if !ok || !p.Qualified || p.ClaimedReward {
		return false, nil
	}
	p.ClaimedReward = true
	p.ClaimedAt = &at
	p.SettlementState = models.SettlementStatePending
	return true, nil
}

func (f *fakeStore) SetSettlement(ctx context.Context, participantID, raidID string, state models.SettlementState, txRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.participants[participantKey(participantID, raidID)]; ok {
		p.SettlementState = state
		p.ClaimTxRef = txRef
	}
	return nil
}

func (f *fakeStore) ListPendingSettlements(ctx context.Context) ([]models.RaidParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RaidParticipant
	for _, p := range f.participants {
		if p.ClaimedReward && p.SettlementState == models.SettlementStatePending {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveNotificationRef(ctx context.Context, participantID, raidID, messageRef string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.participants[participantKey(participantID, raidID)]; ok {
		p.LastMessageRef = messageRef
		p.LastNotifiedAt = &at
	}
	return nil
}

func (f *fakeStore) ListQualified(ctx context.Context, raidID string) ([]models.RaidParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RaidParticipant
	for _, p := range f.participants {
		if p.RaidID == raidID && p.Qualified {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListListening(ctx context.Context, raidID string) ([]models.RaidParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RaidParticipant
	for _, p := range f.participants {
		if p.RaidID == raidID && p.IsListening && !p.Qualified {
			out = append(out, *p)
		}
	}
	return out, nil
}

// --- CredentialStore ---

func (f *fakeStore) GetCredential(ctx context.Context, participantID string, platform models.Platform) (models.PlatformCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.credentials[participantID+"|"+string(platform)]
	if !ok {
		return models.PlatformCredential{}, storage.ErrNotFound
	}
	return *c, nil
}

// fakeVerifier scripts playback observations per participant.
type fakeVerifier struct {
	mu      sync.Mutex
	results map[string][]fakeObservation
}

type fakeObservation struct {
	playing bool
	err     error
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{results: make(map[string][]fakeObservation)}
}

func (v *fakeVerifier) script(participantID string, obs ...fakeObservation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results[participantID] = append(v.results[participantID], obs...)
}

func (v *fakeVerifier) CheckPlayback(ctx context.Context, participantID, trackID string) (PlaybackState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	queue := v.results[participantID]
	if len(queue) == 0 {
		return PlaybackState{IsPlaying: false, ObservedAt: time.Now()}, nil
	}
	next := queue[0]
	v.results[participantID] = queue[1:]
	if next.err != nil {
		return PlaybackState{}, next.err
	}
	return PlaybackState{IsPlaying: next.playing, ObservedAt: time.Now()}, nil
}

// fakeSettlement counts settle calls and can be toggled unavailable.
type fakeSettlement struct {
	mu          sync.Mutex
	calls       int
	unavailable bool
	lastKey     string
}

func (s *fakeSettlement) Settle(ctx context.Context, participantID, raidID string, amount float64, token, idempotencyKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return "", ErrSettlementUnavailable
	}
	s.calls++
	s.lastKey = idempotencyKey
	return "tx-" + participantID + "-" + raidID, nil
}

func (s *fakeSettlement) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeSender records deliveries; failures are configurable per call.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	refs int
	fail bool
}

func (s *fakeSender) SendOrUpdate(ctx context.Context, participantID, content, priorRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", context.DeadlineExceeded
	}
	s.sent = append(s.sent, content)
	if priorRef != "" {
		return priorRef, nil
	}
	s.refs++
	return "msg-" + time.Now().Format("150405.000000000"), nil
}

// clockStub is an adjustable clock for deterministic Δt.
type clockStub struct {
	mu  sync.Mutex
	now time.Time
}

func newClockStub(start time.Time) *clockStub {
	return &clockStub{now: start}
}

func (c *clockStub) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clockStub) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
