// Package memory implements the store interfaces in process memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/store"
)

// New returns a fresh set of in-memory stores.
func New() store.Stores {
	return store.Stores{
		Trades:     NewTradeStore(),
		Challenges: NewChallengeStore(),
		Daily:      NewDailyMetricStore(),
		Close:      func() error { return nil },
	}
}

// TradeStore is an in-memory implementation of store.TradeStore.
type TradeStore struct {
	mu     sync.RWMutex
	byID   map[string]struct{}
	trades map[string][]ledger.Trade // keyed by challenge_id
}

var _ store.TradeStore = (*TradeStore)(nil)

func NewTradeStore() *TradeStore {
	return &TradeStore{
		byID:   make(map[string]struct{}),
		trades: make(map[string][]ledger.Trade),
	}
}

func (s *TradeStore) Append(_ context.Context, t ledger.Trade) error {
	if err := store.ValidateTrade(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[t.ID]; exists {
		return store.ErrDuplicateKey
	}
	s.insertLocked(t)
	return nil
}

// AppendBatch adds all trades atomically. Fails the entire batch on any
// invalid or duplicate trade.
func (s *TradeStore) AppendBatch(_ context.Context, trades []ledger.Trade) error {
	seen := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if err := store.ValidateTrade(t); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return store.ErrDuplicateKey
		}
		seen[t.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		if _, exists := s.byID[t.ID]; exists {
			return store.ErrDuplicateKey
		}
	}
	for _, t := range trades {
		s.insertLocked(t)
	}
	return nil
}

func (s *TradeStore) insertLocked(t ledger.Trade) {
	t.ExecutedAt = t.ExecutedAt.UTC()
	s.byID[t.ID] = struct{}{}
	s.trades[t.ChallengeID] = append(s.trades[t.ChallengeID], t)
}

// ListByChallenge returns a copy sorted by executed_at ASC, id ASC.
func (s *TradeStore) ListByChallenge(_ context.Context, challengeID string) ([]ledger.Trade, error) {
	s.mu.RLock()
	out := append([]ledger.Trade(nil), s.trades[challengeID]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExecutedAt.Before(out[j].ExecutedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ChallengeStore is an in-memory implementation of store.ChallengeStore.
type ChallengeStore struct {
	mu   sync.RWMutex
	data map[string]*challenge.Challenge
}

var _ store.ChallengeStore = (*ChallengeStore)(nil)

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{data: make(map[string]*challenge.Challenge)}
}

func (s *ChallengeStore) Create(_ context.Context, c *challenge.Challenge) error {
	if err := store.ValidateChallenge(c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ID]; exists {
		return store.ErrDuplicateKey
	}
	s.data[c.ID] = copyChallenge(c)
	return nil
}

func (s *ChallengeStore) Get(_ context.Context, id string) (*challenge.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return copyChallenge(c), nil
}

// Save overwrites an existing challenge. Returns ErrNotFound otherwise.
func (s *ChallengeStore) Save(_ context.Context, c *challenge.Challenge) error {
	if err := store.ValidateChallenge(c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ID]; !exists {
		return store.ErrNotFound
	}
	s.data[c.ID] = copyChallenge(c)
	return nil
}

func (s *ChallengeStore) SaveEquity(_ context.Context, id string, equity float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[id]
	if !exists {
		return store.ErrNotFound
	}
	c.Equity = equity
	c.UpdatedAt = at
	return nil
}

func (s *ChallengeStore) ListByStatus(_ context.Context, status challenge.Status) ([]*challenge.Challenge, error) {
	s.mu.RLock()
	var out []*challenge.Challenge
	for _, c := range s.data {
		if c.Status == status {
			out = append(out, copyChallenge(c))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func copyChallenge(c *challenge.Challenge) *challenge.Challenge {
	cp := *c
	if c.FailedAt != nil {
		t := *c.FailedAt
		cp.FailedAt = &t
	}
	if c.PassedAt != nil {
		t := *c.PassedAt
		cp.PassedAt = &t
	}
	return &cp
}

// DailyMetricStore is an in-memory implementation of store.DailyMetricStore.
type DailyMetricStore struct {
	mu   sync.Mutex
	data map[string]*challenge.DailyMetric // keyed by challenge_id|day
	now  func() time.Time
}

var _ store.DailyMetricStore = (*DailyMetricStore)(nil)

func NewDailyMetricStore() *DailyMetricStore {
	return &DailyMetricStore{
		data: make(map[string]*challenge.DailyMetric),
		now:  time.Now,
	}
}

func dailyKey(challengeID string, day time.Time) string {
	return challengeID + "|" + challenge.DayKey(day)
}

func (s *DailyMetricStore) GetOrCreate(_ context.Context, challengeID string, day time.Time, startEquity float64) (*challenge.DailyMetric, error) {
	if challengeID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dailyKey(challengeID, day)
	m, exists := s.data[key]
	if !exists {
		m = &challenge.DailyMetric{
			ChallengeID:    challengeID,
			Day:            day,
			DayStartEquity: startEquity,
			CreatedAt:      s.now().UTC(),
		}
		s.data[key] = m
	}
	return copyMetric(m), nil
}

func (s *DailyMetricStore) Find(_ context.Context, challengeID string, day time.Time) (*challenge.DailyMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.data[dailyKey(challengeID, day)]
	if !exists {
		return nil, nil
	}
	return copyMetric(m), nil
}

// Update replaces the end-of-day fields. DayStartEquity is never changed.
func (s *DailyMetricStore) Update(_ context.Context, m *challenge.DailyMetric) error {
	if m == nil {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dailyKey(m.ChallengeID, m.Day)
	cur, exists := s.data[key]
	if !exists {
		return store.ErrNotFound
	}
	next := copyMetric(m)
	next.DayStartEquity = cur.DayStartEquity
	next.CreatedAt = cur.CreatedAt
	s.data[key] = next
	return nil
}

func (s *DailyMetricStore) ListByChallenge(_ context.Context, challengeID string) ([]*challenge.DailyMetric, error) {
	s.mu.Lock()
	var out []*challenge.DailyMetric
	for _, m := range s.data {
		if m.ChallengeID == challengeID {
			out = append(out, copyMetric(m))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func copyMetric(m *challenge.DailyMetric) *challenge.DailyMetric {
	cp := *m
	cp.DayEndEquity = copyFloat(m.DayEndEquity)
	cp.DayPnL = copyFloat(m.DayPnL)
	cp.MaxIntradayDrawdownPct = copyFloat(m.MaxIntradayDrawdownPct)
	return &cp
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
