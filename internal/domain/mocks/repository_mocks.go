package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/killwatch/internal/domain"
)

// MockSystemResolver is a mock implementation of domain.SystemResolver for testing.
type MockSystemResolver struct {
	mu      sync.Mutex
	Systems map[int64]string
}

func (m *MockSystemResolver) ResolveSystemName(systemID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.Systems[systemID]
	return name, ok
}

// SetSystem registers a system name after construction.
func (m *MockSystemResolver) SetSystem(systemID int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Systems == nil {
		m.Systems = make(map[int64]string)
	}
	m.Systems[systemID] = name
}

// MockIdentityResolver is a mock implementation of domain.IdentityResolver for testing.
// Ids missing from the maps behave as failed lookups.
type MockIdentityResolver struct {
	mu           sync.Mutex
	Characters   map[int64]domain.CharacterIdentity
	Corporations map[int64]domain.EntityIdentity
	Alliances    map[int64]domain.EntityIdentity
	Ships        map[int64]string
	Standings    map[int64]domain.Standing // keyed by any entity id
	Delay        time.Duration             // applied to every lookup, honouring ctx
	Calls        []string
}

func (m *MockIdentityResolver) record(call string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()
}

func (m *MockIdentityResolver) wait(ctx context.Context) bool {
	if m.Delay <= 0 {
		return true
	}
	select {
	case <-time.After(m.Delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *MockIdentityResolver) GetCharacterIdentity(ctx context.Context, characterID int64) (domain.CharacterIdentity, bool) {
	m.record("character")
	if !m.wait(ctx) {
		return domain.CharacterIdentity{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Characters[characterID]
	return c, ok
}

func (m *MockIdentityResolver) GetCorporationIdentity(ctx context.Context, corporationID int64) (domain.EntityIdentity, bool) {
	m.record("corporation")
	if !m.wait(ctx) {
		return domain.EntityIdentity{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Corporations[corporationID]
	return c, ok
}

func (m *MockIdentityResolver) GetAllianceIdentity(ctx context.Context, allianceID int64) (domain.EntityIdentity, bool) {
	m.record("alliance")
	if !m.wait(ctx) {
		return domain.EntityIdentity{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Alliances[allianceID]
	return a, ok
}

func (m *MockIdentityResolver) GetShipDisplayName(ctx context.Context, typeID int64) (string, bool) {
	m.record("ship")
	if !m.wait(ctx) {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.Ships[typeID]
	return name, ok
}

func (m *MockIdentityResolver) GetStanding(ctx context.Context, allianceID, corporationID, characterID *int64) domain.Standing {
	m.record("standing")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range []*int64{characterID, corporationID, allianceID} {
		if id == nil {
			continue
		}
		if s, ok := m.Standings[*id]; ok {
			return s
		}
	}
	return domain.StandingNeutral
}

// CallCount returns how many times the named lookup was made.
func (m *MockIdentityResolver) CallCount(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == call {
			n++
		}
	}
	return n
}

// MockSummarySink is a mock implementation of domain.SummarySink for testing.
type MockSummarySink struct {
	mu        sync.Mutex
	Summaries []domain.KillSummary
}

func (m *MockSummarySink) Accept(summary domain.KillSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Summaries = append(m.Summaries, summary)
}

// Received returns a copy of the accepted summaries.
func (m *MockSummarySink) Received() []domain.KillSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.KillSummary, len(m.Summaries))
	copy(out, m.Summaries)
	return out
}

// MockSummaryBuffer is a mock implementation of domain.SummaryBuffer for testing.
type MockSummaryBuffer struct {
	mu              sync.Mutex
	ReadBatchResult []domain.SummaryRecord
	AckedMessageIDs []string
	DLQRecords      []domain.SummaryRecord
	ReadErr         error
	AckErr          error
	DLQErr          error
}

func (m *MockSummaryBuffer) ReadSummaryBatch(ctx context.Context, group, consumer string, count int) ([]domain.SummaryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return m.ReadBatchResult, nil
}

func (m *MockSummaryBuffer) AcknowledgeSummaries(ctx context.Context, group string, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedMessageIDs = append(m.AckedMessageIDs, messageIDs...)
	return nil
}

func (m *MockSummaryBuffer) MoveToDLQ(ctx context.Context, records []domain.SummaryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DLQErr != nil {
		return m.DLQErr
	}
	m.DLQRecords = append(m.DLQRecords, records...)
	return nil
}

// MockSummaryArchive is a mock implementation of domain.SummaryArchive for testing.
type MockSummaryArchive struct {
	mu       sync.Mutex
	Written  []domain.KillSummary
	Attempts int
	WriteErr error
}

func (m *MockSummaryArchive) WriteSummaryBatch(ctx context.Context, summaries []domain.KillSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts++
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Written = append(m.Written, summaries...)
	return nil
}

// MockLedgerJournal is a mock implementation of domain.LedgerJournal for testing.
// A positive Capacity makes Write fail with domain.ErrJournalFull once it holds that many entries.
type MockLedgerJournal struct {
	mu        sync.Mutex
	Entries   []domain.LedgerEntry
	Truncated int
	Capacity  int
	WriteErr  error
}

func (m *MockLedgerJournal) Write(ctx context.Context, entry domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if m.Capacity > 0 && len(m.Entries) >= m.Capacity {
		return domain.ErrJournalFull
	}
	m.Entries = append(m.Entries, entry)
	return nil
}

func (m *MockLedgerJournal) Replay(ctx context.Context, handler func(entry domain.LedgerEntry) error) error {
	m.mu.Lock()
	entries := make([]domain.LedgerEntry, len(m.Entries))
	copy(entries, m.Entries)
	m.mu.Unlock()
	for _, e := range entries {
		if err := handler(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockLedgerJournal) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = nil
	m.Truncated++
	return nil
}

// TruncateCount returns how many times the journal was truncated.
func (m *MockLedgerJournal) TruncateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Truncated
}

// Written returns a copy of the journaled entries.
func (m *MockLedgerJournal) Written() []domain.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LedgerEntry, len(m.Entries))
	copy(out, m.Entries)
	return out
}
