package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avekarev/ledgerfold/internal/domain"
)

// MockLedgerStore is a mock implementation of domain.LedgerStore for testing.
// Every call is appended to Journal as "op" or "op:clientID" so tests can
// assert the archive-before-delete ordering.
type MockLedgerStore struct {
	mu sync.Mutex

	EligibleResult  []domain.ClientBatch
	RemainingResult int64

	EligibleErr  error
	ArchiveErr   error
	DeleteErr    error
	SummaryErr   error
	RemainingErr error

	// ArchiveErrClient scopes ArchiveErr to a single client's batch.
	// When empty, ArchiveErr applies to every archive call.
	ArchiveErrClient string

	Archived   []domain.ArchiveRecord
	DeletedIDs []string
	Summaries  []domain.BalanceForwardSummary
	Journal    []string
}

func (m *MockLedgerStore) EligibleTransactions(ctx context.Context, threshold time.Time) ([]domain.ClientBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Journal = append(m.Journal, "eligible")
	if m.EligibleErr != nil {
		return nil, m.EligibleErr
	}
	return m.EligibleResult, nil
}

func (m *MockLedgerStore) ArchiveTransactions(ctx context.Context, records []domain.ArchiveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	client := ""
	if len(records) > 0 {
		client = records[0].ClientID
	}
	m.Journal = append(m.Journal, "archive:"+client)
	if m.ArchiveErr != nil && (m.ArchiveErrClient == "" || m.ArchiveErrClient == client) {
		return m.ArchiveErr
	}
	m.Archived = append(m.Archived, records...)
	return nil
}

func (m *MockLedgerStore) DeleteTransactions(ctx context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Journal = append(m.Journal, fmt.Sprintf("delete:%d", len(ids)))
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	m.DeletedIDs = append(m.DeletedIDs, ids...)
	return int64(len(ids)), nil
}

func (m *MockLedgerStore) InsertSummary(ctx context.Context, summary domain.BalanceForwardSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Journal = append(m.Journal, "summary:"+summary.ClientID)
	if m.SummaryErr != nil {
		return m.SummaryErr
	}
	m.Summaries = append(m.Summaries, summary)
	return nil
}

func (m *MockLedgerStore) CountRemaining(ctx context.Context, threshold time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Journal = append(m.Journal, "remaining")
	if m.RemainingErr != nil {
		return 0, m.RemainingErr
	}
	return m.RemainingResult, nil
}

// MockTransactionalStore wraps MockLedgerStore with a transactional
// capability so tests can assert the compactor prefers it when offered.
type MockTransactionalStore struct {
	MockLedgerStore

	TxErr     error
	TxStarted int
}

func (m *MockTransactionalStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.TxStarted++
	m.Journal = append(m.Journal, "tx")
	m.mu.Unlock()
	if m.TxErr != nil {
		return m.TxErr
	}
	return fn(ctx)
}

// FakeLedgerStore is an in-memory store with real eligibility, archive and
// deletion semantics, used for whole-run property tests (conservation,
// idempotence, threshold boundaries).
type FakeLedgerStore struct {
	mu        sync.Mutex
	hot       map[string]domain.Transaction
	archive   map[string]domain.ArchiveRecord
	summaries []domain.BalanceForwardSummary
}

func NewFakeLedgerStore() *FakeLedgerStore {
	return &FakeLedgerStore{
		hot:     make(map[string]domain.Transaction),
		archive: make(map[string]domain.ArchiveRecord),
	}
}

// Seed inserts transactions directly into hot storage.
func (f *FakeLedgerStore) Seed(txs ...domain.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range txs {
		f.hot[tx.ID] = tx
	}
}

func (f *FakeLedgerStore) EligibleTransactions(ctx context.Context, threshold time.Time) ([]domain.ClientBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byClient := make(map[string][]domain.Transaction)
	for _, tx := range f.hot {
		if tx.Timestamp.Before(threshold) {
			byClient[tx.ClientID] = append(byClient[tx.ClientID], tx)
		}
	}
	clients := make([]string, 0, len(byClient))
	for id := range byClient {
		clients = append(clients, id)
	}
	sort.Strings(clients)
	batches := make([]domain.ClientBatch, 0, len(clients))
	for _, id := range clients {
		txs := byClient[id]
		sort.Slice(txs, func(i, j int) bool {
			if txs[i].Timestamp.Equal(txs[j].Timestamp) {
				return txs[i].ID < txs[j].ID
			}
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		})
		batches = append(batches, domain.ClientBatch{ClientID: id, Transactions: txs})
	}
	return batches, nil
}

func (f *FakeLedgerStore) ArchiveTransactions(ctx context.Context, records []domain.ArchiveRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		// Duplicate ids are treated as already archived.
		if _, exists := f.archive[rec.ID]; exists {
			continue
		}
		f.archive[rec.ID] = rec
	}
	return nil
}

func (f *FakeLedgerStore) DeleteTransactions(ctx context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, exists := f.hot[id]; exists {
			delete(f.hot, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *FakeLedgerStore) InsertSummary(ctx context.Context, summary domain.BalanceForwardSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

func (f *FakeLedgerStore) CountRemaining(ctx context.Context, threshold time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, tx := range f.hot {
		if !tx.Timestamp.Before(threshold) {
			n++
		}
	}
	return n, nil
}

// HotCount reports the current hot-set size.
func (f *FakeLedgerStore) HotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hot)
}

// HotSum reports the summed amount of all hot transactions.
func (f *FakeLedgerStore) HotSum() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, tx := range f.hot {
		sum += tx.Amount
	}
	return sum
}

// ArchiveRecords returns a copy of the archive contents.
func (f *FakeLedgerStore) ArchiveRecords() []domain.ArchiveRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ArchiveRecord, 0, len(f.archive))
	for _, rec := range f.archive {
		out = append(out, rec)
	}
	return out
}

// SummaryRecords returns a copy of the written summaries.
func (f *FakeLedgerStore) SummaryRecords() []domain.BalanceForwardSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.BalanceForwardSummary(nil), f.summaries...)
}
