// Package memory is an in-process repository.Store used by tests and by the
// server when STORE_CONNECTION_URI is memory://. Transactions run one at a time
// against a copy of the tables that replaces the live copy on commit.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

type tables struct {
	products      map[string]domain.Product
	productEvents map[string][]domain.ProductEvent
	locations     map[string]domain.Location
	rows          map[string]domain.StockRow
	rowKeys       map[rowKey]string
	events        map[string][]domain.StockEvent
	sales         map[string]domain.Sale
	incomes       map[string]domain.Income
	purchases     map[string]domain.Purchase
	transfers     map[string]domain.StockTransfer
	activity      []domain.Activity
}

type rowKey struct {
	product  string
	location string
}

func newTables() *tables {
	return &tables{
		products:      map[string]domain.Product{},
		productEvents: map[string][]domain.ProductEvent{},
		locations:     map[string]domain.Location{},
		rows:          map[string]domain.StockRow{},
		rowKeys:       map[rowKey]string{},
		events:        map[string][]domain.StockEvent{},
		sales:         map[string]domain.Sale{},
		incomes:       map[string]domain.Income{},
		purchases:     map[string]domain.Purchase{},
		transfers:     map[string]domain.StockTransfer{},
	}
}

// clone copies every map. Slice values are clipped on write, so appends in the
// copy never touch the backing arrays still referenced by the original.
func (t *tables) clone() *tables {
	return &tables{
		products:      maps.Clone(t.products),
		productEvents: maps.Clone(t.productEvents),
		locations:     maps.Clone(t.locations),
		rows:          maps.Clone(t.rows),
		rowKeys:       maps.Clone(t.rowKeys),
		events:        maps.Clone(t.events),
		sales:         maps.Clone(t.sales),
		incomes:       maps.Clone(t.incomes),
		purchases:     maps.Clone(t.purchases),
		transfers:     maps.Clone(t.transfers),
		activity:      slices.Clip(t.activity),
	}
}

var (
	errClosed           = errors.New("memory store closed")
	errNegativeQuantity = errors.New("stock quantity must not be negative")
)

type Store struct {
	*querier
	mu     sync.RWMutex
	live   *tables
	closed bool
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	s := &Store{live: newTables()}
	s.querier = &querier{store: s}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.live.clone()
	if err := fn(ctx, &querier{tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.live = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// querier works either on the live tables under the store lock, or on a
// transaction's private copy with the lock already held by InTx.
type querier struct {
	store *Store
	tx    *tables
}

func (q *querier) read() (*tables, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.store.mu.RLock()
	return q.store.live, q.store.mu.RUnlock
}

func (q *querier) write() (*tables, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.store.mu.Lock()
	return q.store.live, q.store.mu.Unlock
}

func paginate[T any](items []T, page repository.Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := min(start+page.Limit, len(items))
	return items[start:end]
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func inScope(p domain.Principal, locationIDs ...string) bool {
	locations, all := repository.ScopeLocations(p)
	if all {
		return true
	}
	for _, id := range locationIDs {
		if slices.Contains(locations, id) {
			return true
		}
	}
	return false
}

func sortByTime[T any](items []T, at func(T) int64, id func(T) string, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := at(items[i]), at(items[j])
		if ai == aj {
			return id(items[i]) < id(items[j])
		}
		if desc {
			return ai > aj
		}
		return ai < aj
	})
}
