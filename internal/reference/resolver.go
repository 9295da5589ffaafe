package reference

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// memo holds a value computed at most once. A failed load is not cached.
type memo[T any] struct {
	mu     sync.Mutex
	loaded bool
	val    T
}

func (m *memo[T]) get(load func() (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.val, nil
	}
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	m.val = v
	m.loaded = true
	return v, nil
}

type userEntry struct {
	name      string
	companies []string
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	BatchSize int
	Logger    *slog.Logger
}

// Resolver resolves company and user ids for one report run.
// Each table is fetched in full on first use and kept in memory; the
// Resolver is safe for concurrent use.
type Resolver struct {
	source Source
	config ResolverConfig

	companies memo[map[string]string]
	users     memo[map[string]*userEntry]

	fetches atomic.Int64
	misses  atomic.Int64
}

// NewResolver creates a Resolver reading from source.
func NewResolver(source Source, config ResolverConfig) *Resolver {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Resolver{
		source: source,
		config: config,
	}
}

// CompanyName returns the name of the company with the given id, or "" if
// there is none.
func (r *Resolver) CompanyName(ctx context.Context, companyID string) (string, error) {
	companies, err := r.companies.get(func() (map[string]string, error) {
		return r.loadCompanies(ctx)
	})
	if err != nil {
		return "", err
	}
	name, ok := companies[companyID]
	if !ok {
		r.misses.Add(1)
	}
	return name, nil
}

// UserDetails returns the user name and the names of the user's companies
// in table order. Unknown users yield "" and no companies.
func (r *Resolver) UserDetails(ctx context.Context, userID string) (string, []string, error) {
	users, err := r.users.get(func() (map[string]*userEntry, error) {
		return r.loadUsers(ctx)
	})
	if err != nil {
		return "", nil, err
	}
	u, ok := users[userID]
	if !ok {
		r.misses.Add(1)
		return "", nil, nil
	}
	return u.name, append([]string(nil), u.companies...), nil
}

// Fetches returns the number of table loads performed.
func (r *Resolver) Fetches() int64 {
	return r.fetches.Load()
}

// Misses returns how many lookups did not match any row.
func (r *Resolver) Misses() int64 {
	return r.misses.Load()
}

func (r *Resolver) loadCompanies(ctx context.Context) (map[string]string, error) {
	r.fetches.Add(1)
	companies := make(map[string]string)
	err := r.source.FetchTable(ctx, CompanyMapView, r.config.BatchSize, func(batch []Row) error {
		for _, row := range batch {
			companies[row.String("id")] = row.String("name")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", CompanyMapView, err)
	}
	r.config.Logger.Debug("loaded reference table", "table", CompanyMapView, "rows", len(companies))
	return companies, nil
}

func (r *Resolver) loadUsers(ctx context.Context) (map[string]*userEntry, error) {
	r.fetches.Add(1)
	users := make(map[string]*userEntry)
	rows := 0
	err := r.source.FetchTable(ctx, UserCompanyView, r.config.BatchSize, func(batch []Row) error {
		for _, row := range batch {
			rows++
			id := row.String("user_id")
			u, ok := users[id]
			if !ok {
				u = &userEntry{name: row.String("user_name")}
				users[id] = u
			}
			u.companies = append(u.companies, row.String("company_name"))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", UserCompanyView, err)
	}
	r.config.Logger.Debug("loaded reference table", "table", UserCompanyView, "rows", rows, "users", len(users))
	return users, nil
}
