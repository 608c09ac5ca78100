package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gorm.io/gorm"

	"github.com/tansu-cloud/gateway/internal/logger"
	"github.com/tansu-cloud/gateway/internal/models"
)

var (
	ErrNoSnapshot   = errors.New("no rollback snapshot available")
	ErrInvalidRoute = errors.New("invalid route")
)

// Destination is one endpoint of a cluster.
type Destination struct {
	URL string `json:"url"`
}

// Route maps a path prefix onto an ordered destination cluster.
type Route struct {
	Prefix       string        `json:"prefix"`
	Destinations []Destination `json:"destinations"`
}

// tableState is an immutable resolved table. Round-robin cursors live beside
// the routes so replacing the table also resets rotation.
type tableState struct {
	routes  []Route
	cursors []*atomic.Uint64
}

// Table is the live route/cluster mapping. Reads resolve against an atomic
// pointer; Replace swaps the whole structure so readers never observe a
// partial update. Exactly one rollback snapshot is retained.
type Table struct {
	current atomic.Pointer[tableState]

	mu       sync.Mutex
	snapshot *tableState

	db *gorm.DB
}

// NewTable builds a table, reloading the newest persisted document when the
// store holds one.
func NewTable(db *gorm.DB) *Table {
	t := &Table{db: db}
	t.current.Store(&tableState{})

	if db != nil {
		var record models.RouteTableRecord
		if err := db.Order("created_at desc").First(&record).Error; err == nil {
			var routes []Route
			if err := json.Unmarshal([]byte(record.Document), &routes); err == nil {
				if state, err := buildState(routes); err == nil {
					t.current.Store(state)
				}
			}
		}
	}

	return t
}

// Routes returns the active table's routes.
func (t *Table) Routes() []Route {
	return t.current.Load().routes
}

// Resolve finds the longest-prefix route for path and picks the next
// destination round-robin. ok is false when no route matches.
func (t *Table) Resolve(path string) (Destination, bool) {
	state := t.current.Load()
	for i, route := range state.routes {
		if strings.HasPrefix(path, route.Prefix) {
			n := state.cursors[i].Add(1)
			return route.Destinations[int(n-1)%len(route.Destinations)], true
		}
	}
	return Destination{}, false
}

// Replace validates, persists, and atomically publishes a new table. The
// previous table becomes the rollback snapshot.
func (t *Table) Replace(routes []Route) error {
	state, err := buildState(routes)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.persist(routes); err != nil {
		return fmt.Errorf("persist route table: %w", err)
	}

	t.snapshot = t.current.Load()
	t.current.Store(state)
	logger.WithComponent("routing").WithField("routes", len(routes)).Info("route table replaced")
	return nil
}

// Rollback restores the table immediately prior to the last successful
// Replace. The replaced table becomes the new snapshot, so a rollback can be
// undone once.
func (t *Table) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snapshot == nil {
		return ErrNoSnapshot
	}

	if err := t.persist(t.snapshot.routes); err != nil {
		return fmt.Errorf("persist route table: %w", err)
	}

	restored := t.snapshot
	t.snapshot = t.current.Load()
	t.current.Store(restored)
	logger.WithComponent("routing").Info("route table rolled back")
	return nil
}

func (t *Table) persist(routes []Route) error {
	if t.db == nil {
		return nil
	}
	doc, err := json.Marshal(routes)
	if err != nil {
		return err
	}
	return t.db.Create(&models.RouteTableRecord{Document: string(doc)}).Error
}

func buildState(routes []Route) (*tableState, error) {
	for _, route := range routes {
		if !strings.HasPrefix(route.Prefix, "/") {
			return nil, fmt.Errorf("%w: prefix %q must start with /", ErrInvalidRoute, route.Prefix)
		}
		if len(route.Destinations) == 0 {
			return nil, fmt.Errorf("%w: prefix %q has no destinations", ErrInvalidRoute, route.Prefix)
		}
		for _, dest := range route.Destinations {
			parsed, err := url.Parse(dest.URL)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return nil, fmt.Errorf("%w: destination %q is not an absolute URL", ErrInvalidRoute, dest.URL)
			}
		}
	}

	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	cursors := make([]*atomic.Uint64, len(sorted))
	for i := range cursors {
		cursors[i] = &atomic.Uint64{}
	}

	return &tableState{routes: sorted, cursors: cursors}, nil
}
