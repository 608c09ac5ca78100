package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tansu-cloud/gateway/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(&models.RouteTableRecord{})
	assert.NoError(t, err)

	return db
}

func route(prefix string, urls ...string) Route {
	dests := make([]Destination, len(urls))
	for i, u := range urls {
		dests[i] = Destination{URL: u}
	}
	return Route{Prefix: prefix, Destinations: dests}
}

func TestTable_Resolve(t *testing.T) {
	table := NewTable(nil)
	assert.NoError(t, table.Replace([]Route{
		route("/", "http://fallback:8000"),
		route("/orders", "http://orders:8000"),
		route("/orders/archive", "http://archive:8000"),
	}))

	t.Run("longest prefix wins", func(t *testing.T) {
		dest, ok := table.Resolve("/orders/archive/2023")
		assert.True(t, ok)
		assert.Equal(t, "http://archive:8000", dest.URL)

		dest, ok = table.Resolve("/orders/42")
		assert.True(t, ok)
		assert.Equal(t, "http://orders:8000", dest.URL)

		dest, ok = table.Resolve("/anything")
		assert.True(t, ok)
		assert.Equal(t, "http://fallback:8000", dest.URL)
	})

	t.Run("no match without a fallback route", func(t *testing.T) {
		empty := NewTable(nil)
		_, ok := empty.Resolve("/orders")
		assert.False(t, ok)
	})

	t.Run("round robin rotates destinations", func(t *testing.T) {
		table := NewTable(nil)
		assert.NoError(t, table.Replace([]Route{route("/api", "http://a:1", "http://b:1")}))

		first, _ := table.Resolve("/api/x")
		second, _ := table.Resolve("/api/x")
		third, _ := table.Resolve("/api/x")
		assert.NotEqual(t, first.URL, second.URL)
		assert.Equal(t, first.URL, third.URL)
	})
}

func TestTable_ReplaceAndRollback(t *testing.T) {
	tableA := []Route{route("/a", "http://a:1")}
	tableB := []Route{route("/b", "http://b:1")}

	t.Run("rollback restores the table prior to the last replace", func(t *testing.T) {
		table := NewTable(nil)
		assert.NoError(t, table.Replace(tableA))
		assert.NoError(t, table.Replace(tableB))
		assert.NoError(t, table.Rollback())

		routes := table.Routes()
		assert.Len(t, routes, 1)
		assert.Equal(t, "/a", routes[0].Prefix)
	})

	t.Run("rollback without a snapshot fails", func(t *testing.T) {
		table := NewTable(nil)
		assert.ErrorIs(t, table.Rollback(), ErrNoSnapshot)
	})

	t.Run("rollback can be undone once", func(t *testing.T) {
		table := NewTable(nil)
		assert.NoError(t, table.Replace(tableA))
		assert.NoError(t, table.Replace(tableB))
		assert.NoError(t, table.Rollback())
		assert.NoError(t, table.Rollback())
		assert.Equal(t, "/b", table.Routes()[0].Prefix)
	})

	t.Run("invalid tables are rejected before taking effect", func(t *testing.T) {
		table := NewTable(nil)
		assert.NoError(t, table.Replace(tableA))

		assert.ErrorIs(t, table.Replace([]Route{route("no-slash", "http://x:1")}), ErrInvalidRoute)
		assert.ErrorIs(t, table.Replace([]Route{{Prefix: "/x"}}), ErrInvalidRoute)
		assert.ErrorIs(t, table.Replace([]Route{route("/x", "not a url")}), ErrInvalidRoute)

		// Active table untouched by failed replaces.
		assert.Equal(t, "/a", table.Routes()[0].Prefix)
	})
}

func TestTable_Persistence(t *testing.T) {
	db := setupTestDB(t)

	table := NewTable(db)
	assert.NoError(t, table.Replace([]Route{route("/orders", "http://orders:8000")}))

	// A new table instance (fresh process) reloads the persisted document.
	reloaded := NewTable(db)
	dest, ok := reloaded.Resolve("/orders/1")
	assert.True(t, ok)
	assert.Equal(t, "http://orders:8000", dest.URL)
}
