package routing

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func probeTable(t *testing.T, urls ...string) *Table {
	t.Helper()
	table := NewTable(nil)
	assert.NoError(t, table.Replace([]Route{route("/", urls...)}))
	return table
}

func findResult(results []DestinationHealth, url string) DestinationHealth {
	for _, r := range results {
		if r.URL == url {
			return r
		}
	}
	return DestinationHealth{}
}

func TestProber_Classification(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	authed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer authed.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	refused := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	refused.Close() // keep the URL, kill the listener

	table := probeTable(t, up.URL, authed.URL, down.URL, slow.URL, refused.URL)
	prober := NewProber(table, nil, 100*time.Millisecond)

	results := prober.ProbeAll()
	assert.Len(t, results, 5)

	assert.Equal(t, StatusUp, findResult(results, up.URL).Status)
	assert.Equal(t, http.StatusOK, findResult(results, up.URL).Code)

	// Auth challenges mean the service is alive.
	assert.Equal(t, StatusUp, findResult(results, authed.URL).Status)

	assert.Equal(t, StatusDown, findResult(results, down.URL).Status)

	// Latency past half the probe timeout is degraded.
	assert.Equal(t, StatusDegraded, findResult(results, slow.URL).Status)

	assert.Equal(t, StatusDown, findResult(results, refused.URL).Status)
	assert.NotEmpty(t, findResult(results, refused.URL).Message)
}

func TestProber_Timeout(t *testing.T) {
	stuck := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer stuck.Close()

	prober := NewProber(probeTable(t, stuck.URL), nil, 20*time.Millisecond)

	results := prober.ProbeAll()
	assert.Equal(t, StatusUnknown, results[0].Status, "a timed-out probe is inconclusive, not down")
}

func TestProber_DeduplicatesDestinations(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	table := NewTable(nil)
	assert.NoError(t, table.Replace([]Route{
		route("/a", srv.URL),
		route("/b", srv.URL),
	}))

	prober := NewProber(table, nil, time.Second)
	results := prober.ProbeAll()

	assert.Len(t, results, 1)
	assert.Equal(t, 1, hits)
}

func TestProber_ResultsBeforeFirstRun(t *testing.T) {
	prober := NewProber(NewTable(nil), nil, time.Second)
	assert.Nil(t, prober.Results())
}

func TestProber_TracksTransitions(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	prober := NewProber(probeTable(t, srv.URL), nil, time.Second)

	prober.ProbeAll()
	assert.Equal(t, StatusUp, prober.seen[srv.URL])

	healthy = false
	prober.ProbeAll()
	assert.Equal(t, StatusDown, prober.seen[srv.URL])

	results := prober.Results()
	assert.Equal(t, StatusDown, results[0].Status)
}
