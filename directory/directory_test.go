package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/cartflow"
)

func newCustomerServer(t *testing.T, customers map[string]cartflow.Customer) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/customers/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		customer, ok := customers[strings.TrimPrefix(r.URL.Path, "/customers/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(customer)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientLookup(t *testing.T) {
	want := cartflow.Customer{ID: "customer-1", Name: "Jane", Email: "jane@example.com"}
	srv := newCustomerServer(t, map[string]cartflow.Customer{"customer-1": want})

	client := NewClient(srv.URL, srv.Client())
	got, err := client.Lookup(context.Background(), "customer-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientLookupNotFoundIsTransient(t *testing.T) {
	srv := newCustomerServer(t, nil)

	client := NewClient(srv.URL, srv.Client())
	_, err := client.Lookup(context.Background(), "customer-404")
	require.Error(t, err)
	assert.ErrorContains(t, err, "not found")
	assert.Equal(t, cartflow.KindTransient, cartflow.KindOf(err),
		"a missing record is propagation lag, retried, never a rejection")
}

func TestClientLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, srv.Client())
	_, err := client.Lookup(context.Background(), "customer-1")
	assert.ErrorContains(t, err, "status 500")
}

func TestStaticLookup(t *testing.T) {
	want := cartflow.Customer{ID: "customer-1", Email: "jane@example.com"}
	dir := NewStatic(want)

	got, err := dir.Lookup(context.Background(), "customer-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = dir.Lookup(context.Background(), "customer-2")
	assert.ErrorContains(t, err, "not found")
}
