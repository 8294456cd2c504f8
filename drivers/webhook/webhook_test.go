package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	replicator "github.com/user/s3db-replicator"
)

func TestValidateConfigRequiresURL(t *testing.T) {
	d := New(Config{}, nil)
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Errors, "url is required")
}

func TestValidateConfigRejectsBadAuthType(t *testing.T) {
	d := New(Config{URL: "http://example.com", AuthType: "bogus"}, nil)
	vr := d.ValidateConfig()
	assert.Contains(t, vr.Errors, `invalid authType "bogus"`)
}

func TestRetriesOnServiceUnavailableThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{URL: srv.URL, MaxRetries: 5, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	result, err := d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "1"}, "1", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	status := d.GetStatus()
	assert.EqualValues(t, 2, status.Extra["retriedRequests"])
}

func TestZeroRetriesMeansExactlyOneAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := New(Config{URL: srv.URL, MaxRetries: 0, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	_, _ = d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "1"}, "1", nil)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestShouldReplicateResourceDefaultsToAllowAll(t *testing.T) {
	d := New(Config{URL: "http://example.com"}, nil)
	assert.True(t, d.ShouldReplicateResource("anything", nil))
}

func TestShouldReplicateResourceHonorsAllowList(t *testing.T) {
	d := New(Config{URL: "http://example.com", Resources: map[string]bool{"orders": true}}, nil)
	assert.True(t, d.ShouldReplicateResource("orders", nil))
	assert.False(t, d.ShouldReplicateResource("users", nil))
}
