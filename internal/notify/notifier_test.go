package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/screener/internal/jobs"
	"github.com/aristath/screener/internal/testutil"
)

func eventDate(t *testing.T) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", "2026-08-04")
	require.NoError(t, err)
	return d
}

func TestRouterDeliversAndRecords(t *testing.T) {
	var (
		mu       sync.Mutex
		received []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		received = append(received, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := NewRepository(testutil.NewDB(t))
	router := NewRouter(server.URL, repo, testutil.Logger())

	router.Emit(context.Background(), Event{
		Kind:    KindJobCompleted,
		Date:    eventDate(t),
		Family:  jobs.FamilyClose,
		Session: jobs.SessionClose,
	})

	mu.Lock()
	require.Len(t, received, 1)
	assert.Equal(t, "job_completed", received[0]["kind"])
	assert.Equal(t, "2026-08-04", received[0]["date"])
	mu.Unlock()

	count, err := repo.CountForDate(eventDate(t))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRouterRecordsDeliveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	repo := NewRepository(testutil.NewDB(t))
	router := NewRouter(server.URL, repo, testutil.Logger())

	// Must not panic or propagate; the failure lands in the log table.
	router.Emit(context.Background(), Event{Kind: KindJobFailed, Date: eventDate(t)})

	count, err := repo.CountForDate(eventDate(t))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRouterWithoutWebhookOnlyRecords(t *testing.T) {
	repo := NewRepository(testutil.NewDB(t))
	router := NewRouter("", repo, testutil.Logger())

	router.Emit(context.Background(), Event{Kind: KindHolidaySkip, Date: eventDate(t)})

	count, err := repo.CountForDate(eventDate(t))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
