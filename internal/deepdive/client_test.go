package deepdive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/screener/internal/testutil"
)

func TestHTTPEnricherDecodesReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/deep-dive", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "7203", req["symbol"])
		assert.Equal(t, "2026-08-04", req["date"])

		_, _ = w.Write([]byte(`{
			"summary": "Breakout with volume confirmation.",
			"confidence": 70,
			"entry_idea": "Buy the break.",
			"stop_idea": "Exit below support.",
			"take_profit_idea": "Trail above target.",
			"tags": ["momentum"],
			"critical_risk": false
		}`))
	}))
	defer server.Close()

	enricher := NewHTTPEnricher(server.URL, 5*time.Second, testutil.Logger())

	report, err := enricher.Enrich(context.Background(), "7203", testDate(t))
	require.NoError(t, err)
	assert.Equal(t, "7203", report.Symbol)
	assert.Equal(t, 70, report.Confidence)
	assert.Equal(t, []string{"momentum"}, report.Tags)
	assert.NoError(t, report.Validate())
}

func TestHTTPEnricherPropagatesBackendErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	enricher := NewHTTPEnricher(server.URL, 5*time.Second, testutil.Logger())

	_, err := enricher.Enrich(context.Background(), "7203", testDate(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
