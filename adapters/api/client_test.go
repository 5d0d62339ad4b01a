package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"vitalsdash/domain/vitals"
	"vitalsdash/internal"
	"vitalsdash/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const heartRatePayload = `[
  {
    "_id": "65a1f0c2e4b0a1b2c3d4e5f6",
    "metric": "Heart Rate",
    "unit": "BPM",
    "totalAverage": 74.2,
    "totalMin": 55,
    "totalMax": 120,
    "monthlyData": [
      {"month": "January", "average": 72, "min": 58, "max": 110,
       "readings": [{"date": "2024-01-05T08:00:00Z", "value": 70}, {"date": "2024-01-20T08:00:00Z", "value": 74}]},
      {"month": "February", "average": 75, "min": 55, "max": 120, "readings": []}
    ],
    "createdAt": "2024-03-01T00:00:00Z"
  }
]`

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := DefaultClientConfig(srv.URL)
	cfg.Token = "secret"
	cfg.RateLimit = 600
	client, err := NewClient(cfg, internal.NewLogger(internal.LogLevelError))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestClientFetch_DecodesDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/heartRate/heartRates/", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(heartRatePayload))
	}))
	defer srv.Close()

	docs, err := newTestClient(t, srv).Fetch(context.Background(), vitals.MetricHeartRate)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, "65a1f0c2e4b0a1b2c3d4e5f6", doc.ID)
	assert.Equal(t, "BPM", doc.Unit)
	require.NotNil(t, doc.Totals)
	assert.Equal(t, 74.2, doc.Totals.TotalAverage)
	require.Len(t, doc.MonthlyData, 2)
	assert.Equal(t, "January", doc.MonthlyData[0].Month)
	assert.Len(t, doc.MonthlyData[0].Readings, 2)
	assert.Equal(t, "2024-01-20T08:00:00Z", doc.MonthlyData[0].Readings[1].Date)
	assert.Empty(t, doc.MonthlyData[1].Readings)
	assert.Equal(t, []float64{72, 75}, doc.Averages())
}

func TestClientFetch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Fetch(context.Background(), vitals.MetricOxygenSaturation)
	require.Error(t, err)
	assert.Equal(t, errors.CodeExternalService, errors.GetCode(err))
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "database offline")
}

func TestClientFetch_InvalidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "not an array"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Fetch(context.Background(), vitals.MetricBodyTemperature)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestClientFetch_ContextCanceled(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cfg := DefaultClientConfig(srv.URL)
	cfg.RateLimit = 1
	client, err := NewClient(cfg, internal.NewLogger(internal.LogLevelError))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Fetch(context.Background(), vitals.MetricHeartRate)
	require.NoError(t, err)

	// The single token is spent; the next call must give up with the context.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Fetch(ctx, vitals.MetricHeartRate)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(DefaultClientConfig("not a url"), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestDecodeDocuments(t *testing.T) {
	t.Run("id variants and epoch dates", func(t *testing.T) {
		docs, err := DecodeDocuments([]byte(`[
			{"id": "plain", "monthlyData": []},
			{"_id": {"$oid": "abc123"}, "monthlyData": [
				{"month": "May", "average": 97, "min": 95, "max": 99,
				 "readings": [{"date": 1714521600000, "value": 97.5}]}
			]}
		]`))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "plain", docs[0].ID)
		assert.Nil(t, docs[0].Totals)
		assert.Equal(t, "abc123", docs[1].ID)
		assert.Equal(t, "2024-05-01T00:00:00Z", docs[1].MonthlyData[0].Readings[0].Date)
	})

	t.Run("nested array is flattened", func(t *testing.T) {
		docs, err := DecodeDocuments([]byte(`[[{"_id": "a"}, {"_id": "b"}]]`))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "b", docs[1].ID)
		assert.NotNil(t, docs[0].MonthlyData)
	})

	t.Run("empty array", func(t *testing.T) {
		docs, err := DecodeDocuments([]byte(`[]`))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("non numeric reading", func(t *testing.T) {
		_, err := DecodeDocuments([]byte(`[{"_id": "a", "monthlyData": [{"readings": [{"date": "2024-01-01", "value": "high"}]}]}]`))
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
		assert.Contains(t, err.Error(), "readings[0].value")
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := DecodeDocuments([]byte(`[{`))
		assert.Error(t, err)
	})
}
