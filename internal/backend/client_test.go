package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sakhivox/internal/form"
	"sakhivox/pkg/remote"
)

func TestRecentLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logs", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"logs":[{"score":720,"risk":"Low Risk ✅"},{"score":410,"risk":"High Risk ⚠️"}],"count":2}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Token: "secret", Doer: srv.Client()})
	logs, err := c.RecentLogs(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 720, logs[0].Score)
	assert.Equal(t, "High Risk ⚠️", logs[1].Risk)
}

func TestRecentLogsNestedInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"logs":[{"timestamp":"2026-10-01T09:30:00","input":{"savings":3000,"attendance":90,"repayment":85},"score":72,"risk":"Low Risk ✅"}],"count":1}`))
	}))
	defer srv.Close()

	logs, err := New(Options{BaseURL: srv.URL, Doer: srv.Client()}).RecentLogs(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 72, logs[0].Score)
	assert.Equal(t, form.Metrics{Savings: 3000, Attendance: 90, Repayment: 85}, logs[0].Input)
	assert.Equal(t, "2026-10-01T09:30:00", logs[0].Timestamp)
}

func TestRecentLogsTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"logs":[{"score":1},{"score":2},{"score":3}],"count":3}`))
	}))
	defer srv.Close()

	logs, err := New(Options{BaseURL: srv.URL, Doer: srv.Client()}).RecentLogs(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestRecentLogsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Database not connected", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL, Doer: srv.Client()}).RecentLogs(context.Background(), 5)
	var apiErr *remote.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)

		var m form.Metrics
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		assert.Equal(t, form.Metrics{Savings: 3000, Attendance: 90, Repayment: 80}, m)

		_, _ = w.Write([]byte(`{"score":742,"risk":"Low Risk ✅","risk_color":"green","features":{"savings":3000},"timestamp":"2024-01-01T00:00:00"}`))
	}))
	defer srv.Close()

	p, err := New(Options{BaseURL: srv.URL, Doer: srv.Client()}).
		Predict(context.Background(), form.Metrics{Savings: 3000, Attendance: 90, Repayment: 80})
	require.NoError(t, err)
	assert.Equal(t, 742, p.Score)
	assert.Equal(t, "green", p.RiskColor)
	assert.Equal(t, 3000.0, p.Features["savings"])
}
