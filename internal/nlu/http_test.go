package nlu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sakhivox/internal/form"
)

func TestHTTPResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voice/intent", r.URL.Path)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "set savings to 3000", req.Text)
		assert.Equal(t, "en", req.Language)
		assert.Equal(t, 1000.0, req.Metrics.Savings)

		_, _ = w.Write([]byte(`{"reply":"Setting savings to 3000","action":{"type":"set_field","field":"savings","value":3000}}`))
	}))
	defer srv.Close()

	r := NewHTTP(HTTPOptions{BaseURL: srv.URL, Doer: srv.Client()})
	res, err := r.Resolve(context.Background(), Request{
		Text:     "set savings to 3000",
		Language: "en",
		Metrics:  form.Metrics{Savings: 1000, Attendance: 80, Repayment: 70},
	})
	require.NoError(t, err)
	assert.Equal(t, "Setting savings to 3000", res.Reply)
	assert.Equal(t, SetField{Field: form.Savings, Value: 3000}, res.Action)
}

func TestHTTPResolveMalformedAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reply":"ok","action":{"type":"fly"}}`))
	}))
	defer srv.Close()

	res, err := NewHTTP(HTTPOptions{BaseURL: srv.URL, Doer: srv.Client()}).Resolve(context.Background(), Request{Text: "fly"})
	require.NoError(t, err)
	m, ok := res.Action.(MalformedAction)
	require.True(t, ok)
	assert.ErrorIs(t, m.Err, ErrMalformedAction)
	assert.JSONEq(t, `{"type":"fly"}`, string(m.Raw))
}

func TestHTTPResolveMissingAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reply":"Hello!"}`))
	}))
	defer srv.Close()

	res, err := NewHTTP(HTTPOptions{BaseURL: srv.URL, Doer: srv.Client()}).Resolve(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, None{}, res.Action)
}

func TestHTTPResolveFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTP(HTTPOptions{BaseURL: srv.URL, Doer: srv.Client()}).Resolve(context.Background(), Request{Text: "hi"})
	assert.ErrorIs(t, err, ErrResolutionFailed)
}

func TestDecodeResultBadEnvelope(t *testing.T) {
	_, err := decodeResult([]byte(`not json`))
	assert.ErrorIs(t, err, ErrResolutionFailed)
}
