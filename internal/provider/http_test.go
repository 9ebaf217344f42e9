package provider

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dobrevit/formwaf/internal/werrors"
)

func TestHTTPReputation_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/203.0.113.7", r.URL.Path)
		w.Write([]byte(`{"score": 85.5}`))
	}))
	defer srv.Close()

	p := NewHTTPReputation(srv.URL, time.Second)
	score, err := p.Score(context.Background(), net.ParseIP("203.0.113.7"))
	require.NoError(t, err)
	assert.Equal(t, 85.5, score)
}

func TestHTTPReputation_FailureIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPReputation(srv.URL, time.Second)
	_, err := p.Score(context.Background(), net.ParseIP("203.0.113.7"))
	require.Error(t, err)
	assert.True(t, werrors.IsCode(err, werrors.ErrCodeProvider))
}

func TestHTTPGeoIP_Country(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"country": "DE"}`))
	}))
	defer srv.Close()

	p := NewHTTPGeoIP(srv.URL, time.Second)
	country, err := p.Country(context.Background(), net.ParseIP("203.0.113.7"))
	require.NoError(t, err)
	assert.Equal(t, "DE", country)
}
