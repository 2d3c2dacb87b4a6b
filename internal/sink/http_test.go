package sink

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{})
	require.NoError(t, err)
	return log
}

func makeDatapoints(n int) []datapoint.DataPoint {
	dps := make([]datapoint.DataPoint, n)
	now := time.Now()
	for i := range dps {
		dps[i] = datapoint.DataPoint{
			Type:  datapoint.TypeIP,
			ID:    "10.0.0.1",
			Attr:  datapoint.AttrOpenPorts,
			Value: 22,
			T1:    datapoint.Timestamp(now),
			T2:    datapoint.Timestamp(now),
			Src:   "test",
		}
	}
	return dps
}

func TestNewHTTPSinkHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	s, err := NewHTTPSink(HTTPConfig{BaseURL: healthy.URL + "/", Logger: testLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	_, err = NewHTTPSink(HTTPConfig{BaseURL: broken.URL, Logger: testLogger(t)})
	assert.Error(t, err)

	_, err = NewHTTPSink(HTTPConfig{BaseURL: "http://127.0.0.1:1", Logger: testLogger(t)})
	assert.Error(t, err)
}

func TestHTTPSinkBatching(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]datapoint.DataPoint
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "/datapoints", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var batch []datapoint.DataPoint
		assert.NoError(t, json.Unmarshal(body, &batch))
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewHTTPSink(HTTPConfig{BaseURL: srv.URL, Logger: testLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send(makeDatapoints(1201)))

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 500)
	assert.Len(t, batches[1], 500)
	assert.Len(t, batches[2], 201)
}

func TestHTTPSinkDropsFailedBatch(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewHTTPSink(HTTPConfig{BaseURL: srv.URL, Logger: testLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	// failures are logged and dropped, Send itself does not error
	assert.NoError(t, s.Send(makeDatapoints(3)))
	assert.Equal(t, 1, calls)
}
