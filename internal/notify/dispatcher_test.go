package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/afi-assist/assist-gateway/internal/apperr"
	"github.com/afi-assist/assist-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(destinations map[string]string, timeout time.Duration) *Dispatcher {
	d := NewDispatcher(Config{
		Destinations: destinations,
		Timeout:      timeout,
		Source:       "AFI Assist Web Chat",
	})
	d.newID = func() string { return "delivery-1" }
	d.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return d
}

func TestDispatchPostsJSON(t *testing.T) {
	var gotBody map[string]any
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	d := newTestDispatcher(map[string]string{"wrap": srv.URL}, time.Second)
	res, err := d.Dispatch(context.Background(), domain.IntentWrap, map[string]string{"intent": "wrap"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "delivery-1", res.DeliveryID)
	assert.JSONEq(t, `{"accepted":true}`, string(res.Body))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "delivery-1", gotHeaders.Get(DeliveryIDHeader))
	assert.Equal(t, "wrap", gotBody["intent"])
}

func TestDispatchWrapsTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Accepted"))
	}))
	defer srv.Close()

	d := newTestDispatcher(map[string]string{"logistics": srv.URL}, time.Second)
	res, err := d.Dispatch(context.Background(), domain.IntentLogistics, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, `"Accepted"`, string(res.Body))
}

func TestDispatchUnconfiguredIsConfigurationError(t *testing.T) {
	d := newTestDispatcher(map[string]string{"wrap": "http://127.0.0.1:1"}, time.Second)

	_, err := d.Dispatch(context.Background(), domain.IntentEscalation, struct{}{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "escalation")
}

func TestDispatchNon2xxCarriesUpstreamBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"scenario is off"}`))
	}))
	defer srv.Close()

	d := newTestDispatcher(map[string]string{"escalation": srv.URL}, time.Second)
	_, err := d.Dispatch(context.Background(), domain.IntentEscalation, struct{}{})
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindDelivery, ae.Kind)
	assert.Equal(t, http.StatusBadGateway, ae.Status)
	assert.JSONEq(t, `{"message":"scenario is off"}`, string(ae.Details))
}

func TestDispatchTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := newTestDispatcher(map[string]string{"wrap": srv.URL}, 50*time.Millisecond)
	start := time.Now()
	_, err := d.Dispatch(context.Background(), domain.IntentWrap, struct{}{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindDelivery, apperr.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewDispatcherIgnoresUnknownDestinations(t *testing.T) {
	d := newTestDispatcher(map[string]string{"billing": "http://example.invalid", "wrap": "http://example.invalid/wrap"}, time.Second)

	_, ok := d.Destination(domain.IntentWrap)
	assert.True(t, ok)
	assert.Len(t, d.destinations, 1)
}

func TestTriggerSummarySkipsUnknownIntent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	d := newTestDispatcher(map[string]string{"wrap": srv.URL}, time.Second)
	res, err := d.TriggerSummary(context.Background(), SummaryRequest{Intent: "unknown", Summary: "x"})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, calls.Load())

	res, err = d.TriggerSummary(context.Background(), SummaryRequest{Intent: "none"})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, calls.Load())
}

func TestTriggerSummaryFillsDefaults(t *testing.T) {
	var got SummaryPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := newTestDispatcher(map[string]string{"product_request": srv.URL}, time.Second)
	res, err := d.TriggerSummary(context.Background(), SummaryRequest{
		Intent:  "Product_Request",
		Summary: "Client wants the XL basket",
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Nil(t, res.Body)

	assert.Equal(t, domain.IntentProductRequest, got.Intent)
	assert.Equal(t, "unknown@client.com", got.ClientEmail)
	assert.Equal(t, "Unknown Client", got.ClientName)
	assert.Equal(t, "AFI Assist Web Chat", got.Source)
	assert.Equal(t, "2026-03-01T09:30:00Z", got.Timestamp)
	assert.Equal(t, "Client wants the XL basket", got.Summary)
}
