package peerhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liaison/internal/domain"
	"liaison/internal/gateway"
	"liaison/pkg/platform/sentinel"
)

func TestSendRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/peer/inbound", r.URL.Path)

		var req gateway.PeerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ex-1", req.ExchangeID)

		_ = json.NewEncoder(w).Encode(gateway.PeerReply{
			Envelope: domain.SecureEnvelope{ExchangeID: req.ExchangeID, Payload: []byte("pong")},
		})
	}))
	defer server.Close()

	client := New()
	reply, err := client.Send(context.Background(), server.URL, gateway.PeerRequest{
		ExchangeID: "ex-1",
		Kind:       domain.KindPassthrough,
		Envelope:   domain.SecureEnvelope{Payload: []byte("ping")},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), reply.Envelope.Payload)
}

func TestSendUnreachableIsUnavailable(t *testing.T) {
	client := New()
	_, err := client.Send(context.Background(), "http://127.0.0.1:1", gateway.PeerRequest{ExchangeID: "ex-1"})
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}

func TestSendServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New().Send(context.Background(), server.URL, gateway.PeerRequest{ExchangeID: "ex-1"})
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}

func TestSendClientRejectionIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := New().Send(context.Background(), server.URL, gateway.PeerRequest{ExchangeID: "ex-1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, sentinel.ErrUnavailable))
}
