package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_RoundTripsThroughJSON(t *testing.T) {
	data, err := json.Marshal(breakerTransitionPayload{Circuit: "router", Service: "svc", From: "closed", To: "open"})
	require.NoError(t, err)

	env := Envelope{ID: uuid.New(), Type: EventBreakerTransition, Source: "rrsc", Timestamp: time.Now(), Data: data}
	body, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, env.Type, decoded.Type)

	var payload breakerTransitionPayload
	require.NoError(t, json.Unmarshal(decoded.Data, &payload))
	assert.Equal(t, "open", payload.To)
}

func TestPublisher_IsConnectedDefaultsFalseUntilDialed(t *testing.T) {
	p := &Publisher{}
	assert.False(t, p.IsConnected())
	p.setConnected(true)
	assert.True(t, p.IsConnected())
}
