package mq

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload_RoundTripThroughEnvelope(t *testing.T) {
	want := BatchRequestedPayload{
		BatchID:                 uuid.New(),
		FlowID:                  uuid.New(),
		Rows:                    [][]string{{"a", "1"}, {"b", "2"}},
		RepeatTimes:             2,
		ConcurrencyLimit:        3,
		VariableIDToColumnIndex: map[string]int{"start/out/x": 1},
	}

	body, err := json.Marshal(newMessage(MessageTypeBatchRequested, want))
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, MessageTypeBatchRequested, msg.Type)
	assert.NotEmpty(t, msg.ID)

	got, err := ParsePayload[BatchRequestedPayload](&msg)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParsePayload_WrongShape(t *testing.T) {
	msg := &Message{Payload: "not an object"}
	_, err := ParsePayload[BatchRequestedPayload](msg)
	assert.Error(t, err)
}
