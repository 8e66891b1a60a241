package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKeyedByBook(t *testing.T) {
	bookID := uuid.New()
	evt, err := New(TypeEntriesSaved, bookID, "lender", EntriesSaved{Serials: []int{1, 2}, Balance: "850"})
	require.NoError(t, err)

	msg, err := Message(evt)
	require.NoError(t, err)
	assert.Equal(t, bookID.String(), string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TypeEntriesSaved, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	var payload EntriesSaved
	require.NoError(t, json.Unmarshal(decoded.Payload, &payload))
	assert.Equal(t, []int{1, 2}, payload.Serials)
}

func TestRecorderAndLogPublisher(t *testing.T) {
	evt, err := New(TypeSignatureChanged, uuid.New(), "borrower", SignatureChanged{Serial: 3, Action: "approve", Status: "approved"})
	require.NoError(t, err)

	var rec Recorder
	require.NoError(t, rec.Publish(context.Background(), evt))
	require.NoError(t, NewLogPublisher(nil).Publish(context.Background(), evt))
	assert.Len(t, rec.Events(), 1)
	assert.Equal(t, TypeSignatureChanged, rec.Events()[0].Type)
}
