package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestNewMessageKeysByPatient(t *testing.T) {
	msg, event, err := newMessage("patient.scored", "triage-service", map[string]interface{}{
		"patient_id": "P-001",
		"stage":      "G3b",
	})
	require.NoError(t, err)
	require.Equal(t, "P-001", string(msg.Key))
	require.NotEmpty(t, event.ID)

	decoded, err := decodeEvent(msg)
	require.NoError(t, err)
	require.Equal(t, event.ID, decoded.ID)
	require.Equal(t, "patient.scored", decoded.Type)
	require.Equal(t, "G3b", decoded.Data["stage"])
}

func TestNewMessageFallsBackToEventID(t *testing.T) {
	msg, event, err := newMessage("patient.record", "ckdctl", map[string]interface{}{"region": "BJ-LI"})
	require.NoError(t, err)
	require.Equal(t, event.ID, string(msg.Key))
}

func TestDecodeEventUsesHeaderType(t *testing.T) {
	event, err := decodeEvent(kafka.Message{
		Value:   []byte(`{"id":"e1","data":{"patient_id":"P-9"}}`),
		Headers: []kafka.Header{{Key: "event-type", Value: []byte("patient.record")}},
	})
	require.NoError(t, err)
	require.Equal(t, "patient.record", event.Type)
}

func TestDecodeEventRejects(t *testing.T) {
	_, err := decodeEvent(kafka.Message{Value: []byte(`not json`)})
	require.Error(t, err)

	_, err = decodeEvent(kafka.Message{Value: []byte(`{"id":"e2","type":"patient.record"}`)})
	require.Error(t, err)
}
