package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerMap(t *testing.T, event Event) map[string]string {
	t.Helper()
	msg, err := Message(event)
	require.NoError(t, err)
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestMessageCarriesTypeAndRun(t *testing.T) {
	event := Event{
		Type:  EventCaseIngested,
		Key:   "case-001",
		RunID: "run-1",
		Value: map[string]int{"documents": 2},
	}
	msg, err := Message(event)
	require.NoError(t, err)
	assert.Equal(t, "case-001", string(msg.Key))
	assert.JSONEq(t, `{"documents":2}`, string(msg.Value))
	assert.Equal(t, map[string]string{
		HeaderEventType:   EventCaseIngested,
		HeaderContentType: "application/json",
		HeaderRunID:       "run-1",
	}, headerMap(t, event))
}

func TestMessageOmitsEmptyRunID(t *testing.T) {
	h := headerMap(t, Event{Type: EventCaseIngested, Key: "k", Value: 1})
	assert.NotContains(t, h, HeaderRunID)
}

func TestMessageRejectsBadEvents(t *testing.T) {
	_, err := Message(Event{Key: "k", Value: 1})
	assert.ErrorContains(t, err, "no type")

	_, err = Message(Event{Type: EventCaseIngested, Key: "k", Value: make(chan int)})
	assert.Error(t, err)
}
