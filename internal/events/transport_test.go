package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInMemoryTransportRoundTripsEnvelope checks that serialize then
// deserialize yields an equal payload under the reference codecs.
func TestInMemoryTransportRoundTripsEnvelope(t *testing.T) {
	tr := NewInMemoryTransport(nil)
	e := NewEvent("order.placed", map[string]any{"id": 7})
	e.CorrelationID = "corr-1"

	ct, body, headers, err := tr.Serialize(e)
	require.NoError(t, err)
	require.NoError(t, tr.Publish(e, tr.Route(e), ct, body, headers))

	got, err := tr.Deserialize(ct, body, headers)
	require.NoError(t, err)
	assert.Equal(t, e.Payload, got.Payload)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "corr-1", got.CorrelationID)
}

func TestInMemoryTransportRejectsEmptyType(t *testing.T) {
	tr := NewInMemoryTransport(nil)
	_, _, _, err := tr.Serialize(Event{})
	require.Error(t, err)
}

func TestInMemoryTransportRejectsUnknownContentType(t *testing.T) {
	tr := NewInMemoryTransport(nil)
	_, err := tr.Deserialize("application/json", []byte("x"), nil)
	require.Error(t, err)
}

func TestInMemoryTransportDefaultRouterUsesSingleQueue(t *testing.T) {
	tr := NewInMemoryTransport(nil)
	d := tr.Route(NewEvent("any", nil))
	assert.Equal(t, DestinationQueue, d.Kind)
	assert.Equal(t, "default", d.Name)
}
