package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaling-backend/internal/domain"
	"signaling-backend/internal/transport/transporttest"
)

type mapDirectory map[string]domain.ConnectionRecord

func (d mapDirectory) FindByUser(userID string) (domain.ConnectionRecord, bool) {
	rec, ok := d[userID]
	return rec, ok
}

type relayCounter struct {
	delivered, dropped int
}

func (c *relayCounter) RecordSignalRelayed(_ string, delivered bool) {
	if delivered {
		c.delivered++
	} else {
		c.dropped++
	}
}

func TestRelay_ForwardsPayloadVerbatim(t *testing.T) {
	dir := mapDirectory{"bob": {UserID: "bob", ConnectionHandle: "h-bob", IsOnline: true}}
	rec := transporttest.NewRecorder("h-bob")
	counter := &relayCounter{}
	r := NewRelay(dir, rec, counter)

	raw := json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122260223 10.0.0.1 54321 typ host","sdpMid":"0","extra":[1,2,3]}`)

	ok := r.Relay(domain.EventIceCandidate, raw, "bob")

	require.True(t, ok)
	msgs := rec.For("h-bob", domain.EventIceCandidate)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, string(raw), string(msgs[0].Data))
	assert.Equal(t, 1, counter.delivered)
}

func TestRelay_TrickleDeliversEveryMessage(t *testing.T) {
	dir := mapDirectory{"bob": {UserID: "bob", ConnectionHandle: "h-bob", IsOnline: true}}
	rec := transporttest.NewRecorder("h-bob")
	r := NewRelay(dir, rec, nil)

	for i := 0; i < 5; i++ {
		assert.True(t, r.Relay(domain.EventIceCandidate, domain.IceCandidate{Candidate: json.RawMessage(`"c"`)}, "bob"))
	}

	assert.Equal(t, 5, rec.Count("h-bob", domain.EventIceCandidate))
}

func TestRelay_OfflineOrUnknownNotDelivered(t *testing.T) {
	dir := mapDirectory{"carol": {UserID: "carol", IsOnline: false}}
	rec := transporttest.NewRecorder("h-carol")
	counter := &relayCounter{}
	r := NewRelay(dir, rec, counter)

	assert.False(t, r.Relay(domain.EventIceCandidate, nil, "carol"))
	assert.False(t, r.Relay(domain.EventIceCandidate, nil, "nobody"))
	assert.Empty(t, rec.Messages())
	assert.Equal(t, 2, counter.dropped)
	assert.False(t, r.Online("carol"))
}

func TestRelay_ClosedConnectionNotDelivered(t *testing.T) {
	dir := mapDirectory{"bob": {UserID: "bob", ConnectionHandle: "h-gone", IsOnline: true}}
	rec := transporttest.NewRecorder()
	r := NewRelay(dir, rec, nil)

	assert.False(t, r.Relay(domain.EventCallAccepted, domain.CallAccepted{}, "bob"))
}
