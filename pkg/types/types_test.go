package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveChannels(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   []string
	}{
		{"csv", []string{"rooms,queue"}, []string{"rooms", "queue"}},
		{"repeated", []string{"rooms", "queue"}, []string{"rooms", "queue"}},
		{"mixed case and whitespace", []string{" Rooms , PROGRESS "}, []string{"rooms", "progress"}},
		{"unknown entries dropped", []string{"rooms,grades,queue"}, []string{"rooms", "queue"}},
		{"duplicates collapse", []string{"queue,queue", "queue"}, []string{"queue"}},
		{"empty defaults", nil, []string{"rooms", "progress"}},
		{"only invalid defaults", []string{"grades,,"}, []string{"rooms", "progress"}},
		{"ta_accept allowed", []string{"ta_accept"}, []string{"ta_accept"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveChannels(tt.values))
		})
	}
}

func TestChangeChannels(t *testing.T) {
	assert.Equal(t, []string{"rooms", "queue"}, ChangeChannels([]string{"rooms", "ta_accept", "queue"}))
	assert.Empty(t, ChangeChannels([]string{"ta_accept"}))
}

func TestHasChannel(t *testing.T) {
	channels := []string{"rooms", "ta_accept"}
	assert.True(t, HasChannel(channels, "ta_accept"))
	assert.False(t, HasChannel(channels, "queue"))
}

func TestParseID(t *testing.T) {
	assert.Equal(t, int64(42), ParseID("42"))
	assert.Equal(t, int64(42), ParseID(" 42 "))
	assert.Equal(t, int64(0), ParseID("abc"))
	assert.Equal(t, int64(0), ParseID("-5"))
	assert.Equal(t, int64(0), ParseID(""))
}

func TestParseIDList(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, ParseIDList([]string{"1,2", "3"}))
	assert.Equal(t, []int64{5}, ParseIDList([]string{"5,5", "x", "-1", "0"}))
	assert.Nil(t, ParseIDList([]string{"", "abc"}))
}

func TestNewEventShape(t *testing.T) {
	course := int64(3)
	ev := ChangeEvent{ID: 7, Channel: ChannelQueue, RefID: 42, CourseID: &course, TS: 1700000000}
	data, err := json.Marshal(NewEvent(ev.Channel, ev))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "event", decoded["type"])
	assert.Equal(t, "queue", decoded["event"])

	inner := decoded["data"].(map[string]any)
	assert.Equal(t, float64(7), inner["id"])
	assert.Equal(t, float64(42), inner["ref_id"])
	// payload omitted when absent
	_, hasPayload := inner["payload"]
	assert.False(t, hasPayload)
}

func TestTAEventNullAssignmentID(t *testing.T) {
	data, err := json.Marshal(TAEvent{QueueID: 1, UserID: 2, TAUserID: 3, TAName: "Ada", StartedAt: "2026-01-02 10:00:00"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"assignment_id":null`)
}
