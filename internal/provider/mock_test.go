package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_CreateSessionThenTriggerResponse(t *testing.T) {
	m := NewMock(map[string]string{"expert": "onyx"}, map[string]float64{"expert": 0.3}, Capability{SupportsInBandSearch: false})

	var gotAudio, gotDone bool
	cb := Callbacks{
		OnAudioData:    func(string) { gotAudio = true },
		OnResponseDone: func() { gotDone = true },
	}

	res, err := m.CreateSession(context.Background(), "room1", SessionConfig{}, cb)
	require.NoError(t, err)
	assert.True(t, res.Connected)
	assert.True(t, m.IsSessionConnected("room1"))

	m.TriggerResponse("room1")
	assert.True(t, gotAudio)
	assert.True(t, gotDone)
}

func TestMock_CloseSessionDisconnects(t *testing.T) {
	m := NewMock(nil, nil, Capability{})
	_, err := m.CreateSession(context.Background(), "room1", SessionConfig{}, Callbacks{})
	require.NoError(t, err)

	m.CloseSession("room1")
	assert.False(t, m.IsSessionConnected("room1"))
}

func TestMock_GetVoiceAndTemperature_FallsBackToDefault(t *testing.T) {
	m := NewMock(map[string]string{"expert": "onyx"}, map[string]float64{"expert": 0.3}, Capability{})

	assert.Equal(t, "onyx", m.GetVoice("expert"))
	assert.Equal(t, "alloy", m.GetVoice("unknown"))

	assert.Equal(t, 0.3, m.GetTemperature("expert"))
	assert.Equal(t, 0.8, m.GetTemperature("unknown"))
}

func TestMock_GetTemperature_Clamped(t *testing.T) {
	m := NewMock(nil, map[string]float64{"wild": 5.0}, Capability{})
	assert.Equal(t, 2.0, m.GetTemperature("wild"))
}

func TestMock_CancelResponse_FalseWhenNoSession(t *testing.T) {
	m := NewMock(nil, nil, Capability{})
	assert.False(t, m.CancelResponse("room1"))
}
