package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rendezvous/pkg/types"
)

func TestTranslate_QRScan(t *testing.T) {
	deliveries, err := Translate(ChannelQRScan, `{"event_type":"qr_scan","player_id":"alice","qr_code":"qr-42"}`)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "alice", deliveries[0].Key)
	assert.Equal(t, types.QRScanEvent{Event: types.EventQRScan, PlayerID: "alice", QRCode: "qr-42"}, deliveries[0].Event)
}

func TestTranslate_PlayerInteractionReachesBothPlayers(t *testing.T) {
	deliveries, err := Translate(ChannelPlayerInteraction,
		`{"player1_id":"alice","player2_id":"bob","interaction_type":"trade","success":true,"message":"done"}`)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "alice", deliveries[0].Key)
	assert.Equal(t, "bob", deliveries[1].Key)

	event := deliveries[1].Event.(types.PlayerInteractionEvent)
	assert.Equal(t, types.EventPlayerInteraction, event.Event)
	assert.True(t, event.Success)
	require.NotNil(t, event.Message)
	assert.Equal(t, "done", *event.Message)
}

func TestTranslate_EventTypeOverridesChannel(t *testing.T) {
	deliveries, err := Translate("game_events", `{"event_type":"qr_scan","player_id":"alice","qr_code":"x"}`)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestTranslate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		payload string
		want    error
	}{
		{"not json", ChannelQRScan, `nope`, ErrMalformedPayload},
		{"missing qr code", ChannelQRScan, `{"player_id":"alice"}`, ErrMalformedPayload},
		{"bad player id", ChannelQRScan, `{"player_id":"a b","qr_code":"x"}`, ErrMalformedPayload},
		{"missing second player", ChannelPlayerInteraction, `{"player1_id":"alice","interaction_type":"trade"}`, ErrMalformedPayload},
		{"unknown channel", "other", `{}`, ErrUnknownChannel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Translate(tt.channel, tt.payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type captureNotifier struct {
	mu   sync.Mutex
	keys []string
}

func (c *captureNotifier) Notify(key string, event interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	return nil
}

func TestRelay_HandleForwardsAndDrops(t *testing.T) {
	notifier := &captureNotifier{}
	relay := NewRelay(Config{}, notifier, nil)

	relay.Handle(ChannelPlayerInteraction, `{"player1_id":"alice","player2_id":"bob","interaction_type":"duel","success":false}`)
	relay.Handle(ChannelQRScan, `garbage`)

	assert.Equal(t, []string{"alice", "bob"}, notifier.keys)
}

func TestRelay_RunRequiresURL(t *testing.T) {
	relay := NewRelay(Config{}, &captureNotifier{}, nil)
	assert.ErrorIs(t, relay.Run(context.Background()), ErrNoURL)
}
