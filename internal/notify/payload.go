package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"rendezvous/pkg/types"
)

// Store notification channels relayed to players
const (
	ChannelQRScan            = "qr_scan"
	ChannelPlayerInteraction = "player_interaction"
)

// Payload errors
var (
	ErrMalformedPayload = errors.New("malformed notification payload")
	ErrUnknownChannel   = errors.New("unknown notification channel")
)

// Delivery is one push produced from a store notification
type Delivery struct {
	Key   string
	Event interface{}
}

type qrScanPayload struct {
	EventType string `json:"event_type"`
	PlayerID  string `json:"player_id"`
	QRCode    string `json:"qr_code"`
}

type interactionPayload struct {
	EventType       string  `json:"event_type"`
	Player1ID       string  `json:"player1_id"`
	Player2ID       string  `json:"player2_id"`
	InteractionType string  `json:"interaction_type"`
	Success         bool    `json:"success"`
	Message         *string `json:"message"`
}

// Translate turns a raw NOTIFY payload into pushes. The channel name
// selects the payload shape; an event_type field inside the payload
// overrides it for producers that share one channel.
func Translate(channel, payload string) ([]Delivery, error) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	kind := channel
	if envelope.EventType != "" {
		kind = envelope.EventType
	}

	switch kind {
	case ChannelQRScan:
		var p qrScanPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if !types.IsValidPlayerID(p.PlayerID) || p.QRCode == "" {
			return nil, ErrMalformedPayload
		}
		return []Delivery{{
			Key: p.PlayerID,
			Event: types.QRScanEvent{
				Event:    types.EventQRScan,
				PlayerID: p.PlayerID,
				QRCode:   p.QRCode,
			},
		}}, nil

	case ChannelPlayerInteraction:
		var p interactionPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if !types.IsValidPlayerID(p.Player1ID) || !types.IsValidPlayerID(p.Player2ID) || p.InteractionType == "" {
			return nil, ErrMalformedPayload
		}
		event := types.PlayerInteractionEvent{
			Event:           types.EventPlayerInteraction,
			InteractionType: p.InteractionType,
			Success:         p.Success,
			Message:         p.Message,
		}
		return []Delivery{
			{Key: p.Player1ID, Event: event},
			{Key: p.Player2ID, Event: event},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, kind)
	}
}
