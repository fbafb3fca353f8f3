package types

import (
	"time"
)

// ARCHITECTURAL DISCOVERY: Event names are part of the client contract and
// must match byte-for-byte across every transport path
const (
	EventStartGame          = "start_game"
	EventMove               = "move"
	EventRequestGameState   = "request_game_state"
	EventResult             = "result"
	EventRejected           = "rejected"
	EventLoginSuccess       = "login_success"
	EventQRScan             = "qr_scan"
	EventPlayerInteraction  = "player_interaction"
	EventPeerPairingSuccess = "peer_pairing_success"
)

// Proximity classifications for a pairing
const (
	ProximityNear = "near"
	ProximityFar  = "far"
)

// ScanTypePeer marks a paired scan between two players
const ScanTypePeer = "peer"

// ResultTie is the literal winner value broadcast for a drawn round
const ResultTie = "tie"

// RejectReasonChannelFull is sent when a third connection tries to join a channel
const RejectReasonChannelFull = "channel_full"

// Location is a WGS84 coordinate pair in decimal degrees
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Envelope is the inbound frame read from a game connection.
// FUNCTIONAL DISCOVERY: Only the event name is decoded up front; the rest of
// the frame is decoded into a typed payload once the event is known
type Envelope struct {
	Event  string `json:"event"`
	Choice string `json:"choice,omitempty"`
}

// StartGameEvent announces a fresh or resumed game instance to a channel
type StartGameEvent struct {
	Event    string   `json:"event"`
	Channel  string   `json:"channel"`
	GameType string   `json:"game_type"`
	Players  []string `json:"players"`
}

// ResultEvent announces the terminal outcome of a round
type ResultEvent struct {
	Event   string            `json:"event"`
	Channel string            `json:"channel"`
	Winner  string            `json:"winner"`
	Moves   map[string]string `json:"moves,omitempty"`
}

// RejectedEvent is written to a connection right before it is closed
type RejectedEvent struct {
	Event   string `json:"event"`
	Reason  string `json:"reason"`
	Channel string `json:"channel"`
}

// LoginSuccessEvent carries a freshly issued credential to a waiting device
type LoginSuccessEvent struct {
	Event string `json:"event"`
	Token string `json:"token"`
}

// PeerPairingSuccessEvent tells the token initiator who scanned it
type PeerPairingSuccessEvent struct {
	Event           string  `json:"event"`
	PeerID          string  `json:"peer_id"`
	PeerDisplayName string  `json:"peer_display_name,omitempty"`
	Proximity       string  `json:"proximity"`
	DistanceMeters  float64 `json:"distance_meters"`
}

// QRScanEvent is relayed from store notifications
type QRScanEvent struct {
	Event    string `json:"event"`
	PlayerID string `json:"player_id"`
	QRCode   string `json:"qr_code"`
}

// PlayerInteractionEvent is relayed from store notifications to both players
type PlayerInteractionEvent struct {
	Event           string  `json:"event"`
	InteractionType string  `json:"interaction_type"`
	Success         bool    `json:"success"`
	Message         *string `json:"message"`
}

// PlayerRecord is the subset of a player account the core needs
type PlayerRecord struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// PairedScanRecord is written once per participant on every successful pairing.
// FUNCTIONAL DISCOVERY: Records are immutable; the pairwise cooldown is derived
// from NextEligibleAt rather than from any state on the token itself
type PairedScanRecord struct {
	ID             string    `json:"id" db:"id"`
	PlayerID       string    `json:"player_id" db:"player_id"`
	PeerID         string    `json:"peer_id" db:"peer_id"`
	ScanType       string    `json:"scan_type" db:"scan_type"`
	Proximity      string    `json:"proximity" db:"proximity"`
	DistanceMeters float64   `json:"distance_meters" db:"distance_meters"`
	ScannedAt      time.Time `json:"scanned_at" db:"scanned_at"`
	NextEligibleAt time.Time `json:"next_eligible_at" db:"next_eligible_at"`
}
