package feed

import (
	"encoding/json"
	"time"

	"github.com/mr-tron/base58"
)

// ---------------------------------------------------------------------------
// Event router: pure classification of raw feed messages.
// No mutation, no propagation of parse errors: anything that does not match
// a recognized shape is Ignored.
// ---------------------------------------------------------------------------

// MessageKind is the classification of an inbound feed message.
type MessageKind string

const (
	KindIgnored         MessageKind = "ignored"
	KindSubscriptionAck MessageKind = "subscription_ack"
	KindTokenCreated    MessageKind = "token_created"
	KindTrade           MessageKind = "trade"
)

// Classified is the result of routing one raw message. Exactly one of
// Created/Trade is set, matching Kind.
type Classified struct {
	Kind    MessageKind
	Created *TokenCreationEvent
	Trade   *TradeEvent
	Ack     string // acknowledgment text for KindSubscriptionAck
}

// Classify routes a raw decoded message into exactly one classification.
// Malformed input never panics or errors; it classifies as Ignored.
func Classify(raw []byte) Classified {
	var probe struct {
		TxType  string `json:"txType"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Classified{Kind: KindIgnored}
	}

	if probe.Message != "" {
		return Classified{Kind: KindSubscriptionAck, Ack: probe.Message}
	}

	switch probe.TxType {
	case "create":
		var evt TokenCreationEvent
		if err := json.Unmarshal(raw, &evt); err != nil || !validMint(evt.Mint) {
			return Classified{Kind: KindIgnored}
		}
		return Classified{Kind: KindTokenCreated, Created: &evt}

	case string(DirectionBuy), string(DirectionSell):
		var evt TradeEvent
		if err := json.Unmarshal(raw, &evt); err != nil || !validMint(evt.Mint) {
			return Classified{Kind: KindIgnored}
		}
		if evt.Timestamp == 0 {
			evt.Timestamp = time.Now().UnixMilli()
		}
		return Classified{Kind: KindTrade, Trade: &evt}
	}

	return Classified{Kind: KindIgnored}
}

// validMint rejects mints that cannot be a Solana address. The feed is
// external; a message with a garbage mint would otherwise pollute the ledger.
func validMint(mint string) bool {
	if mint == "" {
		return false
	}
	_, err := base58.Decode(mint)
	return err == nil
}
