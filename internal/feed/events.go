package feed

// ---------------------------------------------------------------------------
// Wire events: pumpportal-style live feed messages.
// The feed is external and not contractually versioned; these structs decode
// the shapes we recognize and everything else is ignored by the router.
// ---------------------------------------------------------------------------

// TradeDirection is the side of a trade against the bonding curve.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// TokenCreationEvent is a "create" message: a new token launched on the
// bonding curve, with the creator's initial buy baked in.
type TokenCreationEvent struct {
	Signature             string  `json:"signature"`
	Mint                  string  `json:"mint"`
	TraderPublicKey       string  `json:"traderPublicKey"`
	TxType                string  `json:"txType"`
	InitialBuy            float64 `json:"initialBuy"`
	BondingCurveKey       string  `json:"bondingCurveKey"`
	VTokensInBondingCurve float64 `json:"vTokensInBondingCurve"`
	VSolInBondingCurve    float64 `json:"vSolInBondingCurve"`
	MarketCapSol          float64 `json:"marketCapSol"`
	Name                  string  `json:"name"`
	Symbol                string  `json:"symbol"`
	URI                   string  `json:"uri"`
}

// Price returns the instantaneous bonding-curve price at creation.
// An empty curve prices at 0 rather than propagating a non-finite value.
func (e TokenCreationEvent) Price() float64 {
	if e.VTokensInBondingCurve == 0 {
		return 0
	}
	return e.VSolInBondingCurve / e.VTokensInBondingCurve
}

// TradeEvent is a "buy" or "sell" message. Reserves are post-trade.
// Timestamp is unix milliseconds; the feed does not declare one, so the
// router stamps arrival time unless the message already carries it.
type TradeEvent struct {
	Signature             string         `json:"signature"`
	Mint                  string         `json:"mint"`
	TraderPublicKey       string         `json:"traderPublicKey"`
	TxType                TradeDirection `json:"txType"`
	TokenAmount           float64        `json:"tokenAmount"`
	VTokensInBondingCurve float64        `json:"vTokensInBondingCurve"`
	VSolInBondingCurve    float64        `json:"vSolInBondingCurve"`
	MarketCapSol          float64        `json:"marketCapSol"`
	Timestamp             int64          `json:"timestamp"`
}

// Price returns the post-trade bonding-curve price.
func (e TradeEvent) Price() float64 {
	if e.VTokensInBondingCurve == 0 {
		return 0
	}
	return e.VSolInBondingCurve / e.VTokensInBondingCurve
}

// SolValue returns the trade volume in SOL (token amount at post-trade price).
func (e TradeEvent) SolValue() float64 {
	return e.TokenAmount * e.Price()
}

// controlMessage is an outbound subscription control frame.
type controlMessage struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

const (
	methodSubscribeNewToken     = "subscribeNewToken"
	methodSubscribeTokenTrade   = "subscribeTokenTrade"
	methodUnsubscribeTokenTrade = "unsubscribeTokenTrade"
)
