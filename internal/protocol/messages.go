package protocol

// Command ops accepted inside a CMD message.
const (
	OpApprove  = "APPROVE"
	OpTransfer = "TRANSFER"
	OpDeposit  = "DEPOSIT"
	OpWithdraw = "WITHDRAW"
	OpSeize    = "SEIZE"
	OpClaim    = "CLAIM"
	OpBoost    = "BOOST"
	OpAbandon  = "ABANDON"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	PlayerName      string     `json:"player_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	PlayerID        string         `json:"player_id"`
	SessionID       string         `json:"session_id,omitempty"`
	Params          EngineParams   `json:"params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type EngineParams struct {
	AnchorAsset     string `json:"anchor_asset"`
	MinMercs        int64  `json:"min_mercs"`
	RateLimitBps    int64  `json:"rate_limit_bps"`
	RateWindowSecs  int64  `json:"rate_window_secs"`
	BoostSecs       int64  `json:"boost_secs"`
	AbandonCooldown int64  `json:"abandon_cooldown_secs"`
}

type CatalogDigests struct {
	Assets AssetDigest `json:"assets"`
}

type AssetDigest struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// CMD (client -> server): one economic or combat operation.
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"` // client ref echoed in ACTION_RESULT
	Op              string `json:"op"`
	Asset           string `json:"asset,omitempty"`
	Tier            int    `json:"tier,omitempty"`
	Mine            string `json:"mine,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	To              string `json:"to,omitempty"` // TRANSFER recipient / APPROVE spender
}

// EVENT (server -> client): a batch of events for one session.
type EventMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Events          []Event `json:"events"`
}
