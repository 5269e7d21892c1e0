package lighter

// Wire types for the Lighter REST API. Numeric fields arrive as strings
// and are parsed at the boundary.

type accountResponse struct {
	Accounts []accountEntry `json:"accounts"`
}

type accountEntry struct {
	AccountIndex int             `json:"account_index"`
	Collateral   string          `json:"collateral"`
	Positions    []positionEntry `json:"positions"`
	OpenOrders   []orderEntry    `json:"open_orders"`
}

type positionEntry struct {
	MarketID         int    `json:"market_id"`
	Sign             int    `json:"sign"` // 1 long, -1 short
	Position         string `json:"position"`
	AvgEntryPrice    string `json:"avg_entry_price"`
	UnrealizedPnL    string `json:"unrealized_pnl"`
	RealizedPnL      string `json:"realized_pnl"`
	LiquidationPrice string `json:"liquidation_price"`
}

type orderEntry struct {
	OrderIndex      int64  `json:"order_index"`
	MarketID        int    `json:"market_id"`
	IsAsk           bool   `json:"is_ask"`
	Price           string `json:"price"`
	InitialBase     string `json:"initial_base_amount"`
	RemainingBase   string `json:"remaining_base_amount"`
	FilledBase      string `json:"filled_base_amount"`
	ReduceOnly      bool   `json:"reduce_only"`
	TimestampMillis int64  `json:"timestamp"`
}

type bookOrdersResponse struct {
	MarketID int         `json:"market_id"`
	Bids     []bookLevel `json:"bids"`
	Asks     []bookLevel `json:"asks"`
}

type bookLevel struct {
	Price         string `json:"price"`
	RemainingBase string `json:"remaining_base_amount"`
}

type orderBooksResponse struct {
	OrderBooks []marketEntry `json:"order_books"`
}

type marketEntry struct {
	MarketID     int    `json:"market_id"`
	Symbol       string `json:"symbol"`
	TickSize     string `json:"tick_size"`
	MinOrderSize string `json:"min_order_size"`
	FundingRate  string `json:"funding_rate"`
	MarkPrice    string `json:"mark_price"`
	Volume24h    string `json:"volume_24h"`
}

type nonceResponse struct {
	Code      int    `json:"code"`
	NextNonce uint64 `json:"next_nonce"`
}

type txResponse struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	TxHash     string `json:"tx_hash"`
	OrderIndex int64  `json:"order_index"`
}

type txRequest struct {
	AccountIndex      int    `json:"account_index"`
	APIKeyIndex       int    `json:"api_key_index"`
	Nonce             uint64 `json:"nonce"`
	MarketIndex       int    `json:"market_index"`
	ClientOrderIndex  int64  `json:"client_order_index,omitempty"`
	OrderIndex        int64  `json:"order_index,omitempty"`
	BaseAmount        int64  `json:"base_amount,omitempty"`
	Price             int64  `json:"price,omitempty"`
	AvgExecutionPrice int64  `json:"avg_execution_price,omitempty"`
	IsAsk             bool   `json:"is_ask"`
	OrderType         string `json:"order_type,omitempty"`
	TimeInForce       string `json:"time_in_force,omitempty"`
	ReduceOnly        bool   `json:"reduce_only"`
	Signature         string `json:"signature"`
}
