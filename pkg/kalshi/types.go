package kalshi

// Market is one bracket market inside an event.
type Market struct {
	Ticker         string  `json:"ticker"`
	EventTicker    string  `json:"event_ticker"`
	Title          string  `json:"title"`
	Subtitle       string  `json:"subtitle"`
	YesSubTitle    string  `json:"yes_sub_title"`
	Status         string  `json:"status"`
	YesBid         int     `json:"yes_bid"`
	YesAsk         int     `json:"yes_ask"`
	NoBid          int     `json:"no_bid"`
	NoAsk          int     `json:"no_ask"`
	LastPrice      int     `json:"last_price"`
	Volume         int     `json:"volume"`
	OpenInterest   int     `json:"open_interest"`
	Result         string  `json:"result"`
	CapStrike      float64 `json:"cap_strike"`
	FloorStrike    float64 `json:"floor_strike"`
	StrikeType     string  `json:"strike_type"`
	CloseTime      string  `json:"close_time"`
	ExpirationTime string  `json:"expiration_time"`
}

// Event groups the markets for one (city, date).
type Event struct {
	EventTicker  string `json:"event_ticker"`
	SeriesTicker string `json:"series_ticker"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	StrikeDate   string `json:"strike_date"`
}

// Balance is the account balance. The exchange reports dollars; the
// client converts to cents at the boundary.
type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// OrderSide is the exchange's yes/no encoding.
type OrderSide string

// Order sides.
const (
	OrderSideYes OrderSide = "yes"
	OrderSideNo  OrderSide = "no"
)

// OrderAction is buy or sell.
type OrderAction string

// Order actions.
const (
	OrderActionBuy  OrderAction = "buy"
	OrderActionSell OrderAction = "sell"
)

// OrderType is limit or market.
type OrderType string

// Order types.
const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the exchange's order state.
type OrderStatus string

// Order statuses.
const (
	OrderStatusResting  OrderStatus = "resting"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusExecuted OrderStatus = "executed"
	OrderStatusPending  OrderStatus = "pending"
)

// CreateOrderRequest is the body of a place-order call.
type CreateOrderRequest struct {
	Ticker        string      `json:"ticker"`
	Action        OrderAction `json:"action"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"type"`
	Count         int         `json:"count"`
	YesPrice      int         `json:"yes_price,omitempty"`
	NoPrice       int         `json:"no_price,omitempty"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
}

// Order is the exchange's view of an order.
type Order struct {
	OrderID        string      `json:"order_id"`
	Ticker         string      `json:"ticker"`
	Action         OrderAction `json:"action"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Status         OrderStatus `json:"status"`
	YesPrice       int         `json:"yes_price"`
	NoPrice        int         `json:"no_price"`
	CreatedTime    string      `json:"created_time"`
	RemainingCount int         `json:"remaining_count"`
	TakerFillCount int         `json:"taker_fill_count"`
	MakerFillCount int         `json:"maker_fill_count"`
}

// FillCount returns the total contracts filled on the order.
func (o *Order) FillCount() int {
	return o.TakerFillCount + o.MakerFillCount
}

// Position is the exchange's view of a held position.
type Position struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	YesPosition int    `json:"yes_position"`
	NoPosition  int    `json:"no_position"`
	TotalCost   int    `json:"total_cost"`
	RealizedPnl int    `json:"realized_pnl"`
	Fees        int    `json:"fees"`
}

// Settlement is one settled market result from the exchange.
type Settlement struct {
	Ticker       string `json:"ticker"`
	MarketResult string `json:"market_result"`
	YesCount     int    `json:"yes_count"`
	NoCount      int    `json:"no_count"`
	Revenue      int    `json:"revenue"`
	SettledTime  string `json:"settled_time"`
}

// Fill is one executed order from the authoritative fill list, used by the
// reconciler.
type Fill struct {
	OrderID     string    `json:"order_id"`
	Ticker      string    `json:"ticker"`
	Side        OrderSide `json:"side"`
	Action      OrderAction `json:"action"`
	Count       int       `json:"count"`
	YesPrice    int       `json:"yes_price"`
	NoPrice     int       `json:"no_price"`
	IsTaker     bool      `json:"is_taker"`
	CreatedTime string    `json:"created_time"`
}

// OrderbookLevel is one (price, quantity) level.
type OrderbookLevel [2]int

// Orderbook is the book for one market: resting yes and no bids as
// (price, quantity) pairs.
type Orderbook struct {
	Yes []OrderbookLevel `json:"yes"`
	No  []OrderbookLevel `json:"no"`
}
