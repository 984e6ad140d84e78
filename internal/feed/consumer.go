package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/metrics"
	"github.com/gopher-lab/weathertrader/pkg/domain"
	"github.com/gopher-lab/weathertrader/pkg/kalshi"
)

// marketLister is the REST surface discovery needs.
type marketLister interface {
	GetMarkets(ctx context.Context, eventTicker string) ([]kalshi.Market, error)
}

// subscriber is the WebSocket surface the consumer drives.
type subscriber interface {
	Subscribe(ctx context.Context, marketTicker string, channel kalshi.Channel) error
	Unsubscribe(marketTicker string)
}

// tickerInfo locates a market ticker in the cache keyspace.
type tickerInfo struct {
	city    domain.City
	date    time.Time
	bracket string
}

// Consumer subscribes to active bracket markets and mirrors their prices
// into the cache.
type Consumer struct {
	rest      marketLister
	ws        subscriber
	cache     *PriceCache
	cities    []domain.City
	refresh   time.Duration
	logger    zerolog.Logger
	clock     func() time.Time

	mu        sync.Mutex
	tickerMap map[string]tickerInfo
}

// NewConsumer creates a feed consumer for the given cities.
func NewConsumer(rest marketLister, ws subscriber, cache *PriceCache,
	cities []domain.City, refresh time.Duration, logger zerolog.Logger) *Consumer {

	return &Consumer{
		rest:      rest,
		ws:        ws,
		cache:     cache,
		cities:    cities,
		refresh:   refresh,
		logger:    logger,
		clock:     time.Now,
		tickerMap: make(map[string]tickerInfo),
	}
}

// SetSubscriber attaches the WebSocket client after construction. The
// client's message callback and the consumer reference each other, so one
// side has to be wired late.
func (c *Consumer) SetSubscriber(ws subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = ws
}

// Run discovers markets immediately and then on every refresh interval
// until the context is canceled. Discovery errors are logged and retried
// on the next tick; the loop itself never fails.
func (c *Consumer) Run(ctx context.Context) {
	if err := c.Discover(ctx); err != nil {
		c.logger.Error().Err(err).Msg("initial market discovery failed")
	}

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.cache.SetStatus(context.Background(), false); err != nil {
				c.logger.Warn().Err(err).Msg("flush feed status")
			}
			return
		case <-ticker.C:
			if err := c.Discover(ctx); err != nil {
				c.logger.Error().Err(err).Msg("market discovery failed")
			}
		}
	}
}

// Discover lists today's and tomorrow's markets for every active city,
// reconciles the subscription set, and seeds the cache.
func (c *Consumer) Discover(ctx context.Context) error {
	now := c.clock()
	dates := []time.Time{now, now.AddDate(0, 0, 1)}

	desired := make(map[string]tickerInfo)
	var firstErr error

	for _, city := range c.cities {
		for _, date := range dates {
			eventTicker := fmt.Sprintf("%s-%s", city.EventPrefix(), domain.EventDateCode(date))
			markets, err := c.rest.GetMarkets(ctx, eventTicker)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				c.logger.Warn().Err(err).Str("event", eventTicker).Msg("list markets failed")
				continue
			}
			if len(markets) == 0 {
				continue
			}

			prices := make(map[string]int)
			tickers := make(map[string]string)
			for _, m := range markets {
				label := m.YesSubTitle
				if label == "" {
					label = m.Subtitle
				}
				if _, err := domain.ParseBracketLabel(label); err != nil {
					c.logger.Debug().Str("ticker", m.Ticker).Str("label", label).Msg("skipping unparseable bracket")
					continue
				}

				desired[m.Ticker] = tickerInfo{city: city, date: date, bracket: label}
				tickers[label] = m.Ticker
				if domain.ValidatePriceCents(m.LastPrice) == nil {
					prices[label] = m.LastPrice
				}
			}

			if err := c.cache.Store(ctx, city, date, prices, tickers); err != nil {
				metrics.CacheWriteFailures.Inc()
				c.logger.Warn().Err(err).Str("city", string(city)).Msg("seed cache failed")
			}
		}
	}

	c.reconcileSubscriptions(ctx, desired)
	return firstErr
}

// reconcileSubscriptions subscribes to new tickers and forgets ones no
// longer listed.
func (c *Consumer) reconcileSubscriptions(ctx context.Context, desired map[string]tickerInfo) {
	c.mu.Lock()
	current := c.tickerMap
	c.tickerMap = desired
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return
	}

	for ticker := range desired {
		if _, ok := current[ticker]; ok {
			continue
		}
		if err := ws.Subscribe(ctx, ticker, kalshi.ChannelTicker); err != nil {
			c.logger.Warn().Err(err).Str("ticker", ticker).Msg("subscribe failed")
		}
	}

	for ticker := range current {
		if _, ok := desired[ticker]; !ok {
			ws.Unsubscribe(ticker)
		}
	}
}

// HandleMessage is the WebSocket message callback. Only ticker updates for
// known markets reach the cache; everything else is ignored.
func (c *Consumer) HandleMessage(msg kalshi.WSMessage) {
	if msg.Type != "ticker" {
		return
	}

	var update kalshi.TickerUpdate
	if err := json.Unmarshal(msg.Msg, &update); err != nil {
		c.logger.Warn().Err(err).Msg("unparseable ticker update")
		return
	}

	price, ok := update.Price()
	if !ok {
		return
	}

	c.mu.Lock()
	info, known := c.tickerMap[update.MarketTicker]
	c.mu.Unlock()
	if !known {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Cache failures never kill the feed.
	if err := c.cache.UpdateBracketPrice(ctx, info.city, info.date, info.bracket, price); err != nil {
		metrics.CacheWriteFailures.Inc()
		c.logger.Warn().Err(err).Str("ticker", update.MarketTicker).Msg("cache write failed")
		return
	}

	if err := c.cache.Publish(ctx, "price_update", map[string]any{
		"city":    string(info.city),
		"date":    domain.DateKey(info.date),
		"bracket": info.bracket,
		"price":   price,
	}); err != nil {
		c.logger.Debug().Err(err).Msg("publish price event failed")
	}
}

// TrackedTickers returns a snapshot of the ticker→bracket map, mainly for
// diagnostics.
func (c *Consumer) TrackedTickers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.tickerMap))
	for ticker, info := range c.tickerMap {
		out[ticker] = info.bracket
	}
	return out
}
