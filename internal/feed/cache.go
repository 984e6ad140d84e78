// Package feed keeps the Redis price cache current: it discovers active
// bracket markets over REST, subscribes to their ticker stream, and
// translates updates into cache writes plus fan-out events for the UI.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/pkg/domain"
)

const (
	// feedStatusKey holds "1" while the consumer is connected.
	feedStatusKey = "weather:feed:status"

	// eventsChannel is the pub/sub fan-out channel for UI events.
	eventsChannel = "weather:events"

	// minTickerTTL is the floor on the ticker map's TTL. Ticker→bracket
	// mappings outlive individual price quotes.
	minTickerTTL = 5 * time.Minute
)

// PriceCache is the Redis-backed per-(city, date) price and ticker map.
// The feed consumer is the only writer; everyone else reads.
type PriceCache struct {
	client    *redis.Client
	priceTTL  time.Duration
	tickerTTL time.Duration
	logger    zerolog.Logger
}

// NewPriceCache creates the cache. The ticker key TTL is at least five
// minutes regardless of the price TTL.
func NewPriceCache(client *redis.Client, priceTTL time.Duration, logger zerolog.Logger) *PriceCache {
	tickerTTL := priceTTL
	if tickerTTL < minTickerTTL {
		tickerTTL = minTickerTTL
	}
	return &PriceCache{
		client:    client,
		priceTTL:  priceTTL,
		tickerTTL: tickerTTL,
		logger:    logger,
	}
}

func priceKey(city domain.City, date time.Time) string {
	return fmt.Sprintf("weather:prices:%s:%s", city, domain.DateKey(date))
}

func tickerKey(city domain.City, date time.Time) string {
	return fmt.Sprintf("weather:tickers:%s:%s", city, domain.DateKey(date))
}

// Prices returns the cached bracket→cents map for (city, date). A missing
// key yields an empty map.
func (c *PriceCache) Prices(ctx context.Context, city domain.City, date time.Time) (map[string]int, error) {
	out := make(map[string]int)
	if err := c.getJSON(ctx, priceKey(city, date), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tickers returns the cached bracket→ticker map for (city, date).
func (c *PriceCache) Tickers(ctx context.Context, city domain.City, date time.Time) (map[string]string, error) {
	out := make(map[string]string)
	if err := c.getJSON(ctx, tickerKey(city, date), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PriceCache) getJSON(ctx context.Context, key string, out any) error {
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	return nil
}

// Store writes the full price and ticker maps for (city, date) in one
// pipeline so the pair stays consistent.
func (c *PriceCache) Store(ctx context.Context, city domain.City, date time.Time,
	prices map[string]int, tickers map[string]string) error {

	priceData, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("encode prices: %w", err)
	}
	tickerData, err := json.Marshal(tickers)
	if err != nil {
		return fmt.Errorf("encode tickers: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, priceKey(city, date), priceData, c.priceTTL)
	pipe.Set(ctx, tickerKey(city, date), tickerData, c.tickerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache store %s %s: %w", city, domain.DateKey(date), err)
	}
	return nil
}

// UpdateBracketPrice overwrites one bracket's price inside the cached map
// and refreshes the TTL.
func (c *PriceCache) UpdateBracketPrice(ctx context.Context, city domain.City, date time.Time,
	bracket string, cents int) error {

	prices, err := c.Prices(ctx, city, date)
	if err != nil {
		return err
	}
	prices[bracket] = cents

	data, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("encode prices: %w", err)
	}
	if err := c.client.Set(ctx, priceKey(city, date), data, c.priceTTL).Err(); err != nil {
		return fmt.Errorf("cache update %s %s: %w", city, domain.DateKey(date), err)
	}
	return nil
}

// SetStatus flips the feed liveness key.
func (c *PriceCache) SetStatus(ctx context.Context, connected bool) error {
	v := "0"
	if connected {
		v = "1"
	}
	if err := c.client.Set(ctx, feedStatusKey, v, 0).Err(); err != nil {
		return fmt.Errorf("set feed status: %w", err)
	}
	return nil
}

// Status reports the feed liveness key. Absent counts as disconnected.
func (c *PriceCache) Status(ctx context.Context) (bool, error) {
	v, err := c.client.Get(ctx, feedStatusKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get feed status: %w", err)
	}
	return v == "1", nil
}

// Publish emits a fan-out event on the pub/sub channel.
func (c *PriceCache) Publish(ctx context.Context, eventType string, data any) error {
	payload, err := json.Marshal(map[string]any{"type": eventType, "data": data})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := c.client.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
