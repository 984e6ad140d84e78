package weather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/faults"
	"github.com/gopher-lab/weathertrader/internal/forecast"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// Provider fetches forecast observations and observed highs over HTTP.
type Provider struct {
	httpClient *http.Client
	logger     zerolog.Logger
	clock      func() time.Time
}

// NewProvider creates a weather provider.
func NewProvider(logger zerolog.Logger) *Provider {
	return &Provider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		clock:      time.Now,
	}
}

// Observations fetches the forecast high for (city, date) from every
// reachable source. Individual source failures are logged and dropped;
// only an empty result is an error.
func (p *Provider) Observations(ctx context.Context, city domain.City, date time.Time) ([]forecast.Observation, error) {
	st, ok := stations[city]
	if !ok {
		return nil, faults.New(faults.ErrInput, "no station for city").With("city", string(city))
	}

	var obs []forecast.Observation
	now := p.clock()

	if high, err := p.nwsHigh(ctx, st); err != nil {
		p.logger.Warn().Err(err).Str("city", string(city)).Msg("nws forecast unavailable")
	} else {
		obs = append(obs, forecast.Observation{
			Source: "nws", City: city, Date: date, HighF: high, FetchedAt: now,
		})
	}

	if high, err := p.openMeteoHigh(ctx, st, city, date); err != nil {
		p.logger.Warn().Err(err).Str("city", string(city)).Msg("open-meteo forecast unavailable")
	} else {
		obs = append(obs, forecast.Observation{
			Source: "openmeteo", City: city, Date: date, HighF: high, FetchedAt: now,
		})
	}

	if len(obs) == 0 {
		return nil, faults.New(faults.ErrConnection, "no forecast source reachable").
			With("city", string(city))
	}
	return obs, nil
}

// ObservedHigh returns the settlement-grade maximum METAR temperature for
// (city, date), with its provenance string.
func (p *Provider) ObservedHigh(ctx context.Context, city domain.City, date time.Time) (float64, string, error) {
	st, ok := stations[city]
	if !ok {
		return 0, "", faults.New(faults.ErrInput, "no station for city").With("city", string(city))
	}

	body, err := p.fetch(ctx, st.metarHistoryURL(date, city.Timezone()))
	if err != nil {
		return 0, "", err
	}

	high, n := parseMETARMax(string(body), st.metarID)
	if n == 0 {
		return 0, "", faults.New(faults.ErrInsufficientData, "no METAR observations for date").
			With("city", string(city)).
			With("date", date.Format("2006-01-02"))
	}
	return high, "METAR " + st.metarID, nil
}

// nwsHigh reads the first daytime period's temperature from the NWS
// gridpoint forecast.
func (p *Provider) nwsHigh(ctx context.Context, st station) (float64, error) {
	body, err := p.fetch(ctx, st.nwsForecastURL())
	if err != nil {
		return 0, err
	}

	var resp struct {
		Properties struct {
			Periods []struct {
				IsDaytime   bool `json:"isDaytime"`
				Temperature int  `json:"temperature"`
			} `json:"periods"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, faults.Wrap(faults.ErrAPI, "parse nws forecast", err)
	}

	for _, period := range resp.Properties.Periods {
		if period.IsDaytime {
			return float64(period.Temperature), nil
		}
	}
	return 0, faults.New(faults.ErrInsufficientData, "no daytime period in nws forecast")
}

// openMeteoHigh reads the daily maximum matching the requested date.
func (p *Provider) openMeteoHigh(ctx context.Context, st station, city domain.City, date time.Time) (float64, error) {
	body, err := p.fetch(ctx, st.openMeteoURL())
	if err != nil {
		return 0, err
	}

	var resp struct {
		Daily struct {
			Time           []string  `json:"time"`
			TemperatureMax []float64 `json:"temperature_2m_max"`
		} `json:"daily"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, faults.Wrap(faults.ErrAPI, "parse open-meteo forecast", err)
	}

	want := date.Format("2006-01-02")
	for i, day := range resp.Daily.Time {
		if day == want && i < len(resp.Daily.TemperatureMax) {
			return resp.Daily.TemperatureMax[i], nil
		}
	}
	return 0, faults.New(faults.ErrInsufficientData, "requested date not in open-meteo horizon").
		With("date", want).
		With("city", string(city))
}

func (p *Provider) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, faults.Wrap(faults.ErrInput, "build weather request", err)
	}
	req.Header.Set("User-Agent", "weathertrader/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.ErrConnection, "fetch weather data", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.ErrConnection, "read weather response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, faults.New(faults.ErrAPI, "weather source returned non-200").
			With("status", resp.StatusCode)
	}
	return body, nil
}

// parseMETARMax scans the ASOS CSV for the station's maximum tmpf value.
// Lines look like "JFK,2026-08-24 14:51,  87.98".
func parseMETARMax(data, metarID string) (max float64, count int) {
	code := strings.TrimPrefix(metarID, "K")

	for _, line := range strings.Split(data, "\n") {
		if !strings.HasPrefix(line, code+",") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			continue
		}
		count++
		if count == 1 || v > max {
			max = v
		}
	}
	return max, count
}
