// Package weather fetches forecast observations and settlement-grade
// observed highs for the four supported cities. Forecast values feed the
// ensemble engine; METAR maxima feed settlement.
package weather

import (
	"fmt"
	"time"

	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// station carries the per-city fetch coordinates.
type station struct {
	metarID   string
	lat, lon  float64
	nwsOffice string
	nwsGridX  int
	nwsGridY  int
}

// NWS gridpoints resolved once from each airport's lat/lon.
var stations = map[domain.City]station{
	domain.CityNYC: {metarID: "KJFK", lat: 40.6413, lon: -73.7781, nwsOffice: "OKX", nwsGridX: 33, nwsGridY: 37},
	domain.CityLAX: {metarID: "KLAX", lat: 33.9425, lon: -118.4081, nwsOffice: "LOX", nwsGridX: 154, nwsGridY: 44},
	domain.CityCHI: {metarID: "KORD", lat: 41.9742, lon: -87.9073, nwsOffice: "LOT", nwsGridX: 65, nwsGridY: 76},
	domain.CityMIA: {metarID: "KMIA", lat: 25.7959, lon: -80.2870, nwsOffice: "MFL", nwsGridX: 109, nwsGridY: 50},
}

// nwsForecastURL is the gridpoint forecast endpoint for the city.
func (s station) nwsForecastURL() string {
	return fmt.Sprintf("https://api.weather.gov/gridpoints/%s/%d,%d/forecast",
		s.nwsOffice, s.nwsGridX, s.nwsGridY)
}

// openMeteoURL is the daily-max forecast endpoint for the city.
func (s station) openMeteoURL() string {
	return fmt.Sprintf("https://api.open-meteo.com/v1/forecast?latitude=%.4f&longitude=%.4f"+
		"&daily=temperature_2m_max&temperature_unit=fahrenheit&forecast_days=3&timezone=auto",
		s.lat, s.lon)
}

// metarHistoryURL is the Iowa State ASOS archive query for one local day.
// The archive drops the K prefix from station ids.
func (s station) metarHistoryURL(date time.Time, tz string) string {
	next := date.AddDate(0, 0, 1)
	return fmt.Sprintf("https://mesonet.agron.iastate.edu/cgi-bin/request/asos.py?"+
		"station=%s&data=tmpf&year1=%d&month1=%d&day1=%d&year2=%d&month2=%d&day2=%d"+
		"&tz=%s&format=onlycomma&latlon=no&elev=no&missing=M&trace=T&direct=no&report_type=3",
		s.metarID[1:], date.Year(), int(date.Month()), date.Day(),
		next.Year(), int(next.Month()), next.Day(), tz)
}
