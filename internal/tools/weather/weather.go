// Package weather provides the built-in "get_weather" tool backed by the
// WeatherAPI.com forecast endpoint.
//
// The tool returns current conditions for "today" and a daily summary with a
// three-hourly breakdown for any other date within the forecast range.
// Upstream failures are reported to the model as {"error": "..."} results;
// only a missing API key is returned as a Go error.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/toolcaller/internal/tools"
)

// DefaultBaseURL is the WeatherAPI.com endpoint.
const DefaultBaseURL = "https://api.weatherapi.com"

// ErrMissingAPIKey is returned by the handler when no API key is configured.
var ErrMissingAPIKey = errors.New("weather: WEATHER_API_KEY is not set")

// Config configures the weather tool.
type Config struct {
	APIKey string

	// BaseURL overrides [DefaultBaseURL]; used by tests.
	BaseURL string

	// Days is how many forecast days to request. Default: 3.
	Days int

	// Units is the unit system the model should prefer when answering:
	// "metric" or "imperial". Both are always returned.
	Units string

	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
}

// Args are the arguments of get_weather.
type Args struct {
	Location string `json:"location" jsonschema_description:"The city and state or country (e.g., \"New York, NY\" or \"Tokyo, Japan\")"`
	Date     string `json:"date,omitempty" jsonschema_description:"The date to get weather for in YYYY-MM-DD format, defaults to today"`
}

// Temperature holds one reading in both scales.
type Temperature struct {
	Celsius    float64 `json:"celsius"`
	Fahrenheit float64 `json:"fahrenheit"`
}

// Current is the result for date "today".
type Current struct {
	Location    string      `json:"location"`
	Region      string      `json:"region"`
	Country     string      `json:"country"`
	LocalTime   string      `json:"localTime"`
	Units       string      `json:"units"`
	Temperature Temperature `json:"temperature"`
	Condition   string      `json:"condition"`
	Humidity    int         `json:"humidity"`
	WindSpeed   struct {
		Kph float64 `json:"kph"`
		Mph float64 `json:"mph"`
	} `json:"windSpeed"`
	Precipitation struct {
		Mm     float64 `json:"mm"`
		Inches float64 `json:"inches"`
	} `json:"precipitation"`
}

// DayForecast summarises one forecast day.
type DayForecast struct {
	MaxTemp      Temperature `json:"maxTemp"`
	MinTemp      Temperature `json:"minTemp"`
	AvgTemp      Temperature `json:"avgTemp"`
	Condition    string      `json:"condition"`
	ChanceOfRain int         `json:"chanceOfRain"`
	ChanceOfSnow int         `json:"chanceOfSnow"`
}

// Hour is one entry of the hourly breakdown.
type Hour struct {
	Time         string  `json:"time"`
	TempC        float64 `json:"tempC"`
	TempF        float64 `json:"tempF"`
	Condition    string  `json:"condition"`
	ChanceOfRain int     `json:"chanceOfRain"`
}

// Forecast is the result for a specific date.
type Forecast struct {
	Location       string      `json:"location"`
	Region         string      `json:"region"`
	Country        string      `json:"country"`
	Date           string      `json:"date"`
	Units          string      `json:"units"`
	Forecast       DayForecast `json:"forecast"`
	HourlyForecast []Hour      `json:"hourlyForecast"`
}

// Unavailable is returned when the requested date is outside the forecast.
type Unavailable struct {
	Error          string   `json:"error"`
	AvailableDates []string `json:"availableDates"`
}

// Tool returns the get_weather tool.
func Tool(cfg Config) tools.Tool {
	c := &client{cfg: cfg}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = DefaultBaseURL
	}
	if c.cfg.Days <= 0 {
		c.cfg.Days = 3
	}
	if c.cfg.Units == "" {
		c.cfg.Units = "metric"
	}
	if c.cfg.HTTPClient == nil {
		c.cfg.HTTPClient = tools.HTTPClient(15 * time.Second)
	}
	return tools.New("get_weather", "Get current weather or forecast for a location", c.handle)
}

type client struct {
	cfg Config
}

func (c *client) handle(ctx context.Context, args Args) (any, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	date := args.Date
	if date == "" {
		date = "today"
	}

	data, err := c.fetch(ctx, args.Location)
	if err != nil {
		return map[string]string{
			"error": fmt.Sprintf("Failed to get weather for %s: %s", args.Location, err),
		}, nil
	}

	if date == "today" {
		return c.current(data), nil
	}
	for _, day := range data.Forecast.ForecastDay {
		if day.Date == date {
			return c.forecast(data, day), nil
		}
	}
	available := make([]string, 0, len(data.Forecast.ForecastDay))
	for _, day := range data.Forecast.ForecastDay {
		available = append(available, day.Date)
	}
	return Unavailable{
		Error:          "Forecast not available for date: " + date,
		AvailableDates: available,
	}, nil
}

func (c *client) fetch(ctx context.Context, location string) (*apiResponse, error) {
	q := url.Values{}
	q.Set("key", c.cfg.APIKey)
	q.Set("q", location)
	q.Set("days", strconv.Itoa(c.cfg.Days))
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/forecast.json?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, scrub(err, c.cfg.APIKey)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Weather API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var data apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &data, nil
}

func (c *client) current(data *apiResponse) Current {
	out := Current{
		Location:    data.Location.Name,
		Region:      data.Location.Region,
		Country:     data.Location.Country,
		LocalTime:   data.Location.LocalTime,
		Units:       c.cfg.Units,
		Temperature: Temperature{data.Current.TempC, data.Current.TempF},
		Condition:   data.Current.Condition.Text,
		Humidity:    data.Current.Humidity,
	}
	out.WindSpeed.Kph = data.Current.WindKph
	out.WindSpeed.Mph = data.Current.WindMph
	out.Precipitation.Mm = data.Current.PrecipMm
	out.Precipitation.Inches = data.Current.PrecipIn
	return out
}

func (c *client) forecast(data *apiResponse, day apiForecastDay) Forecast {
	hours := make([]Hour, 0, len(day.Hour))
	for _, h := range day.Hour {
		hours = append(hours, Hour{
			Time:         h.Time,
			TempC:        h.TempC,
			TempF:        h.TempF,
			Condition:    h.Condition.Text,
			ChanceOfRain: h.ChanceOfRain,
		})
	}
	return Forecast{
		Location: data.Location.Name,
		Region:   data.Location.Region,
		Country:  data.Location.Country,
		Date:     day.Date,
		Units:    c.cfg.Units,
		Forecast: DayForecast{
			MaxTemp:      Temperature{day.Day.MaxTempC, day.Day.MaxTempF},
			MinTemp:      Temperature{day.Day.MinTempC, day.Day.MinTempF},
			AvgTemp:      Temperature{day.Day.AvgTempC, day.Day.AvgTempF},
			Condition:    day.Day.Condition.Text,
			ChanceOfRain: day.Day.DailyChanceOfRain,
			ChanceOfSnow: day.Day.DailyChanceOfSnow,
		},
		HourlyForecast: hours,
	}
}

// scrub removes the API key from transport errors, which embed the request URL.
func scrub(err error, key string) error {
	if key == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED"))
}

// ─── WeatherAPI.com wire format ──────────────────────────────────────────────

type apiCondition struct {
	Text string `json:"text"`
}

type apiResponse struct {
	Location struct {
		Name      string `json:"name"`
		Region    string `json:"region"`
		Country   string `json:"country"`
		LocalTime string `json:"localtime"`
	} `json:"location"`
	Current struct {
		TempC     float64      `json:"temp_c"`
		TempF     float64      `json:"temp_f"`
		Condition apiCondition `json:"condition"`
		Humidity  int          `json:"humidity"`
		WindKph   float64      `json:"wind_kph"`
		WindMph   float64      `json:"wind_mph"`
		PrecipMm  float64      `json:"precip_mm"`
		PrecipIn  float64      `json:"precip_in"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []apiForecastDay `json:"forecastday"`
	} `json:"forecast"`
}

type apiForecastDay struct {
	Date string `json:"date"`
	Day  struct {
		MaxTempC          float64      `json:"maxtemp_c"`
		MaxTempF          float64      `json:"maxtemp_f"`
		MinTempC          float64      `json:"mintemp_c"`
		MinTempF          float64      `json:"mintemp_f"`
		AvgTempC          float64      `json:"avgtemp_c"`
		AvgTempF          float64      `json:"avgtemp_f"`
		Condition         apiCondition `json:"condition"`
		DailyChanceOfRain int          `json:"daily_chance_of_rain"`
		DailyChanceOfSnow int          `json:"daily_chance_of_snow"`
	} `json:"day"`
	Hour []struct {
		Time         string       `json:"time"`
		TempC        float64      `json:"temp_c"`
		TempF        float64      `json:"temp_f"`
		Condition    apiCondition `json:"condition"`
		ChanceOfRain int          `json:"chance_of_rain"`
	} `json:"hour"`
}
