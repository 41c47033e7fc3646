package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const weatherPhrase = "weather in"

// weatherApology is the fixed reply for any weather lookup failure.
const weatherApology = "Sorry, I couldn't find that city's weather."

// WeatherHandler answers "weather in <city>" via Open-Meteo: a geocoding
// call resolves the city to coordinates, then a forecast call fetches the
// current temperature and wind speed.
type WeatherHandler struct {
	client *WeatherClient
	titler cases.Caser
}

// NewWeatherHandler creates a weather handler backed by the given client.
func NewWeatherHandler(client *WeatherClient) *WeatherHandler {
	return &WeatherHandler{
		client: client,
		titler: cases.Title(language.English),
	}
}

// Match implements Handler.
func (h *WeatherHandler) Match(normalized string) bool {
	return strings.Contains(normalized, weatherPhrase)
}

// Reply implements Handler. Lookup failures are logged and collapsed into
// a fixed apology; no error ever escapes to the caller.
func (h *WeatherHandler) Reply(ctx context.Context, _, original string) string {
	city := extractCity(original)
	if city == "" {
		return weatherApology
	}

	lat, lon, err := h.client.Geocode(ctx, city)
	if err != nil {
		slog.Warn("Weather tool: geocoding failed", "city", city, "error", err)
		return weatherApology
	}

	temp, wind, err := h.client.CurrentWeather(ctx, lat, lon)
	if err != nil {
		slog.Warn("Weather tool: forecast failed", "city", city, "error", err)
		return weatherApology
	}

	return fmt.Sprintf("The current weather in %s is %s°C with wind speeds of %s km/h.",
		h.titler.String(city), formatFloat(temp), formatFloat(wind))
}

// extractCity takes the text after the last occurrence of "weather in",
// trimmed of whitespace and a trailing question mark. Extraction runs on
// the original message so the city keeps its casing.
func extractCity(original string) string {
	idx := strings.LastIndex(strings.ToLower(original), weatherPhrase)
	if idx < 0 {
		return ""
	}
	city := original[idx+len(weatherPhrase):]
	city = strings.TrimSpace(city)
	city = strings.TrimSuffix(city, "?")
	return strings.TrimSpace(city)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WeatherClient calls the Open-Meteo geocoding and forecast APIs.
type WeatherClient struct {
	httpClient  *http.Client
	geocodeURL  string
	forecastURL string
}

// NewWeatherClient creates a client against the public Open-Meteo endpoints.
func NewWeatherClient(timeout time.Duration) *WeatherClient {
	return &WeatherClient{
		httpClient:  &http.Client{Timeout: timeout},
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
	}
}

// NewWeatherClientWithEndpoints creates a client against custom endpoints.
// Used by tests to point at a stub server.
func NewWeatherClientWithEndpoints(httpClient *http.Client, geocodeURL, forecastURL string) *WeatherClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WeatherClient{
		httpClient:  httpClient,
		geocodeURL:  geocodeURL,
		forecastURL: forecastURL,
	}
}

type geocodeResponse struct {
	Results []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	CurrentWeather *struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
	} `json:"current_weather"`
}

// Geocode resolves a city name to coordinates, taking the first result.
func (c *WeatherClient) Geocode(ctx context.Context, city string) (lat, lon float64, err error) {
	u := c.geocodeURL + "?name=" + url.QueryEscape(city) + "&count=1"

	var data geocodeResponse
	if err := c.getJSON(ctx, u, &data); err != nil {
		return 0, 0, fmt.Errorf("geocode %q: %w", city, err)
	}
	if len(data.Results) == 0 {
		return 0, 0, fmt.Errorf("geocode %q: no results", city)
	}
	return data.Results[0].Latitude, data.Results[0].Longitude, nil
}

// CurrentWeather fetches the current temperature (°C) and wind speed (km/h).
func (c *WeatherClient) CurrentWeather(ctx context.Context, lat, lon float64) (temp, wind float64, err error) {
	u := fmt.Sprintf("%s?latitude=%s&longitude=%s&current_weather=true",
		c.forecastURL, formatFloat(lat), formatFloat(lon))

	var data forecastResponse
	if err := c.getJSON(ctx, u, &data); err != nil {
		return 0, 0, fmt.Errorf("current weather: %w", err)
	}
	if data.CurrentWeather == nil {
		return 0, 0, fmt.Errorf("current weather: missing current_weather field")
	}
	return data.CurrentWeather.Temperature, data.CurrentWeather.WindSpeed, nil
}

func (c *WeatherClient) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close weather response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
