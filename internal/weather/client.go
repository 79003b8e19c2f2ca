// Package weather fetches point-in-time weather readings used to enrich
// outgoing messages.
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
)

// FailureKind classifies why a reading could not be fetched.
type FailureKind string

const (
	// FailureTimeout indicates the provider did not answer within the deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureNetwork indicates the provider was unreachable.
	FailureNetwork FailureKind = "network"
	// FailureStatus indicates a non-2xx provider response.
	FailureStatus FailureKind = "status"
	// FailureMalformed indicates an unparseable provider payload.
	FailureMalformed FailureKind = "malformed"
)

// FetchError is the typed failure returned for any unsuccessful fetch.
type FetchError struct {
	Kind FailureKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("weather fetch (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Coordinate identifies the point a reading is requested for.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Reading is one current-weather observation. Transient; never persisted on
// its own, only embedded in a delivery log entry.
type Reading struct {
	TemperatureC float64   `json:"temperature_c"`
	WindSpeedKPH float64   `json:"wind_speed_kph"`
	ObservedAt   time.Time `json:"observed_at"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
}

// Fetcher is the minimal behavior the dispatcher needs from a weather source.
type Fetcher interface {
	Current(ctx context.Context, coord Coordinate) (*Reading, error)
}

// Config captures the subset of provider behaviour we need.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// Client fetches current-weather readings from an Open-Meteo style provider.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient builds a weather provider client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("weather base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  hc,
	}, nil
}

// providerResponse mirrors the provider's current-weather payload.
type providerResponse struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	CurrentWeather *struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		Time        string  `json:"time"`
	} `json:"current_weather"`
}

// Current fetches the current reading for the given coordinate. Any failure
// is a *FetchError; the call never blocks past the configured timeout.
func (c *Client) Current(ctx context.Context, coord Coordinate) (*Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(coord), nil)
	if err != nil {
		return nil, &FetchError{Kind: FailureMalformed, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyTransportError(err), Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			// body close failure is best-effort and ignored
			_ = cerr
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Kind: FailureStatus,
			Err:  fmt.Errorf("provider returned %s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	var payload providerResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr != nil {
		return nil, &FetchError{Kind: FailureMalformed, Err: fmt.Errorf("decode payload: %w", decodeErr)}
	}
	if payload.CurrentWeather == nil {
		return nil, &FetchError{Kind: FailureMalformed, Err: errors.New("payload missing current_weather")}
	}

	observedAt, parseErr := parseObservationTime(payload.CurrentWeather.Time)
	if parseErr != nil {
		return nil, &FetchError{Kind: FailureMalformed, Err: parseErr}
	}

	return &Reading{
		TemperatureC: payload.CurrentWeather.Temperature,
		WindSpeedKPH: payload.CurrentWeather.WindSpeed,
		ObservedAt:   observedAt,
		Latitude:     payload.Latitude,
		Longitude:    payload.Longitude,
	}, nil
}

func (c *Client) requestURL(coord Coordinate) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(coord.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(coord.Longitude, 'f', -1, 64))
	q.Set("current_weather", "true")
	return c.baseURL + "/v1/forecast?" + q.Encode()
}

// parseObservationTime accepts the provider's observation timestamp, which
// arrives as RFC3339 or as a minute-resolution value without an offset
// (provider times are UTC).
func parseObservationTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized observation time %q", value)
}

func classifyTransportError(err error) FailureKind {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureNetwork
}
