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
	"sync"
	"time"

	"underground-bot/internal/domain"
)

// locationResponse is the minimal response shape of the location search
// endpoint; candidates are parallel arrays.
type locationResponse struct {
	Location struct {
		Latitude  []float64 `json:"latitude"`
		Longitude []float64 `json:"longitude"`
		Address   []string  `json:"address"`
	} `json:"location"`
}

// forecastResponse is the minimal response shape of the 10-day daily
// forecast endpoint.
type forecastResponse struct {
	Forecasts []struct {
		Narrative string `json:"narrative"`
		Day       *struct {
			DaypartName string `json:"daypart_name"`
		} `json:"day"`
	} `json:"forecasts"`
}

// credentialsPayload is the expected JSON shape stored in SSM for the
// weather service credentials.
type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("weather: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the weather data service: a location search and a
// geocode-keyed daily forecast, both basic-auth.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	credsOnce sync.Once
	creds     credentialsPayload
	credsErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore Getter for
// credential retrieval. Credentials are fetched from SSM on first use and
// reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("weather: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("weather: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://twcservice.mybluemix.net",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveCredentials(ctx context.Context) (credentialsPayload, error) {
	c.credsOnce.Do(func() {
		c.creds, c.credsErr = fetchCredentials(ctx, c.getter, c.paramPrefix+"/weather-credentials")
	})
	return c.creds, c.credsErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// SearchLocation resolves a free-text query to a location record. When the
// service returns multiple candidates the first one is taken.
func (c *Client) SearchLocation(ctx context.Context, query string) (domain.Location, error) {
	u := strings.TrimRight(c.baseURL, "/") +
		"/api/weather/v3/location/search?query=" + url.QueryEscape(query) + "&language=en-US"

	raw, err := c.getJSON(ctx, u)
	if err != nil {
		return domain.Location{}, fmt.Errorf("weather: location search failed: %w", err)
	}

	var payload locationResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.Location{}, fmt.Errorf("weather: decode location response: %w", decErr)
	}
	loc := payload.Location
	if len(loc.Latitude) == 0 || len(loc.Longitude) == 0 || len(loc.Address) == 0 {
		return domain.Location{}, fmt.Errorf("weather: no location candidates for %q", query)
	}
	return domain.Location{
		Latitude:  loc.Latitude[0],
		Longitude: loc.Longitude[0],
		Address:   loc.Address[0],
	}, nil
}

// DailyForecast fetches the 10-day daily forecast for the given
// coordinates, ordered from today onward.
func (c *Client) DailyForecast(ctx context.Context, latitude, longitude float64) ([]domain.DayForecast, error) {
	u := strings.TrimRight(c.baseURL, "/") +
		"/api/weather/v1/geocode/" + formatCoord(latitude) + "/" + formatCoord(longitude) +
		"/forecast/daily/10day.json"

	raw, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("weather: forecast fetch failed: %w", err)
	}

	var payload forecastResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("weather: decode forecast response: %w", decErr)
	}
	if len(payload.Forecasts) == 0 {
		return nil, errors.New("weather: no forecasts in response")
	}

	out := make([]domain.DayForecast, 0, len(payload.Forecasts))
	for _, f := range payload.Forecasts {
		df := domain.DayForecast{Narrative: f.Narrative}
		// The day part is absent for today once it has expired.
		if f.Day != nil {
			df.DaypartName = f.Day.DaypartName
		}
		out = append(out, df)
	}
	return out, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c *Client) getJSON(ctx context.Context, u string) ([]byte, error) {
	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if reqErr != nil {
		return nil, fmt.Errorf("create request: %w", reqErr)
	}
	req.SetBasicAuth(creds.Username, creds.Password)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchCredentials(ctx context.Context, getter Getter, name string) (credentialsPayload, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return credentialsPayload{}, fmt.Errorf("weather: fetch credentials from paramstore: %w", err)
	}
	var cp credentialsPayload
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return credentialsPayload{}, fmt.Errorf("weather: unmarshal paramstore credentials as JSON: %w", err)
	}
	if cp.Username == "" || cp.Password == "" {
		return credentialsPayload{}, errors.New("weather: credentials are incomplete")
	}
	return cp, nil
}
