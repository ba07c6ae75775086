package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

const DefaultBaseURL = "https://api.weatherbit.io/v2.0"

// WeatherbitConfig configures the Weatherbit current-conditions client.
type WeatherbitConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Weatherbit queries the Weatherbit "current" endpoint.
type Weatherbit struct {
	base    string
	key     string
	client  *http.Client
	timeout atomic.Int64
}

// NewWeatherbit returns a client. An API key is required.
func NewWeatherbit(cfg WeatherbitConfig) (*Weatherbit, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("weather api key is empty")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("weather base url: %w", err)
	}
	w := &Weatherbit{base: base, key: cfg.APIKey, client: &http.Client{}}
	w.SetTimeout(cfg.Timeout)
	return w, nil
}

// SetTimeout bounds each request from now on; <=0 restores the 10s default.
func (w *Weatherbit) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = 10 * time.Second
	}
	w.timeout.Store(int64(d))
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("weatherbit: http %d: %s", e.Code, e.Body)
}

type currentResponse struct {
	Data []struct {
		CityName string  `json:"city_name"`
		Temp     float64 `json:"temp"`
		Weather  struct {
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"data"`
}

// Current fetches current conditions for location. An empty data array is
// ErrNoData; non-2xx responses are *StatusError.
func (w *Weatherbit) Current(ctx context.Context, location string) (Conditions, error) {
	q := url.Values{}
	q.Set("city", location)
	q.Set("key", w.key)
	q.Set("units", "M")

	ctx, cancel := context.WithTimeout(ctx, time.Duration(w.timeout.Load()))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.base+"/current?"+q.Encode(), nil)
	if err != nil {
		return Conditions{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		// The request URL carries the API key; keep it out of the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return Conditions{}, fmt.Errorf("weatherbit: %w", uerr.Err)
		}
		return Conditions{}, fmt.Errorf("weatherbit: %w", err)
	}
	defer resp.Body.Close()

	// 204 is how Weatherbit reports an unknown city.
	if resp.StatusCode == http.StatusNoContent {
		return Conditions{}, ErrNoData
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Conditions{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var body currentResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Conditions{}, fmt.Errorf("weatherbit: decode: %w", err)
	}
	if len(body.Data) == 0 {
		return Conditions{}, ErrNoData
	}
	d := body.Data[0]
	return Conditions{Description: strings.ToLower(d.Weather.Description), TemperatureC: d.Temp}, nil
}
