// Package weather fetches current conditions for a free-text location and
// renders the broadcast message.
package weather

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNoData means the provider answered but had nothing for the location.
	ErrNoData      = errors.New("no weather data for location")
	ErrCircuitOpen = errors.New("weather provider circuit open")
)

// FallbackText replaces the forecast when conditions cannot be fetched.
const FallbackText = "Failed to fetch weather data. Please try again later."

// Conditions is the subset of current conditions the bot reports.
type Conditions struct {
	Description  string  `json:"description"`
	TemperatureC float64 `json:"temperature_c"`
}

// Provider looks up current conditions for a free-form location.
type Provider interface {
	Current(ctx context.Context, location string) (Conditions, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, location string) (Conditions, error)

func (f ProviderFunc) Current(ctx context.Context, location string) (Conditions, error) {
	return f(ctx, location)
}

// Format renders the per-recipient broadcast text.
func Format(location string, c Conditions) string {
	return fmt.Sprintf("The weather in %s is %s with a temperature of %s°C.",
		location, c.Description, strconv.FormatFloat(c.TemperatureC, 'f', -1, 64))
}
