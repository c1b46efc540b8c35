package rpc

import (
	"fmt"
	"time"

	"github.com/spooky-finn/orderbook-sync/domain"
)

const dateLayout = "2006-01-02"

type ValidationServiceConfig struct {
	AvailableProviders []string
}

type ValidationService struct {
	config *ValidationServiceConfig
}

func NewValidationService(config *ValidationServiceConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

func (s *ValidationService) IsSupportedProvider(provider string) bool {
	for _, p := range s.config.AvailableProviders {
		if p == provider {
			return true
		}
	}
	return false
}

func (s *ValidationService) Symbol(raw string) (*domain.MarketSymbol, error) {
	symbol, err := domain.NewMarketSymbolFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid market symbol %q, correct market symbol should use _ as a separator", raw)
	}
	return symbol, nil
}

// DateRange parses a YYYY-MM-DD pair. An empty to means today.
func (s *ValidationService) DateRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q, expected YYYY-MM-DD", from)
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	if to != "" {
		end, err = time.Parse(dateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q, expected YYYY-MM-DD", to)
		}
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("to date %s is before from date %s", to, from)
	}
	return start, end, nil
}
