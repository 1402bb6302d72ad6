package bidengine

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/scrapline/bidengine/bidengine/database"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	cfg := DefaultConfig()
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a config with the settlement tunables at their
// production defaults; the TOML file overrides individual fields.
func DefaultConfig() Config {
	return Config{
		Settlement: SettlementConfig{
			RateLimitMaxBids:        5,
			RateLimitWindowMs:       1000,
			RateLimitSpacingMs:      500,
			PriceJumpThresholdPct:   10,
			CancelSpikeThresholdPct: 20,
			OutbidBackfillLimit:     10,
			SchedulerIntervalSec:    15,
		},
	}
}

type Config struct {
	Log        LogConfig         `toml:"log"`
	DB         database.DBConfig `toml:"db"`
	Settlement SettlementConfig  `toml:"settlement"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type SettlementConfig struct {
	// Hard gate: at most RateLimitMaxBids bids per bidder inside the window,
	// with future bids spaced at least RateLimitSpacingMs apart once tripped.
	RateLimitMaxBids   int `toml:"rate_limit_max_bids"`
	RateLimitWindowMs  int `toml:"rate_limit_window_ms"`
	RateLimitSpacingMs int `toml:"rate_limit_spacing_ms"`

	// Count bid attempts through the audit store instead of process memory,
	// so horizontally scaled instances share one window.
	SharedRateLimit bool `toml:"shared_rate_limit"`

	// Advisory thresholds; violations are flagged, never blocked.
	PriceJumpThresholdPct   float64 `toml:"price_jump_threshold_pct"`
	CancelSpikeThresholdPct float64 `toml:"cancel_spike_threshold_pct"`

	// How many recently-exceeded competing bids get an outbid ledger entry
	// per accepted bid. A performance bound, not an architectural limit.
	OutbidBackfillLimit int `toml:"outbid_backfill_limit"`

	SchedulerIntervalSec int `toml:"scheduler_interval_sec"`
}
