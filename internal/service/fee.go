package service

import (
	"fmt"

	"exchange/internal/config"
)

// FeePolicy computes the USD fee charged on a conversion of amountCents.
type FeePolicy interface {
	Fee(amountCents int64) (int64, error)
	Name() string
}

// PercentFee charges floor(amount * Percent / 100).
type PercentFee struct {
	Percent int64
}

func (p PercentFee) Fee(amountCents int64) (int64, error) {
	scaled, err := mulCents(amountCents, p.Percent)
	if err != nil {
		return 0, err
	}
	return scaled / 100, nil
}

func (p PercentFee) Name() string { return fmt.Sprintf("percent(%d)", p.Percent) }

// FixedFee charges the same amount regardless of size.
type FixedFee struct {
	Cents int64
}

func (f FixedFee) Fee(int64) (int64, error) { return f.Cents, nil }

func (f FixedFee) Name() string { return fmt.Sprintf("fixed(%d)", f.Cents) }

func NewFeePolicy(cfg config.FeeConfig) (FeePolicy, error) {
	switch cfg.Policy {
	case config.FeePolicyPercent, "":
		percent := cfg.Percent
		if percent == 0 {
			percent = 1
		}
		return PercentFee{Percent: percent}, nil
	case config.FeePolicyFixed:
		if cfg.FixedCents <= 0 {
			return nil, fmt.Errorf("fixed fee must be positive, got %d", cfg.FixedCents)
		}
		return FixedFee{Cents: cfg.FixedCents}, nil
	}
	return nil, fmt.Errorf("unknown fee policy %q", cfg.Policy)
}
