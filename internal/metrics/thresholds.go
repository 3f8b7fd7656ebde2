package metrics

import "git-metrics/internal/config"

// Thresholds are the policy knobs of the metrics engine.
type Thresholds struct {
	// BusFactorMajority is the cumulative share that must be strictly exceeded.
	BusFactorMajority float64
	// SingleOwnerThreshold is the top share (inclusive) marking a file single-owner.
	SingleOwnerThreshold float64
	// RoleCoreShare and RoleRegularShare are commit shares in percent.
	RoleCoreShare         float64
	RoleRegularShare      float64
	RoleCoreTenureDays    int
	// HighRiskFileLimit truncates the high-risk list. Zero lists every file.
	HighRiskFileLimit     int
	HotspotLimit          int
	TopContributorLimit   int
	ChurnContributorLimit int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BusFactorMajority:     0.5,
		SingleOwnerThreshold:  0.8,
		RoleCoreShare:         30,
		RoleRegularShare:      10,
		RoleCoreTenureDays:    365,
		HighRiskFileLimit:     0,
		HotspotLimit:          20,
		TopContributorLimit:   10,
		ChurnContributorLimit: 30,
	}
}

// ThresholdsFromConfig maps configuration onto Thresholds.
func ThresholdsFromConfig(c config.MetricsConfig) Thresholds {
	return Thresholds{
		BusFactorMajority:     c.BusFactorMajority,
		SingleOwnerThreshold:  c.SingleOwnerThreshold,
		RoleCoreShare:         c.RoleCoreShare,
		RoleRegularShare:      c.RoleRegularShare,
		RoleCoreTenureDays:    c.RoleCoreTenureDays,
		HighRiskFileLimit:     c.HighRiskFileLimit,
		HotspotLimit:          c.HotspotLimit,
		TopContributorLimit:   c.TopContributorLimit,
		ChurnContributorLimit: c.ChurnContributorLimit,
	}
}
