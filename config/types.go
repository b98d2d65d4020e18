package config

// Risk carries decimal-string overrides for the risk parameters applied to
// newly created lending pools. Empty values keep the engine defaults.
type Risk struct {
	ReserveFactor         string `toml:"ReserveFactor"`
	KinkUtilizationRate   string `toml:"KinkUtilizationRate"`
	AdjustSpeedPerDay     string `toml:"AdjustSpeedPerDay"`
	KinkBorrowRatePerYear string `toml:"KinkBorrowRatePerYear"`
	// SafetyMargin is the full margin; pools store its square root.
	SafetyMargin         string `toml:"SafetyMargin"`
	LiquidationIncentive string `toml:"LiquidationIncentive"`
}

// Oracle controls the reference price oracle.
type Oracle struct {
	TWAPWindowSeconds uint64 `toml:"TWAPWindowSeconds"`
	SampleCap         int    `toml:"SampleCap"`
}

// Roles names the factory accounts as hex addresses.
type Roles struct {
	Admin         string `toml:"Admin"`
	ReservesAdmin string `toml:"ReservesAdmin"`
}
