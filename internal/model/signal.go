package model

// FactorName identifies a scoring factor.
type FactorName string

const (
	FactorHTFTrend  FactorName = "htf_trend"
	FactorEMA       FactorName = "ema_relation"
	FactorStructure FactorName = "structure"
	FactorVolume    FactorName = "volume_regime"
	FactorATR       FactorName = "atr_regime"
	FactorZone      FactorName = "zone_location"
	FactorLiquidity FactorName = "liquidity"
)

// FactorScore represents a single factor's scoring result. RawScore is the
// normalized sub-score in [-1, 1]; Contribution is its share of the final
// score in score points.
type FactorScore struct {
	Name         FactorName `json:"name"`
	RawScore     float64    `json:"raw_score"`
	Weight       float64    `json:"weight"`
	Contribution float64    `json:"contribution"`
	Commentary   string     `json:"commentary,omitempty"`
}

// RationaleItem is one (factor, direction, magnitude) tuple handed to
// narrative formatters.
type RationaleItem struct {
	Factor    FactorName `json:"factor"`
	Direction Direction  `json:"direction"`
	Magnitude float64    `json:"magnitude"`
}

// Strength is the band a score magnitude falls into.
type Strength string

const (
	StrengthNeutral  Strength = "neutral"
	StrengthLight    Strength = "light"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// BiasResult is the final output of the scoring engine.
type BiasResult struct {
	Score     float64         `json:"score"`
	Label     string          `json:"label"`
	Strength  Strength        `json:"strength"`
	Direction Direction       `json:"direction"`
	Factors   []FactorScore   `json:"factors"`
	Rationale []RationaleItem `json:"rationale"`
}

// GateResult says whether conditions are tradable. It is informational and
// never changes the score.
type GateResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}
