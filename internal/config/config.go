package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"BiasSentinel/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Symbol        string            `yaml:"symbol"`
	Timeframes    []model.Timeframe `yaml:"timeframes"`
	BaseTimeframe model.Timeframe   `yaml:"base_timeframe"`
	HTFTimeframes []model.Timeframe `yaml:"htf_timeframes"`
	WindowBars    int               `yaml:"window_bars"`

	Features  Features  `yaml:"features"`
	Structure Structure `yaml:"structure"`
	Zones     Zones     `yaml:"zones"`
	Liquidity Liquidity `yaml:"liquidity"`
	Scoring   Scoring   `yaml:"scoring"`
	Gate      Gate      `yaml:"gate"`
	Plan      Plan      `yaml:"plan"`

	Schedule struct {
		CycleCron    string        `yaml:"cycle_cron"`
		CycleTimeout time.Duration `yaml:"cycle_timeout"`
		FeedTimeout  time.Duration `yaml:"feed_timeout"`
	} `yaml:"schedule"`
	Feed struct {
		Kind    string `yaml:"kind"`
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		WSURL   string `yaml:"ws_url"`
		Proxy   string `yaml:"proxy"`
	} `yaml:"feed"`
	Storage struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
		WarmupBars  int    `yaml:"warmup_bars"`
	} `yaml:"storage"`
	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	RunOnStart bool `yaml:"run_on_start"`
}

// Features configures the feature extractor.
type Features struct {
	EMAFast         int `yaml:"ema_fast"`
	EMASlow         int `yaml:"ema_slow"`
	ATRPeriod       int `yaml:"atr_period"`
	ZScoreWindow    int `yaml:"zscore_window"`
	RSIPeriod       int `yaml:"rsi_period"`
	ATRMedianWindow int `yaml:"atr_median_window"`
}

// Structure configures swing detection and break classification.
type Structure struct {
	SwingWindow   int `yaml:"swing_window"`
	FailWindow    int `yaml:"fail_window"`
	SwingLookback int `yaml:"swing_lookback"`
}

// Zones configures zone detection and lifecycle.
type Zones struct {
	MinBaseBars       int     `yaml:"min_base_bars"`
	MaxBaseBars       int     `yaml:"max_base_bars"`
	CompressionRatio  float64 `yaml:"compression_ratio"`
	DisplacementRatio float64 `yaml:"displacement_ratio"`
	ExpiryBars        int     `yaml:"expiry_bars"`
	MaxActive         int     `yaml:"max_active"`
}

// Liquidity configures the liquidity detector.
type Liquidity struct {
	PierceATR     float64 `yaml:"pierce_atr"`
	ScanBars      int     `yaml:"scan_bars"`
	FakeoutBars   int     `yaml:"fakeout_bars"`
	WickBodyRatio float64 `yaml:"wick_body_ratio"`
	RetestBars    int     `yaml:"retest_bars"`
	TouchATR      float64 `yaml:"touch_atr"`
}

// Weights are the per-factor weights of the bias score.
type Weights struct {
	HTFTrend  float64 `yaml:"htf_trend"`
	EMA       float64 `yaml:"ema"`
	Structure float64 `yaml:"structure"`
	Volume    float64 `yaml:"volume"`
	ATR       float64 `yaml:"atr"`
	Zone      float64 `yaml:"zone"`
	Liquidity float64 `yaml:"liquidity"`
}

// Sum is the total weight.
func (w Weights) Sum() float64 {
	return w.HTFTrend + w.EMA + w.Structure + w.Volume + w.ATR + w.Zone + w.Liquidity
}

// Scoring configures the bias scoring engine.
type Scoring struct {
	Weights          Weights   `yaml:"weights"`
	Scale            float64   `yaml:"scale"`
	Bands            []float64 `yaml:"bands"`
	MinorThreshold   float64   `yaml:"minor_threshold"`
	ZScoreScale      float64   `yaml:"zscore_scale"`
	ZoneProximityATR float64   `yaml:"zone_proximity_atr"`
	DeadATRRatio     float64   `yaml:"dead_atr_ratio"`
}

// Gate configures the informational trade gate.
type Gate struct {
	MinATR      map[model.Timeframe]float64 `yaml:"min_atr"`
	DeadVolumeZ float64                     `yaml:"dead_volume_z"`
}

// Plan configures the trade plan builder. Distances are in ATR of the entry
// timeframe; MinDistance is an absolute floor in price units.
type Plan struct {
	EntryTimeframe model.Timeframe `yaml:"entry_timeframe"`
	StopATR        float64         `yaml:"stop_atr"`
	MinDistance    float64         `yaml:"min_distance"`
	TargetATR      []float64       `yaml:"target_atr"`
	FarATR         float64         `yaml:"far_atr"`
	MaxConfidence  float64         `yaml:"max_confidence"`
}

// envOverrides are applied on top of the YAML file. Pointer fields stay nil
// when the variable is not set.
type envOverrides struct {
	Symbol        *string        `envconfig:"SYMBOL"`
	FeedKind      *string        `envconfig:"FEED_KIND"`
	FeedBaseURL   *string        `envconfig:"FEED_BASE_URL"`
	FeedAPIKey    *string        `envconfig:"FEED_API_KEY"`
	FeedWSURL     *string        `envconfig:"FEED_WS_URL"`
	Proxy         *string        `envconfig:"HTTPS_PROXY"`
	CycleCron     *string        `envconfig:"CYCLE_CRON"`
	CycleTimeout  *time.Duration `envconfig:"CYCLE_TIMEOUT"`
	FeedTimeout   *time.Duration `envconfig:"FEED_TIMEOUT"`
	StorageDriver *string        `envconfig:"STORAGE_DRIVER"`
	SQLitePath    *string        `envconfig:"SQLITE_PATH"`
	PostgresDSN   *string        `envconfig:"POSTGRES_DSN"`
	MetricsAddr   *string        `envconfig:"METRICS_ADDR"`
	RunOnStart    *bool          `envconfig:"RUN_ON_START"`
}

// Load reads config from a YAML file, then a .env file, then applies
// environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	env.apply(cfg)

	cfg.ApplyDefaults()
	return cfg, nil
}

func (e *envOverrides) apply(cfg *Config) {
	setString(&cfg.Symbol, e.Symbol)
	setString(&cfg.Feed.Kind, e.FeedKind)
	setString(&cfg.Feed.BaseURL, e.FeedBaseURL)
	setString(&cfg.Feed.APIKey, e.FeedAPIKey)
	setString(&cfg.Feed.WSURL, e.FeedWSURL)
	setString(&cfg.Feed.Proxy, e.Proxy)
	setString(&cfg.Schedule.CycleCron, e.CycleCron)
	setString(&cfg.Storage.Driver, e.StorageDriver)
	setString(&cfg.Storage.SQLitePath, e.SQLitePath)
	setString(&cfg.Storage.PostgresDSN, e.PostgresDSN)
	setString(&cfg.Metrics.ListenAddr, e.MetricsAddr)
	if e.CycleTimeout != nil {
		cfg.Schedule.CycleTimeout = *e.CycleTimeout
	}
	if e.FeedTimeout != nil {
		cfg.Schedule.FeedTimeout = *e.FeedTimeout
	}
	if e.RunOnStart != nil {
		cfg.RunOnStart = *e.RunOnStart
	}
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero-valued option with its default.
func (c *Config) ApplyDefaults() {
	if c.Symbol == "" {
		c.Symbol = "XAUUSD"
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = []model.Timeframe{model.M15, model.H1, model.H4}
	}
	if len(c.HTFTimeframes) == 0 {
		c.HTFTimeframes = []model.Timeframe{model.H1, model.H4}
	}
	if c.WindowBars == 0 {
		c.WindowBars = 300
	}

	f := &c.Features
	if f.EMAFast == 0 {
		f.EMAFast = 50
	}
	if f.EMASlow == 0 {
		f.EMASlow = 200
	}
	if f.ATRPeriod == 0 {
		f.ATRPeriod = 14
	}
	if f.ZScoreWindow == 0 {
		f.ZScoreWindow = 20
	}
	if f.RSIPeriod == 0 {
		f.RSIPeriod = 14
	}
	if f.ATRMedianWindow == 0 {
		f.ATRMedianWindow = 50
	}

	s := &c.Structure
	if s.SwingWindow == 0 {
		s.SwingWindow = 3
	}
	if s.FailWindow == 0 {
		s.FailWindow = 5
	}
	if s.SwingLookback == 0 {
		s.SwingLookback = 10
	}

	z := &c.Zones
	if z.MinBaseBars == 0 {
		z.MinBaseBars = 2
	}
	if z.MaxBaseBars == 0 {
		z.MaxBaseBars = 6
	}
	if z.CompressionRatio == 0 {
		z.CompressionRatio = 0.5
	}
	if z.DisplacementRatio == 0 {
		z.DisplacementRatio = 1.5
	}
	if z.ExpiryBars == 0 {
		z.ExpiryBars = 150
	}
	if z.MaxActive == 0 {
		z.MaxActive = 8
	}

	l := &c.Liquidity
	if l.PierceATR == 0 {
		l.PierceATR = 0.05
	}
	if l.ScanBars == 0 {
		l.ScanBars = 5
	}
	if l.FakeoutBars == 0 {
		l.FakeoutBars = 3
	}
	if l.WickBodyRatio == 0 {
		l.WickBodyRatio = 2.0
	}
	if l.RetestBars == 0 {
		l.RetestBars = 20
	}
	if l.TouchATR == 0 {
		l.TouchATR = 0.1
	}

	sc := &c.Scoring
	if sc.Weights.Sum() == 0 {
		sc.Weights = Weights{
			HTFTrend:  0.25,
			EMA:       0.15,
			Structure: 0.20,
			Volume:    0.05,
			ATR:       0.05,
			Zone:      0.15,
			Liquidity: 0.15,
		}
	}
	if sc.Scale == 0 {
		sc.Scale = 10
	}
	if len(sc.Bands) == 0 {
		sc.Bands = []float64{1, 4, 7}
	}
	if sc.MinorThreshold == 0 {
		sc.MinorThreshold = 0.25
	}
	if sc.ZScoreScale == 0 {
		sc.ZScoreScale = 2.0
	}
	if sc.ZoneProximityATR == 0 {
		sc.ZoneProximityATR = 1.5
	}
	if sc.DeadATRRatio == 0 {
		sc.DeadATRRatio = 0.6
	}

	if c.Gate.DeadVolumeZ == 0 {
		c.Gate.DeadVolumeZ = -3.0
	}

	pl := &c.Plan
	if pl.EntryTimeframe == "" {
		pl.EntryTimeframe = c.Timeframes[0]
	}
	if pl.StopATR == 0 {
		pl.StopATR = 0.35
	}
	if len(pl.TargetATR) == 0 {
		pl.TargetATR = []float64{1, 2, 3}
	}
	if pl.FarATR == 0 {
		pl.FarATR = 2.0
	}
	if pl.MaxConfidence == 0 {
		pl.MaxConfidence = 80
	}

	if c.Schedule.CycleCron == "" {
		c.Schedule.CycleCron = "@every 1m"
	}
	if c.Schedule.CycleTimeout == 0 {
		c.Schedule.CycleTimeout = 20 * time.Second
	}
	if c.Schedule.FeedTimeout == 0 {
		c.Schedule.FeedTimeout = 5 * time.Second
	}
	if c.Feed.Kind == "" {
		c.Feed.Kind = "rest"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/bias_sentinel.db"
	}
	if c.Storage.WarmupBars == 0 {
		c.Storage.WarmupBars = c.defaultWarmupBars()
	}
}

// defaultWarmupBars is enough source bars to refill the window of the
// largest tracked timeframe. With aggregation every derived bar costs
// tf/base base bars.
func (c *Config) defaultWarmupBars() int {
	if c.BaseTimeframe == "" || !c.BaseTimeframe.Valid() {
		return c.WindowBars
	}
	ratio := 1
	for _, tf := range c.Timeframes {
		if !tf.Valid() {
			continue
		}
		if r := int(tf.Duration() / c.BaseTimeframe.Duration()); r > ratio {
			ratio = r
		}
	}
	return c.WindowBars * ratio
}

// SourceTimeframes are the timeframes pulled from the feed: the base
// timeframe when aggregation is on, otherwise every tracked timeframe.
func (c *Config) SourceTimeframes() []model.Timeframe {
	if c.BaseTimeframe != "" {
		return []model.Timeframe{c.BaseTimeframe}
	}
	return c.Timeframes
}

// Validate checks that the analytical configuration is coherent.
func (c *Config) Validate() error {
	if len(c.Timeframes) == 0 {
		return errors.New("timeframes must not be empty")
	}
	seen := make(map[model.Timeframe]bool)
	for _, tf := range c.Timeframes {
		if !tf.Valid() {
			return fmt.Errorf("timeframes: unknown timeframe %q", tf)
		}
		if seen[tf] {
			return fmt.Errorf("timeframes: duplicate timeframe %q", tf)
		}
		seen[tf] = true
	}
	for _, tf := range c.HTFTimeframes {
		if !seen[tf] {
			return fmt.Errorf("htf_timeframes: %q is not a tracked timeframe", tf)
		}
	}
	if c.BaseTimeframe != "" {
		if !c.BaseTimeframe.Valid() {
			return fmt.Errorf("base_timeframe: unknown timeframe %q", c.BaseTimeframe)
		}
		base := c.BaseTimeframe.Duration()
		for _, tf := range c.Timeframes {
			d := tf.Duration()
			if d < base || d%base != 0 {
				return fmt.Errorf("base_timeframe %s does not evenly divide %s", c.BaseTimeframe, tf)
			}
		}
	}

	f := c.Features
	if f.EMAFast <= 0 || f.EMASlow <= 0 || f.ATRPeriod <= 0 || f.ZScoreWindow <= 1 || f.RSIPeriod <= 0 || f.ATRMedianWindow <= 0 {
		return errors.New("features: periods and windows must be positive")
	}
	if f.EMAFast >= f.EMASlow {
		return fmt.Errorf("features: ema_fast (%d) must be below ema_slow (%d)", f.EMAFast, f.EMASlow)
	}
	if c.WindowBars < f.EMASlow+f.ATRPeriod {
		return fmt.Errorf("window_bars (%d) must be at least ema_slow+atr_period (%d)", c.WindowBars, f.EMASlow+f.ATRPeriod)
	}

	if c.Structure.SwingWindow <= 0 || c.Structure.FailWindow <= 0 || c.Structure.SwingLookback <= 0 {
		return errors.New("structure: windows must be positive")
	}

	z := c.Zones
	if z.MinBaseBars <= 0 || z.MaxBaseBars < z.MinBaseBars {
		return errors.New("zones: need 0 < min_base_bars <= max_base_bars")
	}
	if z.CompressionRatio <= 0 || z.DisplacementRatio <= z.CompressionRatio {
		return errors.New("zones: need 0 < compression_ratio < displacement_ratio")
	}
	if z.ExpiryBars <= 0 || z.MaxActive <= 0 {
		return errors.New("zones: expiry_bars and max_active must be positive")
	}

	l := c.Liquidity
	if l.ScanBars <= 0 || l.FakeoutBars <= 0 || l.RetestBars <= 0 || l.WickBodyRatio <= 0 || l.PierceATR < 0 || l.TouchATR < 0 {
		return errors.New("liquidity: windows and ratios must be positive")
	}

	sc := c.Scoring
	w := sc.Weights
	for _, v := range []float64{w.HTFTrend, w.EMA, w.Structure, w.Volume, w.ATR, w.Zone, w.Liquidity} {
		if v < 0 {
			return errors.New("scoring: weights must not be negative")
		}
	}
	if w.Sum() == 0 {
		return errors.New("scoring: weights must not all be zero")
	}
	if sc.Scale <= 0 {
		return errors.New("scoring: scale must be positive")
	}
	if len(sc.Bands) != 3 {
		return fmt.Errorf("scoring: bands must have 3 thresholds, got %d", len(sc.Bands))
	}
	if !(0 < sc.Bands[0] && sc.Bands[0] < sc.Bands[1] && sc.Bands[1] < sc.Bands[2]) {
		return errors.New("scoring: bands must be positive and strictly increasing")
	}

	pl := c.Plan
	if !seen[pl.EntryTimeframe] {
		return fmt.Errorf("plan.entry_timeframe: %q is not a tracked timeframe", pl.EntryTimeframe)
	}
	if pl.StopATR <= 0 || pl.MinDistance < 0 || pl.FarATR <= 0 {
		return errors.New("plan: stop_atr and far_atr must be positive, min_distance not negative")
	}
	if len(pl.TargetATR) != 3 {
		return fmt.Errorf("plan: target_atr must have 3 multiples, got %d", len(pl.TargetATR))
	}
	if !(0 < pl.TargetATR[0] && pl.TargetATR[0] < pl.TargetATR[1] && pl.TargetATR[1] < pl.TargetATR[2]) {
		return errors.New("plan: target_atr must be positive and strictly increasing")
	}
	if pl.MaxConfidence <= 0 || pl.MaxConfidence > 100 {
		return errors.New("plan: max_confidence must be in (0, 100]")
	}

	if c.Schedule.CycleTimeout <= 0 || c.Schedule.FeedTimeout <= 0 {
		return errors.New("schedule: timeouts must be positive")
	}
	switch c.Feed.Kind {
	case "rest":
		if c.Feed.BaseURL == "" {
			return errors.New("feed.base_url is required for the rest feed")
		}
	case "ws":
		if c.Feed.WSURL == "" {
			return errors.New("feed.ws_url is required for the ws feed")
		}
	case "replay":
	default:
		return fmt.Errorf("feed.kind: unknown kind %q", c.Feed.Kind)
	}
	switch c.Storage.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	return nil
}
