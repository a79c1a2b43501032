package indengine

import (
	"fmt"
	"os"
	"strings"

	"github.com/DaveSkender/Stock.Indicators-sub014/config"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
)

// Config holds all env-parsed configuration for the indicator engine service.
type Config struct {
	RedisAddr          string
	RedisPassword      string
	SQLitePath         string
	ConsumerGroup      string
	ConsumerName       string
	EnabledTFs         []int
	SourceTF           int // when set, consume this TF and roll it up into EnabledTFs
	SnapshotIntervalS  int
	SnapshotMaxCandles int
	SubscribeTokenKeys []string // "exchange:token" keys
	SnapshotKey        string
	HTTPAddr           string
	MetricsAddr        string
	PELIntervalS       int
	PELMinIdleMs       int64
	LogLevel           string
	IndicatorConfigs   []indicator.TFIndicatorConfig
}

// LoadConfig reads all environment variables and returns a Config.
//
// Indicators come from INDICATOR_CONFIG_FILE (YAML, per timeframe) when set,
// otherwise from INDICATOR_CONFIGS applied to every enabled TF. A malformed
// spec is an error rather than a silent default.
func LoadConfig() (Config, error) {
	base := config.Load()
	cfg := Config{
		RedisAddr:          base.RedisAddr,
		RedisPassword:      base.RedisPassword,
		SQLitePath:         base.SQLitePath,
		ConsumerGroup:      config.GetEnv("CONSUMER_GROUP", "indengine"),
		ConsumerName:       config.GetEnv("CONSUMER_NAME", hostname()),
		SourceTF:           config.GetInt("SOURCE_TF", 0),
		SnapshotIntervalS:  config.GetInt("SNAPSHOT_INTERVAL_SEC", 30),
		SnapshotMaxCandles: config.GetInt("SNAPSHOT_MAX_CANDLES", 1000),
		SubscribeTokenKeys: base.TokenKeys(),
		SnapshotKey:        config.GetEnv("SNAPSHOT_KEY", "ind:snapshot:engine"),
		HTTPAddr:           config.GetEnv("INDENGINE_HTTP_ADDR", ":9095"),
		MetricsAddr:        base.MetricsAddr,
		PELIntervalS:       config.GetInt("PEL_RECLAIM_INTERVAL_SEC", 30),
		PELMinIdleMs:       int64(config.GetInt("PEL_MIN_IDLE_MS", 60000)),
		LogLevel:           base.LogLevel,
	}
	if cfg.SnapshotIntervalS <= 0 {
		cfg.SnapshotIntervalS = 30
	}
	if cfg.PELIntervalS <= 0 {
		cfg.PELIntervalS = 30
	}
	if cfg.PELMinIdleMs <= 0 {
		cfg.PELMinIdleMs = 60000
	}

	if path := config.GetEnv("INDICATOR_CONFIG_FILE", ""); path != "" {
		configs, err := indicator.LoadConfigFile(path)
		if err != nil {
			return cfg, err
		}
		cfg.IndicatorConfigs = configs
		cfg.EnabledTFs = make([]int, len(configs))
		for i, c := range configs {
			cfg.EnabledTFs[i] = c.TF
		}
	} else {
		tfs, err := base.ParseTFs()
		if err != nil {
			return cfg, err
		}
		cfg.EnabledTFs = tfs
		if cfg.IndicatorConfigs, err = BuildIndicatorConfigs(tfs, config.GetEnv("INDICATOR_CONFIGS", "")); err != nil {
			return cfg, err
		}
	}

	for _, tf := range cfg.EnabledTFs {
		if cfg.SourceTF > 0 && tf%cfg.SourceTF != 0 {
			return cfg, fmt.Errorf("TF %d is not a multiple of SOURCE_TF %d", tf, cfg.SourceTF)
		}
	}
	return cfg, indicator.ValidateConfigs(cfg.IndicatorConfigs)
}

// BuildIndicatorConfigs applies one spec list to every TF.
// Format: "TYPE:PERIOD[:PART][@SOURCE][/EXCHANGE:TOKEN],..."
// Example: "SMA:20,EMA:9@SMA_20,RSI:14:HLC3,PRS:10/NSE:26000"
// An empty list selects the default indicators.
func BuildIndicatorConfigs(tfs []int, specs string) ([]indicator.TFIndicatorConfig, error) {
	inds := indicator.DefaultSpecs()
	if strings.TrimSpace(specs) != "" {
		var err error
		if inds, err = indicator.ParseSpecs(specs); err != nil {
			return nil, err
		}
	}
	configs := make([]indicator.TFIndicatorConfig, len(tfs))
	for i, tf := range tfs {
		configs[i] = indicator.TFIndicatorConfig{
			TF:         tf,
			Indicators: inds,
		}
	}
	return configs, nil
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "worker-1"
}
