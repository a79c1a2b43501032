package indicator

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// IndicatorConfig specifies one indicator node of a series graph.
type IndicatorConfig struct {
	Type   string `yaml:"type" json:"type"`                         // "SMA", "EMA", "SMMA", "RSI", "PRS", "CORR"
	Period int    `yaml:"period" json:"period"`                     // PRS accepts 0 (ratio only)
	Part   string `yaml:"part,omitempty" json:"part,omitempty"`     // candle part, default CLOSE
	Source string `yaml:"source,omitempty" json:"source,omitempty"` // name of an earlier indicator to chain from
	Pair   string `yaml:"pair,omitempty" json:"pair,omitempty"`     // "EXCHANGE:TOKEN" base series for PRS and CORR
}

// TFIndicatorConfig groups indicator configs for a specific timeframe.
type TFIndicatorConfig struct {
	TF         int               `yaml:"tf" json:"tf"` // timeframe in seconds
	Indicators []IndicatorConfig `yaml:"indicators" json:"indicators"`
}

// Name is the published indicator name, e.g. "SMA_20", "SMA_20_HL2",
// "EMA_9_ON_SMA_20" or "PRS_5_VS_NSE-26000".
func (c IndicatorConfig) Name() string {
	name := strings.ToUpper(c.Type) + "_" + strconv.Itoa(c.Period)
	if p := strings.ToUpper(c.Part); p != "" && p != model.PartClose.String() {
		name += "_" + p
	}
	if c.Source != "" {
		name += "_ON_" + c.Source
	}
	if c.Pair != "" {
		name += "_VS_" + strings.ReplaceAll(c.Pair, ":", "-")
	}
	return name
}

func (c IndicatorConfig) part() model.Part {
	if c.Part == "" {
		return model.PartClose
	}
	p, err := model.ParsePart(c.Part)
	if err != nil {
		return model.PartClose
	}
	return p
}

// pair splits Pair into exchange and token.
func (c IndicatorConfig) pair() (exchange, token string, ok bool) {
	exchange, token, ok = strings.Cut(c.Pair, ":")
	return exchange, token, ok && exchange != "" && token != ""
}

// ParseSpec parses one indicator spec:
//
//	TYPE:PERIOD[:PART][@SOURCE][/EXCHANGE:TOKEN]
//
// e.g. "SMA:20", "SMA:20:HL2", "EMA:9@SMA_20", "PRS:5/NSE:26000".
func ParseSpec(s string) (IndicatorConfig, error) {
	var cfg IndicatorConfig
	s = strings.TrimSpace(s)

	if head, pair, ok := strings.Cut(s, "/"); ok {
		s, cfg.Pair = head, strings.ToUpper(strings.TrimSpace(pair))
	}
	if head, src, ok := strings.Cut(s, "@"); ok {
		s, cfg.Source = head, strings.ToUpper(strings.TrimSpace(src))
	}

	fields := strings.Split(s, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return IndicatorConfig{}, fmt.Errorf("%w: indicator spec %q: want TYPE:PERIOD", stream.ErrParameter, s)
	}
	cfg.Type = strings.ToUpper(strings.TrimSpace(fields[0]))
	period, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return IndicatorConfig{}, fmt.Errorf("%w: indicator spec %q: %v", stream.ErrParameter, s, err)
	}
	cfg.Period = period
	if len(fields) == 3 {
		cfg.Part = strings.ToUpper(strings.TrimSpace(fields[2]))
	}
	return cfg, nil
}

// ParseSpecs parses a comma-separated spec list. Empty input yields nil.
func ParseSpecs(s string) ([]IndicatorConfig, error) {
	var configs []IndicatorConfig
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		cfg, err := ParseSpec(part)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// DefaultSpecs is the indicator set used when none is configured.
func DefaultSpecs() []IndicatorConfig {
	return []IndicatorConfig{
		{Type: "SMA", Period: 9},
		{Type: "SMA", Period: 20},
		{Type: "SMA", Period: 50},
		{Type: "SMA", Period: 200},
		{Type: "EMA", Period: 9},
		{Type: "EMA", Period: 21},
		{Type: "RSI", Period: 14},
	}
}

// configFile is the YAML layout of an indicator config file:
//
//	timeframes:
//	  - tf: 60
//	    indicators:
//	      - {type: SMA, period: 20}
//	      - {type: EMA, period: 9, source: SMA_20}
type configFile struct {
	Timeframes []TFIndicatorConfig `yaml:"timeframes"`
}

// LoadConfigFile reads and validates per-TF indicator configs from a YAML file.
func LoadConfigFile(path string) ([]TFIndicatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indicator config: %w", err)
	}
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse indicator config %s: %w", path, err)
	}
	for i := range f.Timeframes {
		for j := range f.Timeframes[i].Indicators {
			ic := &f.Timeframes[i].Indicators[j]
			ic.Type = strings.ToUpper(ic.Type)
			ic.Part = strings.ToUpper(ic.Part)
			ic.Source = strings.ToUpper(ic.Source)
			ic.Pair = strings.ToUpper(ic.Pair)
		}
	}
	if err := ValidateConfigs(f.Timeframes); err != nil {
		return nil, err
	}
	return f.Timeframes, nil
}
