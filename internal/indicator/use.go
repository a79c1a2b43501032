package indicator

import (
	"fmt"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// PartResult is one selected candle value, in rupees.
type PartResult struct {
	TS    time.Time  `json:"ts"`
	Part  model.Part `json:"part"`
	Price float64    `json:"price"`
}

func (r PartResult) Timestamp() time.Time { return r.TS }
func (r PartResult) Value() float64       { return r.Price }

// Use turns candles into a chainable series of one candle part, so an
// indicator can run on HL2 or volume instead of the close.
type Use struct {
	Part model.Part
}

// NewUse returns a validated candle-part transform.
func NewUse(part model.Part) (Use, error) {
	u := Use{Part: part}
	if err := u.Validate(); err != nil {
		return Use{}, err
	}
	return u, nil
}

func (u Use) Name() string  { return "USE(" + u.Part.String() + ")" }
func (u Use) Lookback() int { return 0 }

func (u Use) Validate() error {
	if u.Part < model.PartClose || u.Part > model.PartOHLC4 {
		return fmt.Errorf("%w: unknown candle part %d", stream.ErrParameter, u.Part)
	}
	return nil
}

func (u Use) Compute(in stream.View[model.Candle], _ stream.View[PartResult], i int) (PartResult, error) {
	c := in.At(i)
	return PartResult{TS: c.TS, Part: u.Part, Price: c.Part(u.Part)}, nil
}

// GetParts extracts one candle part over a complete series.
func GetParts(candles []model.Candle, part model.Part) ([]PartResult, error) {
	return stream.Batch[model.Candle, PartResult](candles, Use{Part: part})
}
