package provider

import (
	"fmt"

	"github.com/finverse/feedrelay/internal/model"
)

// convertCandle maps the provider's positional candle array onto a Candle.
// The layout is [timestamp, open, high, low, close, volume, openInterest];
// the trailing openInterest element is absent for some instrument types.
func convertCandle(raw []any) (model.Candle, error) {
	if len(raw) < 6 {
		return model.Candle{}, fmt.Errorf("candle has %d elements, want at least 6", len(raw))
	}

	ts, ok := raw[0].(string)
	if !ok {
		return model.Candle{}, fmt.Errorf("candle timestamp is %T, want string", raw[0])
	}

	nums := make([]float64, 0, len(raw)-1)
	for i, v := range raw[1:] {
		f, ok := v.(float64)
		if !ok {
			return model.Candle{}, fmt.Errorf("candle element %d is %T, want number", i+1, v)
		}
		nums = append(nums, f)
	}

	candle := model.Candle{
		Timestamp: ts,
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    int64(nums[4]),
	}
	if len(nums) > 5 {
		candle.OpenInterest = int64(nums[5])
	}
	return candle, nil
}
