package notify

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// Event types accepted by Notifier.Notify.
const (
	EventRateClamped   = "rate_clamped"
	EventConfigUpdated = "config_updated"
	EventError         = "error"
)

// RateClamped formats the alert for an outcome whose rate hit the cap.
func RateClamped(o domain.FundingOutcome) (title, message string) {
	title = fmt.Sprintf("Funding rate clamped: %s", o.Symbol)
	message = strings.Join([]string{
		fmt.Sprintf("Rate: %s%%", domain.RatePercent(o.Rate)),
		fmt.Sprintf("Price: %s", humanFixed(o.Price, 4)),
		fmt.Sprintf("Cumulative index: %s", humanFixed(o.CumulativeFunding, 8)),
		fmt.Sprintf("Seq: %d", o.Seq),
	}, "\n")
	return title, message
}

// ConfigUpdated formats the alert for an engine parameter change.
func ConfigUpdated(old, updated domain.EngineParams, actor string) (title, message string) {
	if actor == "" {
		actor = "unknown"
	}
	title = "Funding engine config updated"
	message = strings.Join([]string{
		fmt.Sprintf("Min update interval: %s -> %s", old.MinUpdateInterval, updated.MinUpdateInterval),
		fmt.Sprintf("Max funding rate: %s%% -> %s%%", domain.RatePercent(old.MaxFundingRate), domain.RatePercent(updated.MaxFundingRate)),
		fmt.Sprintf("By: %s", actor),
	}, "\n")
	return title, message
}

// Error formats the alert for a failed outcome handler.
func Error(component string, err error) (title, message string) {
	return fmt.Sprintf("Error in %s", component), err.Error()
}

// humanFixed renders an 18-decimal value rounded to places.
func humanFixed(v *uint256.Int, places int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -domain.PriceDecimals).StringFixed(places)
}
