package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnknownFeed   = errors.New("unknown feed")
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrTooFrequent   = errors.New("update too frequent")
	ErrInvalidPrice  = errors.New("invalid price")
	ErrIndexOverflow = errors.New("cumulative index out of range")
	ErrInvalidConfig = errors.New("invalid engine config")
)

// Reason codes reported for rejected updates.
const (
	ReasonUnknownFeed   = "unknown_feed"
	ReasonUnknownSymbol = "unknown_symbol"
	ReasonTooFrequent   = "too_frequent"
	ReasonInvalidPrice  = "invalid_price"
	ReasonIndexOverflow = "index_overflow"
	ReasonInvalidConfig = "invalid_config"
	ReasonInternal      = "internal"
)

// ReasonOf maps an engine error to its stable reason code. It returns an
// empty string for a nil error.
func ReasonOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownFeed):
		return ReasonUnknownFeed
	case errors.Is(err, ErrUnknownSymbol):
		return ReasonUnknownSymbol
	case errors.Is(err, ErrTooFrequent):
		return ReasonTooFrequent
	case errors.Is(err, ErrInvalidPrice):
		return ReasonInvalidPrice
	case errors.Is(err, ErrIndexOverflow):
		return ReasonIndexOverflow
	case errors.Is(err, ErrInvalidConfig):
		return ReasonInvalidConfig
	default:
		return ReasonInternal
	}
}
