// Package feed turns raw oracle observations into engine price updates and
// consumes them from the Redis intake stream.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/funding"
)

// Observation is the wire form of one oracle price, as published by Pyth
// Hermes: price = Price * 10^Expo. Numeric fields may be JSON numbers or
// quoted decimal strings.
type Observation struct {
	FeedID      string      `json:"feed_id"`
	Price       json.Number `json:"price"`
	Conf        json.Number `json:"conf"`
	Expo        json.Number `json:"expo"`
	PublishTime json.Number `json:"publish_time"`
}

// Update converts the observation into a domain.PriceUpdate.
func (o Observation) Update() (domain.PriceUpdate, error) {
	feedID, err := funding.ParseFeedID(o.FeedID)
	if err != nil {
		return domain.PriceUpdate{}, err
	}
	if o.Price == "" || o.Expo == "" || o.PublishTime == "" {
		return domain.PriceUpdate{}, errors.New("feed: price, expo and publish_time are required")
	}
	mantissa, err := o.Price.Int64()
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("feed: price %q: %w", o.Price, err)
	}
	var conf uint64
	if o.Conf != "" {
		conf, err = strconv.ParseUint(o.Conf.String(), 10, 64)
		if err != nil {
			return domain.PriceUpdate{}, fmt.Errorf("feed: conf %q: %w", o.Conf, err)
		}
	}
	expo, err := o.Expo.Int64()
	if err != nil || expo < math.MinInt32 || expo > math.MaxInt32 {
		return domain.PriceUpdate{}, fmt.Errorf("feed: expo %q out of range", o.Expo)
	}
	published, err := o.PublishTime.Int64()
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("feed: publish_time %q: %w", o.PublishTime, err)
	}

	return domain.PriceUpdate{
		FeedID: feedID,
		Observation: domain.PriceObservation{
			Mantissa:   mantissa,
			Confidence: conf,
			Exponent:   int32(expo),
			ObservedAt: time.Unix(published, 0).UTC(),
		},
	}, nil
}

// DecodeObservation parses one JSON observation.
func DecodeObservation(payload []byte) (domain.PriceUpdate, error) {
	var o Observation
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&o); err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("feed: decode observation: %w", err)
	}
	return o.Update()
}
