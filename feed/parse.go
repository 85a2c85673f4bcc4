package feed

import (
	"fmt"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/tidwall/gjson"
)

// ParseTick parses a tick from the provided json object. Tick times are RFC3339 timestamps, or
// date layout timestamps in the provided location. Ticks without a time are stamped on intake.
func ParseTick(data gjson.Result, loc *time.Location) (shared.Tick, error) {
	if !data.IsObject() {
		return shared.Tick{}, fmt.Errorf("tick must be a json object, got %s", data.Type.String())
	}

	instrument := data.Get("instrument").String()
	if instrument == "" {
		return shared.Tick{}, fmt.Errorf("tick instrument cannot be empty: %s", data.Raw)
	}

	price := data.Get("price")
	if price.Type != gjson.Number || price.Float() <= 0 {
		return shared.Tick{}, fmt.Errorf("tick price must be a positive number: %s", data.Raw)
	}

	tick := shared.Tick{
		Instrument: instrument,
		Price:      price.Float(),
	}

	ts := data.Get("time")
	switch ts.Type {
	case gjson.Null:
		// do nothing.
	case gjson.String:
		observed, err := parseTime(ts.String(), loc)
		if err != nil {
			return shared.Tick{}, err
		}
		tick.ObservedAt = observed
	case gjson.Number:
		tick.ObservedAt = time.UnixMilli(ts.Int()).In(loc)
	default:
		return shared.Tick{}, fmt.Errorf("unexpected tick time type %s: %s", ts.Type.String(), data.Raw)
	}

	return tick, nil
}

// parseTime parses the provided timestamp.
func parseTime(ts string, loc *time.Location) (time.Time, error) {
	observed, err := time.Parse(time.RFC3339Nano, ts)
	if err == nil {
		return observed.In(loc), nil
	}

	observed, err = time.ParseInLocation(shared.DateLayout, ts, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing tick time %s: %w", ts, err)
	}

	return observed, nil
}

// ParseTicks parses the provided payload holding either a tick object or an array of tick
// objects. Malformed ticks are returned as errors alongside the valid ticks.
func ParseTicks(payload []byte, loc *time.Location) ([]shared.Tick, []error) {
	if !gjson.ValidBytes(payload) {
		return nil, []error{fmt.Errorf("invalid json payload: %s", string(payload))}
	}

	data := gjson.ParseBytes(payload)
	if !data.IsArray() {
		tick, err := ParseTick(data, loc)
		if err != nil {
			return nil, []error{err}
		}

		return []shared.Tick{tick}, nil
	}

	entries := data.Array()
	ticks := make([]shared.Tick, 0, len(entries))
	var errs []error
	for idx := range entries {
		tick, err := ParseTick(entries[idx], loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		ticks = append(ticks, tick)
	}

	return ticks, errs
}
