package main

import (
	"fmt"
	"time"
)

// SeriesKind selects which half-hourly series an operation works on.
type SeriesKind int

const (
	KindTariff SeriesKind = iota
	KindConsumption
)

// kindSpec gathers everything that varies per series kind: the wire
// field names, the upstream endpoint and the display name. Adding a new
// kind means adding one entry here (plus its storage shape in store.go).
type kindSpec struct {
	name       string
	dateField  string
	valueField string
	endpoint   func(cfg *Config) string
}

var kindSpecs = map[SeriesKind]kindSpec{
	KindTariff: {
		name:       "tariff",
		dateField:  "valid_from",
		valueField: "value_inc_vat",
		endpoint: func(cfg *Config) string {
			return fmt.Sprintf("%sproducts/%s/electricity-tariffs/%s/standard-unit-rates/",
				cfg.BaseURL, cfg.Product, cfg.TariffCode)
		},
	},
	KindConsumption: {
		name:       "consumption",
		dateField:  "interval_start",
		valueField: "consumption",
		endpoint: func(cfg *Config) string {
			return fmt.Sprintf("%selectricity-meter-points/%s/meters/%s/consumption/",
				cfg.BaseURL, cfg.Mpan, cfg.SerialNumber)
		},
	},
}

func (k SeriesKind) spec() kindSpec {
	return kindSpecs[k]
}

func (k SeriesKind) String() string {
	return k.spec().name
}

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s to %s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// SeriesPoint is one half-hour reading: a grid timestamp and its value
// (pence/kWh for tariffs, kWh for consumption).
type SeriesPoint struct {
	Timestamp time.Time
	Value     float64
}
