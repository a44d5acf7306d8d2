// Package insight derives the bounded display views of an analysis result:
// ranked risk drivers and projected financial metrics.
//
// Both functions are pure. A nil or empty input map yields an empty,
// non-nil slice so callers can bind the result directly.
package insight

import (
	"encoding/json"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Limits used by the dashboard view.
const (
	DriverLimit = 5
	MetricLimit = 6
)

// Direction describes how a factor moves the risk score.
type Direction string

const (
	IncreasingRisk Direction = "Increasing Risk"
	DecreasingRisk Direction = "Decreasing Risk"
)

// excludedMetric is carried in the metrics map by the backend but is not a metric.
const excludedMetric = "ticker"

// RankedDriver is a risk factor prepared for display.
type RankedDriver struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Direction Direction `json:"direction"`
}

// Metric is a financial metric prepared for display.
type Metric struct {
	Name         string `json:"name"`
	Label        string `json:"label"`
	DisplayValue string `json:"display_value"`
}

// Rank orders factors by absolute contribution, largest first, and keeps at
// most limit entries. Equal magnitudes keep their input order.
func Rank(factors *orderedmap.OrderedMap[string, float64], limit int) []RankedDriver {
	if factors == nil || factors.Len() == 0 || limit <= 0 {
		return []RankedDriver{}
	}

	drivers := make([]RankedDriver, 0, factors.Len())
	for pair := factors.Oldest(); pair != nil; pair = pair.Next() {
		drivers = append(drivers, RankedDriver{
			Name:      displayName(pair.Key),
			Value:     pair.Value,
			Direction: directionOf(pair.Value),
		})
	}

	sort.SliceStable(drivers, func(i, j int) bool {
		return math.Abs(drivers[i].Value) > math.Abs(drivers[j].Value)
	})

	if len(drivers) > limit {
		drivers = drivers[:limit]
	}
	return drivers
}

// Project keeps the first limit metrics in input order, skipping the ticker
// entry. Numbers are rendered with two decimals; anything else passes through.
func Project(metrics *orderedmap.OrderedMap[string, any], limit int) []Metric {
	if metrics == nil || metrics.Len() == 0 || limit <= 0 {
		return []Metric{}
	}

	out := make([]Metric, 0, min(limit, metrics.Len()))
	for pair := metrics.Oldest(); pair != nil && len(out) < limit; pair = pair.Next() {
		if pair.Key == excludedMetric {
			continue
		}
		out = append(out, Metric{
			Name:         pair.Key,
			Label:        displayName(pair.Key),
			DisplayValue: formatValue(pair.Value),
		})
	}
	return out
}

// Percent renders a probability in [0,1] as a percentage with four decimals.
func Percent(p float64) string {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return strconv.FormatFloat(p, 'f', -1, 64)
	}
	return toFixed(p*100, 4) + "%"
}

func directionOf(v float64) Direction {
	if v > 0 {
		return IncreasingRisk
	}
	return DecreasingRisk
}

func displayName(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

func formatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return toFixed(n, 2)
	case float32:
		return toFixed(float64(n), 2)
	case int:
		return decimal.NewFromInt(int64(n)).StringFixed(2)
	case int32:
		return decimal.NewFromInt32(n).StringFixed(2)
	case int64:
		return decimal.NewFromInt(n).StringFixed(2)
	case uint:
		return decimal.NewFromUint64(uint64(n)).StringFixed(2)
	case uint64:
		return decimal.NewFromUint64(n).StringFixed(2)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return n.String()
		}
		return toFixed(f, 2)
	case decimal.Decimal:
		return n.StringFixed(2)
	case bool:
		return strconv.FormatBool(n)
	default:
		b, err := json.Marshal(n)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// toFixed formats f the way JavaScript's Number.prototype.toFixed does: the
// exact binary value is rounded half away from zero, and a negative value
// keeps its sign even when it rounds to zero.
func toFixed(f float64, digits int32) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', int(digits), 64)
	}
	sign := ""
	if f < 0 {
		sign, f = "-", -f
	}
	r := new(big.Rat).SetFloat64(f)
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)))
	r.Add(r, big.NewRat(1, 2))
	n := new(big.Int).Quo(r.Num(), r.Denom())
	return sign + decimal.NewFromBigInt(n, -digits).StringFixed(digits)
}
