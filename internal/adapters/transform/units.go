// Package transform converts adapter values from a data item's native units
// into its reporting units before they are buffered.
package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// conversion maps a native value v to (v - offset) * factor.
type conversion struct {
	factor float64
	offset float64
}

func (c conversion) apply(v float64) float64 { return (v - c.offset) * c.factor }

var conversions = map[string]conversion{
	"INCH":              {factor: 25.4},
	"FOOT":              {factor: 304.8},
	"CENTIMETER":        {factor: 10},
	"DECIMETER":         {factor: 100},
	"METER":             {factor: 1000},
	"INCH/MINUTE":       {factor: 25.4 / 60},
	"FOOT/MINUTE":       {factor: 304.8 / 60},
	"FOOT/SECOND":       {factor: 304.8},
	"INCH/SECOND":       {factor: 25.4},
	"FAHRENHEIT":        {factor: 5.0 / 9.0, offset: 32},
	"KELVIN":            {factor: 1, offset: 273.15},
	"POUND":             {factor: 453.59237},
	"OUNCE":             {factor: 28.349523125},
	"KILOWATT":          {factor: 1000},
	"REVOLUTION/SECOND": {factor: 60},
	"RADIAN":            {factor: 180 / math.Pi},
	"RADIAN/SECOND":     {factor: 180 / math.Pi},
	"RADIAN/MINUTE":     {factor: 180 / math.Pi / 60},
	"SQUARE_INCH":       {factor: 645.16},
	"CUBIC_INCH":        {factor: 16387.064},
	"POUND/INCH^2":      {factor: 6894.757},
	"GALLON/MINUTE":     {factor: 3.785411784},
	"MILLIMETER/MINUTE": {factor: 1.0 / 60},
	"BAR":               {factor: 100000},
	"MILLIBAR":          {factor: 100},
	"KILOPASCAL":        {factor: 1000},
	"MEGAPASCAL":        {factor: 1000000},
}

// UnitConverter rewrites numeric values whose native units differ from the
// item's units, then divides by native_scale. Values of items without a
// known conversion pass through unchanged.
type UnitConverter struct {
	obs ports.Observability
}

var _ ports.Transformer = (*UnitConverter)(nil)

func NewUnitConverter(obs ports.Observability) *UnitConverter {
	if obs == nil {
		obs = ports.Discard
	}
	return &UnitConverter{obs: obs}
}

func (u *UnitConverter) Version() uint16 { return 1 }

// Needed reports whether values of the item are converted at all.
func Needed(item *domain.DataItem) bool {
	if item.Category != domain.CategorySample {
		return false
	}
	if scaled(item) {
		return true
	}
	_, ok := lookup(item)
	return ok
}

func scaled(item *domain.DataItem) bool {
	return item.NativeScale != 0 && item.NativeScale != 1
}

func lookup(item *domain.DataItem) (conversion, bool) {
	native := strings.ToUpper(item.NativeUnits)
	if native == "" || native == strings.ToUpper(item.Units) {
		return conversion{}, false
	}
	c, ok := conversions[native]
	return c, ok
}

func (u *UnitConverter) Transform(item *domain.DataItem, obs *domain.Observation) (*domain.Observation, error) {
	if item == nil || item.Category != domain.CategorySample {
		return obs, nil
	}
	if !Needed(item) {
		if item.NativeUnits != "" && !strings.EqualFold(item.NativeUnits, item.Units) {
			u.obs.LogDebug("unit_conversion_unknown", ports.F("data_item", item.ID),
				ports.F("native_units", item.NativeUnits), ports.F("units", item.Units))
		}
		return obs, nil
	}
	c, ok := lookup(item)
	if !ok {
		c = conversion{factor: 1}
	}
	convert := func(v float64) float64 {
		v = c.apply(v)
		if scaled(item) {
			v /= item.NativeScale
		}
		return v
	}

	out := obs.Clone()
	if len(out.Samples) > 0 {
		for i, v := range out.Samples {
			out.Samples[i] = convert(v)
		}
		return out, nil
	}
	if out.Value == "" {
		return out, nil
	}

	// Multi-axis values such as PATH_POSITION carry space separated components.
	parts := strings.Fields(out.Value)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("transform.Transform: value %q of %s is not numeric: %w", out.Value, item.ID, err)
		}
		parts[i] = strconv.FormatFloat(convert(v), 'g', 10, 64)
	}
	out.Value = strings.Join(parts, " ")
	return out, nil
}
