package domain

import "strings"

// Category is the MTConnect data item category.
type Category string

const (
	CategorySample    Category = "SAMPLE"
	CategoryEvent     Category = "EVENT"
	CategoryCondition Category = "CONDITION"
)

// ParseCategory normalizes a category name; the second result is false for unknown names.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToUpper(strings.TrimSpace(s))); c {
	case CategorySample, CategoryEvent, CategoryCondition:
		return c, true
	default:
		return "", false
	}
}

// Representation describes the shape of a data item's value.
type Representation string

const (
	RepresentationValue      Representation = "VALUE"
	RepresentationTimeSeries Representation = "TIME_SERIES"
	RepresentationDataSet    Representation = "DATA_SET"
	RepresentationTable      Representation = "TABLE"
)

// IsKeyed reports whether values are key/value entries (data sets and tables).
func (r Representation) IsKeyed() bool {
	return r == RepresentationDataSet || r == RepresentationTable
}

// DataItem is a single observable quantity of a component. It is immutable once
// the device model is built.
type DataItem struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name,omitempty" json:"name,omitempty"`
	Category       Category       `yaml:"category" json:"category"`
	Type           string         `yaml:"type" json:"type"`
	SubType        string         `yaml:"sub_type,omitempty" json:"subType,omitempty"`
	Representation Representation `yaml:"representation,omitempty" json:"representation,omitempty"`
	Units          string         `yaml:"units,omitempty" json:"units,omitempty"`
	NativeUnits    string         `yaml:"native_units,omitempty" json:"nativeUnits,omitempty"`
	NativeScale    float64        `yaml:"native_scale,omitempty" json:"nativeScale,omitempty"`
	// Source is an alternate key the adapter may use for this item.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	// Values restricts an EVENT to a fixed vocabulary in addition to the registry's.
	Values  []string `yaml:"values,omitempty" json:"values,omitempty"`
	Minimum *float64 `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Maximum *float64 `yaml:"maximum,omitempty" json:"maximum,omitempty"`

	DeviceUUID  string `yaml:"-" json:"-"`
	ComponentID string `yaml:"-" json:"-"`
}

// IsCondition reports whether the item is of CONDITION category.
func (d *DataItem) IsCondition() bool { return d.Category == CategoryCondition }

// Component is a node of the device tree.
type Component struct {
	ID         string       `yaml:"id" json:"id"`
	UUID       string       `yaml:"uuid,omitempty" json:"uuid,omitempty"`
	Name       string       `yaml:"name,omitempty" json:"name,omitempty"`
	Type       string       `yaml:"type,omitempty" json:"type,omitempty"`
	DataItems  []*DataItem  `yaml:"data_items,omitempty" json:"dataItems,omitempty"`
	Components []*Component `yaml:"components,omitempty" json:"components,omitempty"`
}

// Device is the root component of a device tree. UUID is globally unique.
type Device struct {
	Component    `yaml:",inline"`
	Manufacturer string `yaml:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	SerialNumber string `yaml:"serial_number,omitempty" json:"serialNumber,omitempty"`
}

// Walk visits the component and all descendants depth-first, parents before children.
// Returning false from fn stops the walk.
func (c *Component) Walk(fn func(*Component) bool) bool {
	if !fn(c) {
		return false
	}
	for _, child := range c.Components {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}
