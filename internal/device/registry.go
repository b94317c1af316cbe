package device

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// ErrInvalidValue marks an observation whose value violates its type constraints.
var ErrInvalidValue = errors.New("invalid value")

// TypeInfo is the constraint row for one (category, type) pair.
type TypeInfo struct {
	Category domain.Category
	Type     string
	// Units are the default units of a SAMPLE type.
	Units string
	// Values is the controlled vocabulary of an EVENT type; empty means free text.
	Values []string
	// Numeric requires the value to parse as a number. Dimensions > 1 requires
	// that many space separated numbers.
	Numeric    bool
	Dimensions int
}

type typeKey struct {
	category domain.Category
	name     string
}

// Registry maps (category, type) to value constraints. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	types map[typeKey]TypeInfo
}

// NewRegistry builds a registry from explicit rows.
func NewRegistry(infos ...TypeInfo) *Registry {
	r := &Registry{types: make(map[typeKey]TypeInfo, len(infos))}
	for _, info := range infos {
		if info.Numeric && info.Dimensions == 0 {
			info.Dimensions = 1
		}
		r.types[typeKey{info.Category, info.Type}] = info
	}
	return r
}

// DefaultRegistry returns the built-in MTConnect type table.
func DefaultRegistry() *Registry {
	return NewRegistry(defaultTypes()...)
}

// Lookup returns the row for the given category and type.
func (r *Registry) Lookup(category domain.Category, typ string) (TypeInfo, bool) {
	info, ok := r.types[typeKey{category, typ}]
	return info, ok
}

// IsExtended reports whether typ is a vendor extension ("x:FOO"), which the
// registry accepts without constraints.
func IsExtended(typ string) bool {
	return strings.Contains(typ, ":")
}

// CheckItem validates the category/type combination of a data item. Types the
// registry does not know are accepted without constraints; a known type used
// under the wrong category is rejected.
func (r *Registry) CheckItem(item *domain.DataItem) error {
	if item.Type == "" {
		return domain.NewError(domain.KindInvalidType, "data item %q has no type", item.ID)
	}
	if IsExtended(item.Type) || !r.known(item.Type) {
		return nil
	}
	if _, ok := r.Lookup(item.Category, item.Type); ok {
		return nil
	}
	// Conditions may be raised against any sample or event type.
	if item.Category == domain.CategoryCondition {
		if _, ok := r.Lookup(domain.CategorySample, item.Type); ok {
			return nil
		}
		if _, ok := r.Lookup(domain.CategoryEvent, item.Type); ok {
			return nil
		}
	}
	return domain.NewError(domain.KindInvalidType, "data item %q: type %s is not valid for category %s",
		item.ID, item.Type, item.Category)
}

func (r *Registry) known(typ string) bool {
	for _, cat := range []domain.Category{domain.CategorySample, domain.CategoryEvent, domain.CategoryCondition} {
		if _, ok := r.Lookup(cat, typ); ok {
			return true
		}
	}
	return false
}

// DefaultUnits returns the registry units of a SAMPLE type, if any.
func (r *Registry) DefaultUnits(item *domain.DataItem) string {
	if info, ok := r.Lookup(item.Category, item.Type); ok {
		return info.Units
	}
	return ""
}

// Validate checks an observation value against the item and registry constraints.
// UNAVAILABLE always passes.
func (r *Registry) Validate(item *domain.DataItem, obs *domain.Observation) error {
	if obs.IsUnavailable() || item.IsCondition() {
		return nil
	}
	switch item.Representation {
	case domain.RepresentationTimeSeries, domain.RepresentationDataSet, domain.RepresentationTable:
		return nil
	}

	if len(item.Values) > 0 && !slices.Contains(item.Values, obs.Value) {
		return fmt.Errorf("%w: %q not in %v for %s", ErrInvalidValue, obs.Value, item.Values, item.ID)
	}

	info, ok := r.Lookup(item.Category, item.Type)
	if !ok {
		return nil
	}
	if len(info.Values) > 0 && !slices.Contains(info.Values, obs.Value) {
		return fmt.Errorf("%w: %q is not a valid %s", ErrInvalidValue, obs.Value, item.Type)
	}
	if !info.Numeric {
		return nil
	}

	fields := strings.Fields(obs.Value)
	if len(fields) != info.Dimensions {
		return fmt.Errorf("%w: %s expects %d numeric values, got %q", ErrInvalidValue, item.Type, info.Dimensions, obs.Value)
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not numeric for %s", ErrInvalidValue, obs.Value, item.ID)
		}
		if item.Minimum != nil && v < *item.Minimum {
			return fmt.Errorf("%w: %v below minimum %v for %s", ErrInvalidValue, v, *item.Minimum, item.ID)
		}
		if item.Maximum != nil && v > *item.Maximum {
			return fmt.Errorf("%w: %v above maximum %v for %s", ErrInvalidValue, v, *item.Maximum, item.ID)
		}
	}
	return nil
}

func sample(typ, units string) TypeInfo {
	return TypeInfo{Category: domain.CategorySample, Type: typ, Units: units, Numeric: true}
}

func sample3D(typ, units string) TypeInfo {
	return TypeInfo{Category: domain.CategorySample, Type: typ, Units: units, Numeric: true, Dimensions: 3}
}

func event(typ string, values ...string) TypeInfo {
	return TypeInfo{Category: domain.CategoryEvent, Type: typ, Values: values}
}

func numericEvent(typ string) TypeInfo {
	return TypeInfo{Category: domain.CategoryEvent, Type: typ, Numeric: true}
}

func condition(typ string) TypeInfo {
	return TypeInfo{Category: domain.CategoryCondition, Type: typ}
}

func defaultTypes() []TypeInfo {
	return []TypeInfo{
		sample("ACCELERATION", "MILLIMETER/SECOND^2"),
		sample("ACCUMULATED_TIME", "SECOND"),
		sample("AMPERAGE", "AMPERE"),
		sample("ANGLE", "DEGREE"),
		sample("ANGULAR_ACCELERATION", "DEGREE/SECOND^2"),
		sample("ANGULAR_VELOCITY", "DEGREE/SECOND"),
		sample("AXIS_FEEDRATE", "MILLIMETER/SECOND"),
		sample("CONCENTRATION", "PERCENT"),
		sample("DISPLACEMENT", "MILLIMETER"),
		sample("ELECTRICAL_ENERGY", "WATT_SECOND"),
		sample("FLOW", "LITER/SECOND"),
		sample("FREQUENCY", "HERTZ"),
		sample("HUMIDITY_RELATIVE", "PERCENT"),
		sample("LENGTH", "MILLIMETER"),
		sample("LINEAR_FORCE", "NEWTON"),
		sample("LOAD", "PERCENT"),
		sample("MASS", "KILOGRAM"),
		sample("PATH_FEEDRATE", "MILLIMETER/SECOND"),
		sample("POSITION", "MILLIMETER"),
		sample("PRESSURE", "PASCAL"),
		sample("ROTARY_VELOCITY", "REVOLUTION/MINUTE"),
		sample("SPINDLE_SPEED", "REVOLUTION/MINUTE"),
		sample("TEMPERATURE", "CELSIUS"),
		sample("TORQUE", "NEWTON_METER"),
		sample("VELOCITY", "MILLIMETER/SECOND"),
		sample("VOLTAGE", "VOLT"),
		sample("WATTAGE", "WATT"),
		sample3D("PATH_POSITION", "MILLIMETER_3D"),
		sample3D("ORIENTATION", "DEGREE_3D"),

		event("ACTUATOR_STATE", "ACTIVE", "INACTIVE"),
		event("AVAILABILITY", "AVAILABLE", "UNAVAILABLE"),
		event("AXIS_STATE", "HOME", "TRAVEL", "PARKED", "STOPPED"),
		event("CHUCK_STATE", "OPEN", "CLOSED", "UNLATCHED"),
		event("CONTROLLER_MODE", "AUTOMATIC", "MANUAL", "MANUAL_DATA_INPUT", "SEMI_AUTOMATIC", "EDIT"),
		event("DIRECTION", "CLOCKWISE", "COUNTER_CLOCKWISE", "POSITIVE", "NEGATIVE"),
		event("DOOR_STATE", "OPEN", "UNLATCHED", "CLOSED"),
		event("EMERGENCY_STOP", "ARMED", "TRIGGERED"),
		event("END_OF_BAR", "YES", "NO"),
		event("EXECUTION", "READY", "ACTIVE", "INTERRUPTED", "FEED_HOLD", "STOPPED",
			"OPTIONAL_STOP", "PROGRAM_STOPPED", "PROGRAM_COMPLETED", "WAIT", "PROGRAM_OPTIONAL_STOP"),
		event("FUNCTIONAL_MODE", "PRODUCTION", "SETUP", "TEARDOWN", "MAINTENANCE", "PROCESS_DEVELOPMENT"),
		event("POWER_STATE", "ON", "OFF"),
		event("PROGRAM_EDIT", "ACTIVE", "READY", "NOT_READY"),
		event("ROTARY_MODE", "SPINDLE", "INDEX", "CONTOUR"),
		event("ASSET_CHANGED"),
		event("ASSET_REMOVED"),
		event("BLOCK"),
		event("CLOCK_TIME"),
		event("MESSAGE"),
		event("OPERATOR_ID"),
		event("PART_ID"),
		event("PROGRAM"),
		event("PROGRAM_COMMENT"),
		event("SERIAL_NUMBER"),
		event("TOOL_ASSET_ID"),
		event("USER"),
		event("VARIABLE"),
		event("WORK_OFFSET"),
		numericEvent("BLOCK_COUNT"),
		numericEvent("LINE_NUMBER"),
		numericEvent("PART_COUNT"),
		numericEvent("PATH_FEEDRATE_OVERRIDE"),
		numericEvent("ROTARY_VELOCITY_OVERRIDE"),
		numericEvent("TOOL_NUMBER"),

		condition("ACTUATOR"),
		condition("COMMUNICATIONS"),
		condition("DATA_RANGE"),
		condition("HARDWARE"),
		condition("LOGIC_PROGRAM"),
		condition("MOTION_PROGRAM"),
		condition("SYSTEM"),
	}
}

// Sanitize validates obs and, when it fails, returns the UNAVAILABLE
// replacement for the item alongside the validation error.
func (r *Registry) Sanitize(item *domain.DataItem, obs *domain.Observation) (*domain.Observation, error) {
	if err := r.Validate(item, obs); err != nil {
		return domain.NewUnavailable(item, obs.Timestamp), err
	}
	return obs, nil
}
