package config

import (
	"github.com/phytec/partitup/internal/logger"
	"github.com/phytec/partitup/internal/unit"
)

// SectorDevice is the minimal device fact lookup_sector needs: the sector
// size used to convert a byte-denominated string into a sector count.
type SectorDevice interface {
	SectorSize() int64
}

// LookupString returns the String contents of M[k], or def if absent, null,
// or of the wrong type (in which case a warning is logged, per §4.2:
// "Accessors do not fail on type mismatch of optional fields").
func LookupString(m *Value, key, def string) string {
	v := m.Get(key)
	if v.IsNull() {
		return def
	}
	if v.Kind != KindString {
		logger.Logger().Warnf("config: %q is not a string, using default %q", key, def)
		return def
	}
	return v.String
}

// LookupBool returns the Bool contents of M[k], or def if absent/null/wrong type.
func LookupBool(m *Value, key string, def bool) bool {
	v := m.Get(key)
	if v.IsNull() {
		return def
	}
	if v.Kind != KindBool {
		logger.Logger().Warnf("config: %q is not a bool, using default %v", key, def)
		return def
	}
	return v.Bool
}

// LookupInt returns the Int contents of M[k], or def if absent/null/wrong type.
func LookupInt(m *Value, key string, def int64) int64 {
	v := m.Get(key)
	if v.IsNull() {
		return def
	}
	if v.Kind != KindInt {
		logger.Logger().Warnf("config: %q is not an int, using default %d", key, def)
		return def
	}
	return v.Int
}

// LookupBytes interprets M[k] as a byte count: a String is run through
// unit.ParseBytes, an Int is used as-is, anything else falls back to def
// with a warning.
func LookupBytes(m *Value, key string, def int64) int64 {
	v := m.Get(key)
	if v.IsNull() {
		return def
	}
	switch v.Kind {
	case KindString:
		n, err := unit.ParseBytes(v.String)
		if err != nil {
			logger.Logger().Warnf("config: %q: %v, using default %d", key, err, def)
			return def
		}
		return n
	case KindInt:
		return v.Int
	default:
		logger.Logger().Warnf("config: %q is not a byte count, using default %d", key, def)
		return def
	}
}

// LookupSector interprets M[k] as a sector count: a String is run through
// unit.SectorOf using device's sector size, an Int is used as-is (already
// sectors), anything else falls back to def with a warning.
func LookupSector(m *Value, key string, device SectorDevice, def int64) int64 {
	v := m.Get(key)
	if v.IsNull() {
		return def
	}
	switch v.Kind {
	case KindString:
		n, err := unit.SectorOf(v.String, device.SectorSize())
		if err != nil {
			logger.Logger().Warnf("config: %q: %v, using default %d", key, err, def)
			return def
		}
		return n
	case KindInt:
		return v.Int
	default:
		logger.Logger().Warnf("config: %q is not a sector count, using default %d", key, def)
		return def
	}
}

// LookupList returns the inner []*Value of a KindSequence M[k]; absent
// returns def, wrong type returns def with a warning.
func LookupList(m *Value, key string, def []*Value) []*Value {
	v := m.Get(key)
	if v.IsNull() {
		return def
	}
	if v.Kind != KindSequence {
		logger.Logger().Warnf("config: %q is not a sequence, using default", key)
		return def
	}
	return v.Sequence
}
