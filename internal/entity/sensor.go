// Package entity exposes a coordinator's cached channel data as the
// sensor, number, and switch entities a smart-home platform consumes.
// Entities only ever read the coordinator's snapshot; the actuating ones
// write through the vendor API and then ask the coordinator to reconcile.
package entity

import (
	"sort"
	"strings"

	"ubibot-go-home/internal/coordinator"
	"ubibot-go-home/internal/fields"
)

// FieldSensor is a single measurable field under a channel.
type FieldSensor struct {
	coord          *coordinator.Coordinator
	fieldKey       string
	label          string
	unit           string
	deviceClass    fields.DeviceClass
	enabledDefault bool
}

// BuildFieldSensors derives the field set for a channel from its current
// snapshot and returns one sensor per discovered field, sorted by key.
// Fields outside the user's selection are still built, just disabled by
// default so they can be re-enabled without reconfiguring. An empty
// selection means everything is enabled.
func BuildFieldSensors(coord *coordinator.Coordinator, selected []string) []*FieldSensor {
	var record map[string]any
	var lastValues map[string]any
	if snap, ok := coord.Snapshot(); ok {
		record = snap
		lastValues = snap.LastValues()
	}
	labels := fields.DeriveLabels(record, lastValues)

	selectedSet := make(map[string]bool, len(selected))
	for _, f := range selected {
		selectedSet[strings.ToLower(f)] = true
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sensors := make([]*FieldSensor, 0, len(keys))
	for _, key := range keys {
		label := labels[key]
		unit, class := fields.InferUnitAndClass(label)
		sensors = append(sensors, &FieldSensor{
			coord:          coord,
			fieldKey:       key,
			label:          label,
			unit:           unit,
			deviceClass:    class,
			enabledDefault: len(selectedSet) == 0 || selectedSet[key],
		})
	}
	return sensors
}

// FieldKey returns the canonical field key this sensor reads.
func (s *FieldSensor) FieldKey() string { return s.fieldKey }

// Label returns the human-readable field label.
func (s *FieldSensor) Label() string { return s.label }

// Unit returns the inferred unit of measurement, or "".
func (s *FieldSensor) Unit() string { return s.unit }

// DeviceClass returns the inferred device class, or the empty class.
func (s *FieldSensor) DeviceClass() fields.DeviceClass { return s.deviceClass }

// EnabledDefault reports whether the entity should be registered enabled.
func (s *FieldSensor) EnabledDefault() bool { return s.enabledDefault }

// UniqueID returns the stable entity identifier.
func (s *FieldSensor) UniqueID() string {
	return "ubibot_" + s.coord.ChannelID() + "_" + s.fieldKey
}

// Name returns the display name: channel name plus field label.
func (s *FieldSensor) Name() string {
	return s.coord.ChannelName() + " " + s.label
}

// Value reads the current observation from the cached snapshot. Observed
// values may themselves be nested structures carrying a "value" subfield;
// that inner value is what gets reported. ok=false means no data yet or
// the field is absent from the latest snapshot.
func (s *FieldSensor) Value() (any, bool) {
	snap, ok := s.coord.Snapshot()
	if !ok {
		return nil, false
	}
	v, present := fields.CanonicalValues(snap.LastValues())[s.fieldKey]
	if !present {
		return nil, false
	}
	if m, isMap := v.(map[string]any); isMap {
		if inner, has := m["value"]; has {
			return inner, true
		}
	}
	return v, true
}
