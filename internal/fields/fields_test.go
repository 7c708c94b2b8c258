package fields

import (
	"reflect"
	"testing"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"field1", "field1", true},
		{"Field3", "field3", true},
		{"FIELD03", "field3", true},
		{"field03", "field3", true},
		{"field15", "field15", true},
		{"field99", "field99", true},
		{"  field7  ", "field7", true},
		{"field", "", false},
		{"field123", "", false},
		{"fieldx", "", false},
		{"afield1", "", false},
		{"field1 ", "field1", true},
		{"temperature", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := Canonical(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Canonical(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestKnownFields(t *testing.T) {
	if len(KnownFields) != 15 {
		t.Fatalf("len(KnownFields) = %d, want 15", len(KnownFields))
	}
	if KnownFields[0] != "field1" || KnownFields[14] != "field15" {
		t.Errorf("KnownFields bounds = %q..%q", KnownFields[0], KnownFields[14])
	}
	if IsKnown("field16") {
		t.Error("field16 should not be known")
	}
}

func TestCanonicalValues(t *testing.T) {
	lv := map[string]any{
		"Field1":     "22.5",
		"field02":    "60",
		"created_at": "2024-01-01",
	}
	want := map[string]any{"field1": "22.5", "field2": "60"}
	if got := CanonicalValues(lv); !reflect.DeepEqual(got, want) {
		t.Errorf("CanonicalValues() = %v, want %v", got, want)
	}
}

func TestDeriveLabels(t *testing.T) {
	t.Run("explicit labels from record", func(t *testing.T) {
		record := map[string]any{
			"channel_id": "1",
			"Field1":     "Temperature",
			"field2":     "  Humidity  ",
			"field3":     "",   // empty label ignored
			"field4":     42.0, // non-string ignored
		}
		got := DeriveLabels(record, nil)
		want := map[string]string{"field1": "Temperature", "field2": "Humidity"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("labels = %v, want %v", got, want)
		}
	})

	t.Run("last values self-label when unlabeled", func(t *testing.T) {
		lv := map[string]any{"Field1": "22.5", "field02": "60"}
		got := DeriveLabels(map[string]any{}, lv)
		want := map[string]string{"field1": "field1", "field2": "field2"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("labels = %v, want %v", got, want)
		}
	})

	t.Run("explicit label wins over self-label", func(t *testing.T) {
		record := map[string]any{"field1": "Soil Temp"}
		lv := map[string]any{"field1": "20", "field2": "1"}
		got := DeriveLabels(record, lv)
		want := map[string]string{"field1": "Soil Temp", "field2": "field2"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("labels = %v, want %v", got, want)
		}
	})

	t.Run("unknown universe keys excluded from self-label", func(t *testing.T) {
		lv := map[string]any{"field99": "1", "field1": "2"}
		got := DeriveLabels(map[string]any{}, lv)
		if _, ok := got["field99"]; ok {
			t.Error("field99 should not self-label")
		}
		if got["field1"] != "field1" {
			t.Errorf("field1 label = %q", got["field1"])
		}
	})

	t.Run("fallback to first 10 known fields", func(t *testing.T) {
		got := DeriveLabels(map[string]any{"name": "bare device"}, nil)
		if len(got) != 10 {
			t.Fatalf("fallback labels = %d, want 10", len(got))
		}
		for _, k := range KnownFields[:10] {
			if got[k] != k {
				t.Errorf("label[%q] = %q, want self", k, got[k])
			}
		}
		if _, ok := got["field11"]; ok {
			t.Error("field11 should not be in fallback set")
		}
	})
}

func TestInferUnitAndClass(t *testing.T) {
	tests := []struct {
		label     string
		wantUnit  string
		wantClass DeviceClass
	}{
		{"Temperature", "°C", DeviceClassTemperature},
		{"Soil Temp", "°C", DeviceClassTemperature},
		{"Relative Humidity", "%", DeviceClassHumidity},
		{"Light Level", "lx", DeviceClassNone},
		{"WiFi RSSI", "dBm", DeviceClassNone},
		{"Battery", "%", DeviceClassBattery},
		{"Barometric Pressure", "hPa", DeviceClassPressure},
		{"Battery Voltage", "V", DeviceClassVoltage},
		{"Voltage", "V", DeviceClassVoltage},
		{"Supply Volt", "V", DeviceClassVoltage},
		{"UV Index", "", DeviceClassNone},
		{"Current Draw", "A", DeviceClassCurrent},
		{"Power", "W", DeviceClassPower},
		{"Energy kWh", "kWh", DeviceClassEnergy},
		{"CO2", "ppm", DeviceClassNone},
		{"TVOC", "ppb", DeviceClassNone},
		{"Door Count", "", DeviceClassNone},
		{"", "", DeviceClassNone},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			unit, class := InferUnitAndClass(tt.label)
			if unit != tt.wantUnit || class != tt.wantClass {
				t.Errorf("InferUnitAndClass(%q) = %q, %q; want %q, %q",
					tt.label, unit, class, tt.wantUnit, tt.wantClass)
			}
		})
	}
}

// Ordering property from the rule list: "voltage" is matched before any
// generic single-letter check could run, and the "uv" exclusion only
// suppresses the voltage rule, not the others.
func TestInferOrderingEdgeCases(t *testing.T) {
	unit, class := InferUnitAndClass("Line Voltage")
	if unit != "V" || class != DeviceClassVoltage {
		t.Errorf("Line Voltage = %q, %q; want V, voltage", unit, class)
	}
	// "uv" inside the label must not reach the voltage rule even though
	// the label contains " v" after lowering ("uv index" does not, but
	// "uv volt" does).
	unit, class = InferUnitAndClass("UV Volt")
	if class == DeviceClassVoltage {
		t.Errorf("UV Volt classified as voltage, want exclusion")
	}
	_ = unit
}
