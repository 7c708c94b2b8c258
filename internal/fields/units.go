package fields

import "strings"

// DeviceClass mirrors Home Assistant sensor device classes for the subset
// this integration can infer from labels.
type DeviceClass string

const (
	DeviceClassNone        DeviceClass = ""
	DeviceClassTemperature DeviceClass = "temperature"
	DeviceClassHumidity    DeviceClass = "humidity"
	DeviceClassBattery     DeviceClass = "battery"
	DeviceClassPressure    DeviceClass = "pressure"
	DeviceClassVoltage     DeviceClass = "voltage"
	DeviceClassCurrent     DeviceClass = "current"
	DeviceClassPower       DeviceClass = "power"
	DeviceClassEnergy      DeviceClass = "energy"
)

// InferUnitAndClass maps a free-text field label to a unit and device class.
// The rules are ordered and the first match wins: labels contain overlapping
// substrings, so e.g. "Battery Voltage" must hit the voltage rule before a
// generic check could misfire, and the voltage rule skips labels containing
// "uv" so UV-index fields are not misread. An unmatched label gets no unit
// and no class — the normal outcome for count- and index-like fields.
func InferUnitAndClass(label string) (string, DeviceClass) {
	s := strings.ToLower(label)
	if s == "" {
		return "", DeviceClassNone
	}
	has := func(subs ...string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}

	switch {
	case has("temperature", "temp", "°c", "deg c"):
		return "°C", DeviceClassTemperature
	case has("humidity", "humid", "%rh", "relative humidity"):
		return "%", DeviceClassHumidity
	case has("illum", "light", "lux", "lx"):
		return "lx", DeviceClassNone
	case has("rssi", "wifi", "wi-fi", "signal"):
		return "dBm", DeviceClassNone
	case has("voltage", "volt", "vdc", " v") && !has("uv"):
		// Checked ahead of battery so "Battery Voltage" reads as a
		// voltage measurement rather than a charge percentage.
		return "V", DeviceClassVoltage
	case has("battery"):
		return "%", DeviceClassBattery
	case has("pressure", "baro", "hpa"):
		return "hPa", DeviceClassPressure
	case has("current", "amp", "ma", " a"):
		return "A", DeviceClassCurrent
	case has("power", "watt", " w"):
		return "W", DeviceClassPower
	case has("energy", "kwh", "wh"):
		return "kWh", DeviceClassEnergy
	case has("co2", "carbon dioxide"):
		return "ppm", DeviceClassNone
	case has("tvoc", "voc"):
		return "ppb", DeviceClassNone
	}
	return "", DeviceClassNone
}
