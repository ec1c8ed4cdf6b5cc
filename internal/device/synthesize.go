package device

const synthesizedNameLen = 8

// Synthesize builds a placeholder device for an id seen in telemetry but
// known to no registry.
func Synthesize(id string) Device {
	short := []rune(id)
	if len(short) > synthesizedNameLen {
		short = short[:synthesizedNameLen]
	}
	return Device{
		ID:          id,
		Name:        "Device " + string(short),
		Type:        DefaultType,
		Status:      StatusActive,
		Synthesized: true,
	}
}
