package things

// NewLamp returns a simple boolean-powered light fixture, the thing
// used throughout spec §8 scenario S5.
func NewLamp() *Thing {
	power := false
	t := NewThing("Lamp", "A controllable light fixture")
	t.AddProperty("power", "Whether the lamp is currently on", KindBool, func() Value {
		return BoolValue(power)
	})
	t.AddMethod("TurnOn", "Turn the lamp on", nil, func(map[string]Value) (Value, error) {
		power = true
		return BoolValue(true), nil
	})
	t.AddMethod("TurnOff", "Turn the lamp off", nil, func(map[string]Value) (Value, error) {
		power = false
		return BoolValue(true), nil
	})
	t.AddMethod("Toggle", "Flip the lamp's current state", nil, func(map[string]Value) (Value, error) {
		power = !power
		return BoolValue(power), nil
	})
	return t
}

// NewSpeaker returns a volume-controlled speaker thing. handle is the
// narrow SessionHandle capability spec §9 calls for, used so SetVolume
// can report the new volume to the session without a global
// back-reference.
func NewSpeaker(handle SessionHandle) *Thing {
	volume := 70
	t := NewThing("Speaker", "The device's audio output")
	t.AddProperty("volume", "Current playback volume percentage", KindInt, func() Value {
		return IntValue(int64(volume))
	})
	t.AddMethod("SetVolume", "Set the playback volume percentage", []struct {
		Name        string
		Description string
		Kind        ValueKind
		Required    bool
	}{
		{Name: "volume", Description: "Target volume, 0-100", Kind: KindInt, Required: true},
	}, func(params map[string]Value) (Value, error) {
		v := params["volume"]
		volume = int(v.I)
		if volume < 0 {
			volume = 0
		}
		if volume > 100 {
			volume = 100
		}
		if handle != nil {
			handle.SetVolume(volume)
		}
		return IntValue(int64(volume)), nil
	})
	return t
}
