package domain

// CallSettings are the user preferences consulted, never mutated, by the
// call coordinators.
type CallSettings struct {
	IsDND        bool `json:"is_dnd"`
	SoundEnabled bool `json:"sound_enabled"`
}
