package model

// Preference is a recipient's explicit per-type channel opt-in state.
// No row means both channels are enabled (opt-out model).
type Preference struct {
	RecipientID  string
	Type         string
	EmailEnabled bool
	PushEnabled  bool
}
