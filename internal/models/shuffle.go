package models

import "strings"

type ShuffleEntry struct {
	OriginalKey string `json:"original_key"`
	DisplayKey  string `json:"display_key"`
	OptionText  string `json:"option_text"`
}

// ShuffleMapping is the display order of one question's options for one
// exam or practice run, listed in display order.
type ShuffleMapping struct {
	Entries []ShuffleEntry `json:"entries"`
}

// ToOriginal maps a display key (case-insensitive) back to its original key.
func (m ShuffleMapping) ToOriginal(display string) (string, bool) {
	display = strings.TrimSpace(display)
	for _, e := range m.Entries {
		if strings.EqualFold(e.DisplayKey, display) {
			return e.OriginalKey, true
		}
	}
	return "", false
}

// ToDisplay maps an original key to the key shown to the user.
func (m ShuffleMapping) ToDisplay(original string) (string, bool) {
	for _, e := range m.Entries {
		if strings.EqualFold(e.OriginalKey, original) {
			return e.DisplayKey, true
		}
	}
	return "", false
}

// DisplayOptions returns the options relabelled with display keys.
func (m ShuffleMapping) DisplayOptions() []Option {
	out := make([]Option, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = Option{Key: e.DisplayKey, Text: e.OptionText}
	}
	return out
}
