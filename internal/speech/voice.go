package speech

import "slices"

// Voice describes a service voice and what it can express.
type Voice struct {
	Name            string   `json:"name"`
	ShortName       string   `json:"short_name"`
	DisplayName     string   `json:"display_name,omitempty"`
	Locale          string   `json:"locale"`
	Gender          string   `json:"gender,omitempty"`
	VoiceType       string   `json:"voice_type,omitempty"`
	Status          string   `json:"status,omitempty"`
	SampleRateHertz int      `json:"sample_rate_hertz,omitempty"`
	Styles          []string `json:"styles,omitempty"`
	Roles           []string `json:"roles,omitempty"`
}

// ID returns the name used in request markup.
func (v Voice) ID() string {
	if v.ShortName != "" {
		return v.ShortName
	}
	return v.Name
}

// SupportsStyle reports whether the voice declares the given speaking style.
func (v Voice) SupportsStyle(style string) bool {
	return slices.Contains(v.Styles, style)
}

// SupportsRole reports whether the voice declares the given role-play role.
func (v Voice) SupportsRole(role string) bool {
	return slices.Contains(v.Roles, role)
}

func (v Voice) equal(o Voice) bool {
	return v.Name == o.Name &&
		v.ShortName == o.ShortName &&
		v.DisplayName == o.DisplayName &&
		v.Locale == o.Locale &&
		v.Gender == o.Gender &&
		v.VoiceType == o.VoiceType &&
		v.Status == o.Status &&
		v.SampleRateHertz == o.SampleRateHertz &&
		slices.Equal(v.Styles, o.Styles) &&
		slices.Equal(v.Roles, o.Roles)
}

func (v Voice) clone() Voice {
	v.Styles = slices.Clone(v.Styles)
	v.Roles = slices.Clone(v.Roles)
	return v
}
