package character

import "strings"

// Character captures the role-playing attributes exposed to the frontend.
// Field names follow the static dataset so the listing can be served verbatim.
type Character struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	VisualDescription string `json:"Visual_Description"`
	Personality       string `json:"Personality"`
	RoleplayExamples  string `json:"Roleplay_Examples"`
}

// Valid reports whether the record carries the fields a persona prompt needs.
func (c Character) Valid() bool {
	return strings.TrimSpace(c.ID) != "" && strings.TrimSpace(c.Name) != ""
}
