package model

// Address is location metadata attached to a story. The ordering engine
// never looks at it; it only travels with the story.
type Address struct {
	Name             string   `toml:"name,omitempty" json:"name"`
	Address          string   `toml:"address,omitempty" json:"address,omitempty"`
	Longitude        *float64 `toml:"longitude,omitempty" json:"longitude,omitempty"`
	Latitude         *float64 `toml:"latitude,omitempty" json:"latitude,omitempty"`
	CoordinateSystem string   `toml:"coordinate_system,omitempty" json:"coordinate_system,omitempty"`
}

// Story is one life event as loaded from a vault or a calendar feed.
//
// StartTime and EndTime are free-form strings, normally one of
// "YYYY-MM-DD HH:MM[:SS]", "YYYY-MM-DD" or "HH:MM[:SS]". A StartTime
// without a date prefix marks the story as unplanned.
type Story struct {
	// ID locates the story across successive list states. For vault
	// stories it is the file basename; it may be empty.
	ID string `json:"id,omitempty"`

	Name        string   `json:"name"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Description string   `json:"description"`
	Address     *Address `json:"address,omitempty"`

	// ReadOnly marks stories that come from a subscribed calendar. They
	// are shown and ordered like any other story but cannot be edited.
	ReadOnly bool `json:"read_only,omitempty"`
}

// SameAs reports whether s and other denote the same story. When both
// carry an ID the IDs decide; otherwise the comparison is structural.
func (s Story) SameAs(other Story) bool {
	if s.ID != "" && other.ID != "" {
		return s.ID == other.ID
	}
	return s.Name == other.Name &&
		s.StartTime == other.StartTime &&
		s.EndTime == other.EndTime &&
		s.Description == other.Description &&
		s.addressName() == other.addressName()
}

func (s Story) addressName() string {
	if s.Address == nil {
		return ""
	}
	return s.Address.Name
}

// HasSchedule reports whether either time field is set. Inserting or
// editing such a story requires a full resort.
func (s Story) HasSchedule() bool {
	return s.StartTime != "" || s.EndTime != ""
}
