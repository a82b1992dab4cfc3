package catalog

// Recording is one stored capture and its metadata.
type Recording struct {
	ID        string  `json:"id"`
	Label     *string `json:"label"`
	FilePath  string  `json:"filepath"`
	IsPlaying bool    `json:"is_playing"`
}

// LabelText returns the label or "" when none is set.
func (r Recording) LabelText() string {
	if r.Label == nil {
		return ""
	}
	return *r.Label
}

func (r Recording) equal(o Recording) bool {
	if r.ID != o.ID || r.FilePath != o.FilePath || r.IsPlaying != o.IsPlaying {
		return false
	}
	if (r.Label == nil) != (o.Label == nil) {
		return false
	}
	return r.Label == nil || *r.Label == *o.Label
}

func (r Recording) clone() Recording {
	if r.Label != nil {
		l := *r.Label
		r.Label = &l
	}
	return r
}

// ChangeType classifies a catalog change.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeUpdated  ChangeType = "updated"
	ChangeReloaded ChangeType = "reloaded"
)

// Change describes one successful mutation.
type Change struct {
	Type      ChangeType `json:"type"`
	Recording Recording  `json:"recording"`
}
