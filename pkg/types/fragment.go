package types

import (
	"bytes"
	"encoding/json"
)

// Fragment is one draw update for a stroke. The concrete type is decided
// once, by DecodeFragment, and never re-inferred downstream.
type Fragment interface {
	StrokeID() string
	// Stamped returns a copy attributed to userID.
	Stamped(userID string) Fragment
	isFragment()
}

// FullStroke defines (or redefines) a stroke completely.
type FullStroke struct {
	ID     string
	UserID string
	Tool   Tool
	Color  string
	Size   float64
	Points []Point
}

// AppendFragment carries points recorded since the previous send. Tool,
// Color and Size are set only when the client sent some but not all of the
// style fields; they shape the stroke only if its definition was never seen.
type AppendFragment struct {
	ID     string
	UserID string
	Tool   Tool
	Color  string
	Size   float64
	Points []Point
}

func (f *FullStroke) StrokeID() string     { return f.ID }
func (f *AppendFragment) StrokeID() string { return f.ID }

func (*FullStroke) isFragment()     {}
func (*AppendFragment) isFragment() {}

func (f *FullStroke) Stamped(userID string) Fragment {
	c := *f
	c.UserID = userID
	c.Points = append([]Point(nil), f.Points...)
	return &c
}

func (f *AppendFragment) Stamped(userID string) Fragment {
	c := *f
	c.UserID = userID
	c.Points = append([]Point(nil), f.Points...)
	return &c
}

// Operation builds a fresh, undeleted log entry from the full definition.
func (f *FullStroke) Operation() *StrokeOperation {
	return &StrokeOperation{
		ID:     f.ID,
		UserID: f.UserID,
		Tool:   f.Tool,
		Color:  f.Color,
		Size:   f.Size,
		Points: append([]Point(nil), f.Points...),
	}
}

// Operation builds a log entry for a continuation whose defining message
// has not been seen. Style fields the fragment carries win over the defaults.
func (f *AppendFragment) Operation() *StrokeOperation {
	op := &StrokeOperation{
		ID:     f.ID,
		UserID: f.UserID,
		Tool:   DefaultTool,
		Color:  DefaultColor,
		Size:   DefaultSize,
		Points: append([]Point(nil), f.Points...),
	}
	if f.Tool != "" {
		op.Tool = f.Tool
	}
	if f.Color != "" {
		op.Color = f.Color
	}
	if f.Size > 0 {
		op.Size = f.Size
	}
	return op
}

type fullStrokeWire struct {
	ID     string  `json:"id"`
	UserID string  `json:"userId,omitempty"`
	Tool   Tool    `json:"tool"`
	Color  string  `json:"color"`
	Size   float64 `json:"size"`
	Points []Point `json:"points"`
}

type appendFragmentWire struct {
	ID     string  `json:"id"`
	UserID string  `json:"userId,omitempty"`
	Tool   Tool    `json:"tool,omitempty"`
	Color  string  `json:"color,omitempty"`
	Size   float64 `json:"size,omitempty"`
	Points []Point `json:"points"`
}

func (f *FullStroke) MarshalJSON() ([]byte, error) {
	points := f.Points
	if points == nil {
		points = []Point{}
	}
	return json.Marshal(fullStrokeWire{
		ID: f.ID, UserID: f.UserID, Tool: f.Tool, Color: f.Color, Size: f.Size, Points: points,
	})
}

func (f *AppendFragment) MarshalJSON() ([]byte, error) {
	points := f.Points
	if points == nil {
		points = []Point{}
	}
	return json.Marshal(appendFragmentWire{
		ID: f.ID, UserID: f.UserID, Tool: f.Tool, Color: f.Color, Size: f.Size, Points: points,
	})
}

// fragmentProbe keeps pointers so that "absent" and "zero" stay distinct.
type fragmentProbe struct {
	ID     *string          `json:"id"`
	UserID string           `json:"userId"`
	Tool   *Tool            `json:"tool"`
	Color  *string          `json:"color"`
	Size   *float64         `json:"size"`
	Points *json.RawMessage `json:"points"`
}

// DecodeFragment classifies a draw payload. A payload carrying tool, color,
// size and a points array is a FullStroke; any other payload with a points
// array is an AppendFragment that keeps whichever style fields it carries.
// A style field that is present but invalid rejects the whole fragment.
func DecodeFragment(data []byte) (Fragment, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, ErrEmptyFragment
	}

	var probe fragmentProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, ErrInvalidFragment
	}
	if probe.ID == nil || !IsValidStrokeID(*probe.ID) {
		return nil, ErrInvalidStrokeID
	}
	if probe.Points == nil || !isJSONArray(*probe.Points) {
		return nil, ErrMissingPoints
	}

	var points []Point
	if err := json.Unmarshal(*probe.Points, &points); err != nil {
		return nil, ErrInvalidPoints
	}
	if err := ValidatePoints(points); err != nil {
		return nil, err
	}

	if probe.Tool != nil && probe.Color != nil && probe.Size != nil {
		full := &FullStroke{
			ID:     *probe.ID,
			UserID: probe.UserID,
			Tool:   *probe.Tool,
			Color:  *probe.Color,
			Size:   *probe.Size,
			Points: points,
		}
		if err := full.Validate(); err != nil {
			return nil, err
		}
		return full, nil
	}

	frag := &AppendFragment{ID: *probe.ID, UserID: probe.UserID, Points: points}
	if probe.Tool != nil {
		if !IsValidTool(*probe.Tool) {
			return nil, ErrInvalidTool
		}
		frag.Tool = *probe.Tool
	}
	if probe.Color != nil {
		if !isValidColor(*probe.Color) {
			return nil, ErrInvalidColor
		}
		frag.Color = *probe.Color
	}
	if probe.Size != nil {
		if !isValidSize(*probe.Size) {
			return nil, ErrInvalidSize
		}
		frag.Size = *probe.Size
	}
	return frag, nil
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
