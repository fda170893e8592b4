package types

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for the high-frequency draw path
var (
	roomIDRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	hexColorRegex = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
)

const (
	maxRoomIDLength   = 128
	maxStrokeIDLength = 128
	maxColorLength    = 32
	maxNameRunes      = 40
	// MaxPointsPerFragment bounds a single draw payload.
	MaxPointsPerFragment = 10000
	// MaxStrokeSize bounds the stroke width.
	MaxStrokeSize = 512
)

// Validate checks the style fields of a full stroke definition.
func (f *FullStroke) Validate() error {
	if !IsValidStrokeID(f.ID) {
		return ErrInvalidStrokeID
	}
	if !IsValidTool(f.Tool) {
		return ErrInvalidTool
	}
	if !isValidColor(f.Color) {
		return ErrInvalidColor
	}
	if !isValidSize(f.Size) {
		return ErrInvalidSize
	}
	return ValidatePoints(f.Points)
}

func isValidColor(c string) bool {
	return c != "" && len(c) <= maxColorLength
}

func isValidSize(size float64) bool {
	return !math.IsNaN(size) && size > 0 && size <= MaxStrokeSize
}

// ValidatePoints rejects oversized batches and non-finite coordinates.
func ValidatePoints(points []Point) error {
	if len(points) > MaxPointsPerFragment {
		return ErrTooManyPoints
	}
	for _, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return ErrInvalidPoints
		}
	}
	return nil
}

// IsValidTool reports whether t is one of the known tools.
func IsValidTool(t Tool) bool {
	switch t {
	case ToolBrush, ToolEraser:
		return true
	default:
		return false
	}
}

// IsValidRoomID checks room id format: 1-128 characters, alphanumeric plus
// underscore and hyphen.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > maxRoomIDLength {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidStrokeID checks the client-generated stroke id. The id is opaque:
// only its length and encoding are checked.
func IsValidStrokeID(id string) bool {
	if len(id) < 1 || len(id) > maxStrokeIDLength {
		return false
	}
	return utf8.ValidString(id)
}

// IsHexColor reports whether c is a CSS hex color (#rgb, #rrggbb, #rrggbbaa).
func IsHexColor(c string) bool {
	return hexColorRegex.MatchString(c)
}

// NormalizeName trims whitespace and truncates the display name.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= maxNameRunes {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxNameRunes])
}

// Validate checks a cursor position.
func (c *CursorPosition) Validate() error {
	if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) {
		return ErrInvalidCursor
	}
	return nil
}
