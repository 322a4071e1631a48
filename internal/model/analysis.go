package model

import (
	"fmt"
	"time"
)

// Screenshot is the output of the capture stage
type Screenshot struct {
	PageURL    string    `json:"pageUrl"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	Image      []byte    `json:"-"` // PNG bytes, when the capture service returned them inline
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Box is an axis-aligned rectangle in screenshot pixel coordinates
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ElementKind classifies detected UI elements
type ElementKind string

const (
	ElementText   ElementKind = "text"
	ElementButton ElementKind = "button"
	ElementLink   ElementKind = "link"
	ElementInput  ElementKind = "input"
	ElementImage  ElementKind = "image"
	ElementIcon   ElementKind = "icon"
)

// Element is a UI element found by the detection stage
type Element struct {
	ID         string      `json:"id"`
	Kind       ElementKind `json:"kind"`
	Label      string      `json:"label,omitempty"`
	Box        Box         `json:"box"`
	Confidence float64     `json:"confidence"`
}

// Color is an sRGB color
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Hex renders the color as #rrggbb
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// EnrichedElement is an element with its extracted colors. Sampled is false
// when the element's box fell outside the screenshot.
type EnrichedElement struct {
	Element
	Foreground Color `json:"foreground"`
	Background Color `json:"background"`
	Sampled    bool  `json:"sampled"`
}

// Finding is one observation made by the vision reviewer
type Finding struct {
	Area    string `json:"area"`
	Comment string `json:"comment"`
}

// VisionReview is the output of the vision-review stage
type VisionReview struct {
	Model    string    `json:"model"`
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings,omitempty"`
}

// Severity of a rule violation
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// RuleKind separates measurable rules from judgement-based ones
type RuleKind string

const (
	RuleObjective  RuleKind = "objective"
	RuleSubjective RuleKind = "subjective"
)

// Violation is a single rule breach
type Violation struct {
	Rule      string   `json:"rule"`
	Kind      RuleKind `json:"kind"`
	Severity  Severity `json:"severity"`
	ElementID string   `json:"elementId,omitempty"`
	Message   string   `json:"message"`
}

// Report is the final payload stored as a completed job's result
type Report struct {
	Input          string        `json:"input"`
	Status         string        `json:"status"`
	Summary        string        `json:"summary"`
	IssuesCount    int           `json:"issuesCount"`
	CriticalIssues int           `json:"criticalIssues"`
	ElementsCount  int           `json:"elementsCount"`
	Palette        []string      `json:"palette,omitempty"`
	Violations     []Violation   `json:"violations"`
	VisionReview   *VisionReview `json:"visionReview,omitempty"`
	ScreenshotURL  string        `json:"screenshotUrl,omitempty"`
	ReportURL      string        `json:"reportUrl,omitempty"`
	GeneratedAt    time.Time     `json:"generatedAt"`
}
