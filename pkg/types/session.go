package types

// NavigationError describes a navigation that failed at the DNS, TLS or HTTP level.
type NavigationError struct {
	URL         string `json:"url"`
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// Rect is the placement of the embedded view inside the host window.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// MediaKind distinguishes inventory entries.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// MediaEntry is one image or video element found on a loaded page.
type MediaEntry struct {
	Kind             MediaKind `json:"kind"`
	SourceURL        string    `json:"sourceUrl"`
	AlternateSources []string  `json:"alternateSources,omitempty"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	AltText          string    `json:"altText,omitempty"`
}

// MediaInventory is the bounded result of one media scan.
type MediaInventory struct {
	// PageURL is the document the scan ran against.
	PageURL string `json:"pageUrl,omitempty"`

	Images []MediaEntry `json:"images"`
	Videos []MediaEntry `json:"videos"`

	// Source is "script" for the injected routine and "markup" for the serialized-DOM fallback.
	Source string `json:"source"`
}

// Len returns the total number of entries.
func (m MediaInventory) Len() int {
	return len(m.Images) + len(m.Videos)
}
