package model

import (
	"time"

	"github.com/pb33f/harhar"
)

// HAR represents the root of an HTTP Archive document.
//
// W3C Spec: https://w3c.github.io/web-performance/specs/HAR/Overview.html
type HAR struct {
	Log Log `json:"log"`
}

// NewHAR creates a new HTTP Archive document with the provided Creator Name.
func NewHAR(creatorName string) *HAR {
	v := time.Now().Format("20060102150405")

	return &HAR{
		Log: Log{
			Version: "1.2",
			Creator: Creator{
				Name:    creatorName,
				Version: v,
			},
		},
	}
}

// Log represents a set of HTTP Request/Response Entries.
type Log struct {
	Version string `json:"version"`

	// Creator of this set of Log entries.
	Creator Creator `json:"creator"`

	// Browser information that produced this set of Log entries.
	Browser *Creator `json:"browser,omitempty"`

	// Pages contain information about request groupings, such as a page loaded by a web browser.
	Pages []harhar.Page `json:"pages,omitempty"`

	// Entries contains all of the Request and Response details of the load.
	Entries []harhar.Entry `json:"entries"`

	Comment string `json:"comment,omitempty"`
}

// Creator describes the source of the logged requests/responses.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Comment string `json:"comment,omitempty"`
}
