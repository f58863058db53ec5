package model

import (
	"net/url"
	"strings"
)

// ResourceType is the devtools classification of a network request.
type ResourceType string

const (
	ResourceDocument   ResourceType = "Document"
	ResourceStylesheet ResourceType = "Stylesheet"
	ResourceScript     ResourceType = "Script"
	ResourceImage      ResourceType = "Image"
	ResourceFont       ResourceType = "Font"
	ResourceMedia      ResourceType = "Media"
	ResourceXHR        ResourceType = "XHR"
	ResourceFetch      ResourceType = "Fetch"
	ResourceOther      ResourceType = "Other"
)

// InitiatorType describes what caused a request to be issued.
type InitiatorType string

const (
	InitiatorParser   InitiatorType = "parser"
	InitiatorScript   InitiatorType = "script"
	InitiatorPreload  InitiatorType = "preload"
	InitiatorRedirect InitiatorType = "redirect"
	InitiatorOther    InitiatorType = "other"
)

// Initiator references the record or script that caused a request.
type Initiator struct {
	Type      InitiatorType `json:"type"`
	URL       string        `json:"url,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
	StackURLs []string      `json:"stackUrls,omitempty"`
}

// ResourceTiming holds the connection phases of a request. RequestTime is an absolute
// timestamp in ms, every other field is an offset from it in ms, -1 when absent.
type ResourceTiming struct {
	RequestTime       float64 `json:"requestTime"`
	DNSStart          float64 `json:"dnsStart"`
	DNSEnd            float64 `json:"dnsEnd"`
	ConnectStart      float64 `json:"connectStart"`
	ConnectEnd        float64 `json:"connectEnd"`
	SSLStart          float64 `json:"sslStart"`
	SSLEnd            float64 `json:"sslEnd"`
	SendStart         float64 `json:"sendStart"`
	SendEnd           float64 `json:"sendEnd"`
	ReceiveHeadersEnd float64 `json:"receiveHeadersEnd"`
}

// NetworkRecord is a single request reconstructed from a network log. Records are
// immutable once the recorder hands them out.
type NetworkRecord struct {
	RequestID    string       `json:"requestId"`
	URL          string       `json:"url"`
	Origin       string       `json:"origin"`
	Protocol     string       `json:"protocol,omitempty"`
	MimeType     string       `json:"mimeType,omitempty"`
	ResourceType ResourceType `json:"resourceType,omitempty"`
	Priority     string       `json:"priority,omitempty"`
	FrameID      string       `json:"frameId,omitempty"`
	DocumentURL  string       `json:"documentUrl,omitempty"`
	StatusCode   int          `json:"statusCode"`

	StartTime            float64 `json:"startTime"`
	EndTime              float64 `json:"endTime"`
	ResponseReceivedTime float64 `json:"responseReceivedTime"`

	TransferSize int64 `json:"transferSize"`
	ResourceSize int64 `json:"resourceSize"`

	ConnectionID     string `json:"connectionId,omitempty"`
	ConnectionReused bool   `json:"connectionReused"`
	FromDiskCache    bool   `json:"fromDiskCache,omitempty"`
	FromMemoryCache  bool   `json:"fromMemoryCache,omitempty"`
	Failed           bool   `json:"failed,omitempty"`
	Finished         bool   `json:"finished"`

	Timing    *ResourceTiming `json:"timing,omitempty"`
	Initiator Initiator       `json:"initiator"`

	RedirectSource      string   `json:"redirectSource,omitempty"`
	RedirectDestination string   `json:"redirectDestination,omitempty"`
	Redirects           []string `json:"redirects,omitempty"`
}

// Scheme returns the lower-cased URL scheme, or an empty string for unparsable URLs.
func (r *NetworkRecord) Scheme() string {
	if i := strings.Index(r.URL, ":"); i > 0 {
		return strings.ToLower(r.URL[:i])
	}
	return ""
}

// IsNonNetwork reports whether the request never touched the network (data: and blob: URLs).
func (r *NetworkRecord) IsNonNetwork() bool {
	switch r.Scheme() {
	case "data", "blob", "about", "chrome-extension":
		return true
	}
	return false
}

// IsSecure reports whether the request needed a TLS handshake.
func (r *NetworkRecord) IsSecure() bool {
	s := r.Scheme()
	return s == "https" || s == "wss"
}

// FromCache reports whether the response was served from any browser cache.
func (r *NetworkRecord) FromCache() bool {
	return r.FromDiskCache || r.FromMemoryCache
}

// TransferDuration is the time spent receiving the body.
func (r *NetworkRecord) TransferDuration() float64 {
	if r.ResponseReceivedTime <= 0 || r.EndTime < r.ResponseReceivedTime {
		return 0
	}
	return r.EndTime - r.ResponseReceivedTime
}

// IsHTTP2 reports whether the request was multiplexed over h2 or h3.
func (r *NetworkRecord) IsHTTP2() bool {
	p := strings.ToLower(r.Protocol)
	return p == "h2" || p == "h3" || strings.HasPrefix(p, "http/2") || strings.HasPrefix(p, "http/3") || p == "quic"
}

// OriginOf returns scheme://host[:port] for absolute URLs and an empty string otherwise.
func OriginOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// ResourceTypeFromMime guesses a resource type when the log does not carry one.
func ResourceTypeFromMime(mime string) ResourceType {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "text/html"), strings.HasPrefix(mime, "application/xhtml"):
		return ResourceDocument
	case strings.HasPrefix(mime, "text/css"):
		return ResourceStylesheet
	case strings.Contains(mime, "javascript"), strings.Contains(mime, "ecmascript"):
		return ResourceScript
	case strings.HasPrefix(mime, "image/"):
		return ResourceImage
	case strings.HasPrefix(mime, "font/"), strings.Contains(mime, "font-"), strings.Contains(mime, "woff"):
		return ResourceFont
	case strings.HasPrefix(mime, "video/"), strings.HasPrefix(mime, "audio/"):
		return ResourceMedia
	case strings.Contains(mime, "json"), strings.Contains(mime, "xml"):
		return ResourceXHR
	}
	return ResourceOther
}
