// Package pagegen generates synthetic, reproducible page loads: a devtools protocol log, a
// Chrome trace of the renderer main thread and the matching HTTP archive, all describing the
// same load.
package pagegen

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pb33f/lantern/motor/model"
)

// GenerateOptions configures page generation
type GenerateOptions struct {
	Resources       int     // subresources requested by the page
	Origins         int     // origins the subresources are spread over, the first is the page's
	RTT             float64 // round trip to the page origin in ms
	Throughput      float64 // bytes per second of every transfer
	ServerResponse  float64 // ms the server thinks before the first byte
	MaxTaskDuration float64 // longest main-thread task in ms
	QuietTail       float64 // idle ms recorded after the load event
	Redirect        bool    // navigate through an http -> https redirect first
	DictionaryPath  string  // word list for resource paths (default: built-in words)
	Seed            int64   // random seed for reproducibility (0 = use time)
}

// DefaultGenerateOptions provides sensible defaults
var DefaultGenerateOptions = GenerateOptions{
	Resources:       12,
	Origins:         2,
	RTT:             40,
	Throughput:      1_600_000,
	ServerResponse:  60,
	MaxTaskDuration: 180,
	QuietTail:       6000,
}

// Resource is one request of the generated load. times are ms on the trace clock.
type Resource struct {
	RequestID     string
	URL           string
	Type          model.ResourceType
	Priority      string
	MimeType      string
	Status        int
	Start         float64
	ResponseStart float64
	End           float64
	Size          int64
	Initiator     model.Initiator
	Fresh         bool // opened a new connection
	Connection    int
	RedirectTo    string
	timing        phases
	redirect      *Resource // hop this request was redirected from
}

// Page is a generated load in all three recorded forms.
type Page struct {
	URL             string
	FrameID         string
	NavigationStart float64
	Resources       []*Resource
	DevtoolsLog     *model.DevtoolsLog
	Trace           *model.Trace
	HAR             *model.HAR
}

// GenerateResult contains the paths a generated page was written to
type GenerateResult struct {
	TracePath       string
	DevtoolsLogPath string
	HARPath         string
	Page            *Page
}

func (opts GenerateOptions) withDefaults() GenerateOptions {
	d := DefaultGenerateOptions
	if opts.Resources < 0 {
		opts.Resources = 0
	}
	if opts.Origins <= 0 {
		opts.Origins = d.Origins
	}
	if opts.RTT <= 0 {
		opts.RTT = d.RTT
	}
	if opts.Throughput <= 0 {
		opts.Throughput = d.Throughput
	}
	if opts.ServerResponse < 0 {
		opts.ServerResponse = 0
	}
	if opts.MaxTaskDuration <= 0 {
		opts.MaxTaskDuration = d.MaxTaskDuration
	}
	if opts.QuietTail <= 0 {
		opts.QuietTail = d.QuietTail
	}
	return opts
}

// GenerateInMemory creates a page load without writing to disk
func GenerateInMemory(opts GenerateOptions) (*Page, error) {
	opts = opts.withDefaults()

	// local rng, the global one is never touched
	var rng *rand.Rand
	if opts.Seed != 0 {
		rng = rand.New(rand.NewSource(opts.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	dict, err := LoadDictionary(opts.DictionaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load dictionary: %w", err)
	}

	load := newLoadGenerator(opts, dict, rng)
	page := load.generate()

	page.DevtoolsLog, err = devtoolsLog(page)
	if err != nil {
		return nil, err
	}
	page.HAR = archive(page, opts.Throughput)
	return page, nil
}

// Generate creates a page load in a fresh temp directory
func Generate(opts GenerateOptions) (*GenerateResult, error) {
	dir, err := os.MkdirTemp("", "pagegen-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return GenerateToDir(dir, opts)
}

// GenerateToDir generates a page load and writes trace.json, devtoolslog.json and page.har
// into dir.
func GenerateToDir(dir string, opts GenerateOptions) (*GenerateResult, error) {
	page, err := GenerateInMemory(opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &GenerateResult{
		TracePath:       filepath.Join(dir, "trace.json"),
		DevtoolsLogPath: filepath.Join(dir, "devtoolslog.json"),
		HARPath:         filepath.Join(dir, "page.har"),
		Page:            page,
	}

	trace := struct {
		TraceEvents []model.TraceEvent `json:"traceEvents"`
	}{page.Trace.Events}

	for path, doc := range map[string]any{
		result.TracePath:       trace,
		result.DevtoolsLogPath: page.DevtoolsLog.Messages,
		result.HARPath:         page.HAR,
	} {
		if err := writeJSON(path, doc); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
