package motor

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pb33f/harhar"
	"github.com/pb33f/lantern/motor/model"
)

// HAROptions controls how wall-clock HAR entries map onto the trace clock.
type HAROptions struct {
	// BaseTime is the monotonic ms timestamp assigned to the earliest entry,
	// usually the trace navigation start
	BaseTime float64
}

// HARBuilder converts the entries of an HTTP archive into network records.
type HARBuilder struct {
	options HAROptions
	strings Interner
	entries []harhar.Entry
	pages   []harhar.Page
}

func NewHARBuilder(options HAROptions) *HARBuilder {
	return &HARBuilder{
		options: options,
		strings: NewStringTable(),
	}
}

// RecordsFromHAR reads a HAR document and returns its records ordered by start time.
func RecordsFromHAR(r io.Reader, options HAROptions) ([]*model.NetworkRecord, error) {
	b := NewHARBuilder(options)
	if err := b.Read(r); err != nil {
		return nil, err
	}
	return b.Records()
}

// Read scans the document, keeping only log.entries and log.pages.
func (b *HARBuilder) Read(r io.Reader) error {
	decoder := newTokenDecoder(r)

	if err := helper.expectDelim(decoder, json.Delim('{')); err != nil {
		return parseError("har", decoder.InputOffset(), emptyAsUnexpected(err))
	}

	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return parseError("har", decoder.InputOffset(), err)
		}

		key, ok := token.(string)
		if !ok {
			continue
		}

		switch key {
		case keyLog:
			if err := b.parseLog(decoder); err != nil {
				return parseError("har", decoder.InputOffset(), err)
			}
		default:
			if err := helper.skipValue(decoder); err != nil {
				return parseError("har", decoder.InputOffset(), err)
			}
		}
	}

	return nil
}

func (b *HARBuilder) parseLog(decoder TokenDecoder) error {
	if err := helper.expectDelim(decoder, json.Delim('{')); err != nil {
		return err
	}

	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return err
		}

		key, ok := token.(string)
		if !ok {
			continue
		}

		switch key {
		case "pages":
			if err := decoder.Decode(&b.pages); err != nil {
				return err
			}
		case keyEntries:
			if err := helper.expectDelim(decoder, json.Delim('[')); err != nil {
				return err
			}
			err := decodeArray(decoder, func(_ int, entry *harhar.Entry) error {
				b.entries = append(b.entries, *entry)
				return nil
			})
			if err != nil {
				return err
			}
		default:
			if err := helper.skipValue(decoder); err != nil {
				return err
			}
		}
	}

	_, err := decoder.Token()
	return err
}

// Pages returns the page list of the archive, if it had one.
func (b *HARBuilder) Pages() []harhar.Page {
	return b.pages
}

// Records converts the entries read so far.
func (b *HARBuilder) Records() ([]*model.NetworkRecord, error) {
	if len(b.entries) == 0 {
		return nil, nil
	}

	starts := make([]time.Time, len(b.entries))
	var base time.Time
	for i := range b.entries {
		t, err := time.Parse(time.RFC3339, b.entries[i].Start)
		if err != nil {
			return nil, parseError("har", 0, fmt.Errorf("entry %d: bad startedDateTime %q: %w", i, b.entries[i].Start, err))
		}
		starts[i] = t
		if base.IsZero() || t.Before(base) {
			base = t
		}
	}

	records := make([]*model.NetworkRecord, len(b.entries))
	for i := range b.entries {
		offset := float64(starts[i].Sub(base)) / float64(time.Millisecond)
		records[i] = b.convertEntry(i, &b.entries[i], b.options.BaseTime+offset)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime < records[j].StartTime
	})

	documentURL := records[0].URL
	if records[0].ResourceType == model.ResourceOther {
		records[0].ResourceType = model.ResourceDocument
	}
	for _, r := range records {
		r.DocumentURL = documentURL
	}
	linkRedirects(records, b.entries)

	return records, nil
}

func (b *HARBuilder) convertEntry(index int, entry *harhar.Entry, start float64) *model.NetworkRecord {
	t := entry.Timings
	positive := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}

	timing := &model.ResourceTiming{
		RequestTime:  start,
		DNSStart:     -1,
		DNSEnd:       -1,
		ConnectStart: -1,
		ConnectEnd:   -1,
		SSLStart:     -1,
		SSLEnd:       -1,
	}
	cursor := positive(t.Blocked)
	if t.DNS >= 0 {
		timing.DNSStart = cursor
		cursor += t.DNS
		timing.DNSEnd = cursor
	}
	if t.Connect >= 0 {
		timing.ConnectStart = cursor
		cursor += t.Connect
		timing.ConnectEnd = cursor
		if t.SSL > 0 {
			timing.SSLStart = cursor - t.SSL
			timing.SSLEnd = cursor
		}
	}
	timing.SendStart = cursor
	cursor += positive(t.Send)
	timing.SendEnd = cursor
	cursor += positive(t.Wait)
	timing.ReceiveHeadersEnd = cursor

	transfer := int64(0)
	if entry.Response.HeadersSize > 0 {
		transfer += int64(entry.Response.HeadersSize)
	}
	if entry.Response.BodySize > 0 {
		transfer += int64(entry.Response.BodySize)
	}

	url := b.strings.Intern(entry.Request.URL)
	mime := b.strings.Intern(entry.Response.Body.MIMEType)
	return &model.NetworkRecord{
		RequestID:            fmt.Sprintf("har-%d", index),
		URL:                  url,
		Origin:               b.strings.Intern(model.OriginOf(url)),
		Protocol:             b.strings.Intern(strings.ToLower(entry.Response.HTTPVersion)),
		MimeType:             mime,
		ResourceType:         model.ResourceTypeFromMime(mime),
		StatusCode:           entry.Response.StatusCode,
		StartTime:            start,
		ResponseReceivedTime: start + timing.ReceiveHeadersEnd,
		EndTime:              start + max(entry.Time, timing.ReceiveHeadersEnd),
		TransferSize:         transfer,
		ResourceSize:         int64(entry.Response.Body.Size),
		ConnectionID:         entry.Connection,
		ConnectionReused:     t.Connect < 0,
		Failed:               entry.Response.StatusCode == 0,
		Finished:             true,
		Timing:               timing,
		Initiator:            model.Initiator{Type: model.InitiatorOther},
	}
}

// linkRedirects chains each 3xx entry to the next request for its Location
func linkRedirects(records []*model.NetworkRecord, entries []harhar.Entry) {
	redirectURL := make(map[string]string, len(entries))
	for i := range entries {
		if entries[i].Response.RedirectURL != "" {
			redirectURL[fmt.Sprintf("har-%d", i)] = entries[i].Response.RedirectURL
		}
	}

	for i, source := range records {
		target, ok := redirectURL[source.RequestID]
		if !ok || source.StatusCode < 300 || source.StatusCode >= 400 {
			continue
		}
		for _, dest := range records[i+1:] {
			if dest.URL != target || dest.RedirectSource != "" {
				continue
			}
			source.RedirectDestination = dest.RequestID
			dest.RedirectSource = source.RequestID
			dest.Redirects = append(append([]string{}, source.Redirects...), source.RequestID)
			dest.Initiator = model.Initiator{Type: model.InitiatorRedirect, RequestID: source.RequestID, URL: source.URL}
			break
		}
	}
}
