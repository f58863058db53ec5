package motor

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pb33f/lantern/motor/model"
)

const (
	methodRequestWillBeSent       = "Network.requestWillBeSent"
	methodRequestServedFromCache  = "Network.requestServedFromCache"
	methodResponseReceived        = "Network.responseReceived"
	methodDataReceived            = "Network.dataReceived"
	methodLoadingFinished         = "Network.loadingFinished"
	methodLoadingFailed           = "Network.loadingFailed"
	methodResourceChangedPriority = "Network.resourceChangedPriority"

	redirectSuffix = ":redirect"
)

// protocol payloads, only the fields the recorder reads

type cdpCallFrame struct {
	URL string `json:"url"`
}

type cdpStack struct {
	CallFrames []cdpCallFrame `json:"callFrames"`
	Parent     *cdpStack      `json:"parent,omitempty"`
}

type cdpInitiator struct {
	Type      string    `json:"type"`
	URL       string    `json:"url"`
	RequestID string    `json:"requestId"`
	Stack     *cdpStack `json:"stack,omitempty"`
}

type cdpTiming struct {
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

type cdpResponse struct {
	URL               string      `json:"url"`
	Status            int         `json:"status"`
	MimeType          string      `json:"mimeType"`
	Protocol          string      `json:"protocol"`
	ConnectionReused  bool        `json:"connectionReused"`
	ConnectionID      json.Number `json:"connectionId"`
	FromDiskCache     bool        `json:"fromDiskCache"`
	EncodedDataLength float64     `json:"encodedDataLength"`
	Timing            *cdpTiming  `json:"timing,omitempty"`
}

type cdpRequest struct {
	URL             string `json:"url"`
	Method          string `json:"method"`
	InitialPriority string `json:"initialPriority"`
}

type requestWillBeSentParams struct {
	RequestID        string       `json:"requestId"`
	DocumentURL      string       `json:"documentURL"`
	Request          cdpRequest   `json:"request"`
	Timestamp        float64      `json:"timestamp"`
	Initiator        cdpInitiator `json:"initiator"`
	RedirectResponse *cdpResponse `json:"redirectResponse,omitempty"`
	Type             string       `json:"type"`
	FrameID          string       `json:"frameId"`
}

type responseReceivedParams struct {
	RequestID string      `json:"requestId"`
	Timestamp float64     `json:"timestamp"`
	Type      string      `json:"type"`
	Response  cdpResponse `json:"response"`
}

type dataReceivedParams struct {
	RequestID         string  `json:"requestId"`
	Timestamp         float64 `json:"timestamp"`
	DataLength        int64   `json:"dataLength"`
	EncodedDataLength int64   `json:"encodedDataLength"`
}

type loadingFinishedParams struct {
	RequestID         string  `json:"requestId"`
	Timestamp         float64 `json:"timestamp"`
	EncodedDataLength float64 `json:"encodedDataLength"`
}

type loadingFailedParams struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
	ErrorText string  `json:"errorText"`
	Canceled  bool    `json:"canceled"`
}

type priorityParams struct {
	RequestID   string `json:"requestId"`
	NewPriority string `json:"newPriority"`
}

type requestIDParams struct {
	RequestID string `json:"requestId"`
}

// NetworkRecorder rebuilds network records from devtools protocol messages.
type NetworkRecorder struct {
	strings  Interner
	records  []*model.NetworkRecord
	active   map[string]*model.NetworkRecord
	received map[string]int64 // encoded bytes seen via dataReceived
}

func NewNetworkRecorder(strings Interner) *NetworkRecorder {
	if strings == nil {
		strings = NewStringTable()
	}
	return &NetworkRecorder{
		strings:  strings,
		active:   make(map[string]*model.NetworkRecord),
		received: make(map[string]int64),
	}
}

// RecordsFromDevtoolsLog runs a fresh recorder over the whole log.
func RecordsFromDevtoolsLog(log *model.DevtoolsLog) ([]*model.NetworkRecord, error) {
	recorder := NewNetworkRecorder(nil)
	for i := range log.Messages {
		if err := recorder.Dispatch(&log.Messages[i]); err != nil {
			return nil, parseError("devtools log", 0, fmt.Errorf("message %d: %w", i, err))
		}
	}
	return recorder.Records(), nil
}

// Dispatch applies one protocol message. messages outside the Network domain are ignored.
func (nr *NetworkRecorder) Dispatch(msg *model.ProtocolMessage) error {
	switch msg.Method {
	case methodRequestWillBeSent:
		var p requestWillBeSentParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return fmt.Errorf("%s: %w", msg.Method, err)
		}
		return nr.onRequestWillBeSent(&p)
	case methodRequestServedFromCache:
		var p requestIDParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return fmt.Errorf("%s: %w", msg.Method, err)
		}
		record, err := nr.lookup(p.RequestID, msg.Method)
		if err != nil {
			return err
		}
		record.FromMemoryCache = true
	case methodResponseReceived:
		var p responseReceivedParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return fmt.Errorf("%s: %w", msg.Method, err)
		}
		record, err := nr.lookup(p.RequestID, msg.Method)
		if err != nil {
			return err
		}
		nr.applyResponse(record, &p.Response, p.Timestamp)
		if p.Type != "" {
			record.ResourceType = resourceTypeOf(p.Type)
		}
	case methodDataReceived:
		var p dataReceivedParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return fmt.Errorf("%s: %w", msg.Method, err)
		}
		record, err := nr.lookup(p.RequestID, msg.Method)
		if err != nil {
			return err
		}
		record.ResourceSize += p.DataLength
		nr.received[p.RequestID] += p.EncodedDataLength
	case methodLoadingFinished:
		var p loadingFinishedParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return fmt.Errorf("%s: %w", msg.Method, err)
		}
		record, err := nr.lookup(p.RequestID, msg.Method)
		if err != nil {
			return err
		}
		record.Finished = true
		record.EndTime = p.Timestamp * 1000
		if p.EncodedDataLength > 0 {
			record.TransferSize = int64(p.EncodedDataLength)
		} else if record.TransferSize == 0 {
			record.TransferSize = nr.received[p.RequestID]
		}
		nr.settle(record)
	case methodLoadingFailed:
		var p loadingFailedParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return fmt.Errorf("%s: %w", msg.Method, err)
		}
		record, err := nr.lookup(p.RequestID, msg.Method)
		if err != nil {
			return err
		}
		record.Finished = true
		record.Failed = true
		record.EndTime = p.Timestamp * 1000
		nr.settle(record)
	case methodResourceChangedPriority:
		var p priorityParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return fmt.Errorf("%s: %w", msg.Method, err)
		}
		record, err := nr.lookup(p.RequestID, msg.Method)
		if err != nil {
			return err
		}
		record.Priority = p.NewPriority
	}
	return nil
}

// Records returns every record seen so far ordered by start time. unfinished requests
// end at the last time they were observed.
func (nr *NetworkRecorder) Records() []*model.NetworkRecord {
	out := make([]*model.NetworkRecord, len(nr.records))
	copy(out, nr.records)
	for _, r := range out {
		if r.EndTime < r.StartTime {
			r.EndTime = max(r.StartTime, r.ResponseReceivedTime)
		}
		if r.ResourceType == "" {
			r.ResourceType = model.ResourceTypeFromMime(r.MimeType)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (nr *NetworkRecorder) lookup(requestID, method string) (*model.NetworkRecord, error) {
	record, ok := nr.active[requestID]
	if !ok {
		return nil, fmt.Errorf("%s for unknown request %q", method, requestID)
	}
	return record, nil
}

func (nr *NetworkRecorder) onRequestWillBeSent(p *requestWillBeSentParams) error {
	if p.RequestID == "" {
		return fmt.Errorf("%s without requestId", methodRequestWillBeSent)
	}

	var source *model.NetworkRecord
	if existing, ok := nr.active[p.RequestID]; ok {
		if p.RedirectResponse == nil {
			return fmt.Errorf("duplicate request %q", p.RequestID)
		}
		// the previous hop keeps its timings under a new id, the request id moves on
		source = existing
		nr.applyResponse(source, p.RedirectResponse, p.Timestamp)
		source.Finished = true
		source.EndTime = p.Timestamp * 1000
		source.TransferSize = max(source.TransferSize, int64(p.RedirectResponse.EncodedDataLength))
		delete(nr.active, p.RequestID)
		source.RequestID = source.RequestID + redirectSuffix
		for nr.active[source.RequestID] != nil {
			source.RequestID += redirectSuffix
		}
		nr.active[source.RequestID] = source
		source.RedirectDestination = p.RequestID
		// the hop before now points at the renamed record
		if prev, ok := nr.active[source.RedirectSource]; ok && source.RedirectSource != "" {
			prev.RedirectDestination = source.RequestID
		}
	}

	url := nr.strings.Intern(p.Request.URL)
	record := &model.NetworkRecord{
		RequestID:    p.RequestID,
		URL:          url,
		Origin:       nr.strings.Intern(model.OriginOf(url)),
		Priority:     p.Request.InitialPriority,
		FrameID:      nr.strings.Intern(p.FrameID),
		DocumentURL:  nr.strings.Intern(p.DocumentURL),
		StartTime:    p.Timestamp * 1000,
		EndTime:      p.Timestamp * 1000,
		ResourceType: resourceTypeOf(p.Type),
		Initiator:    initiatorOf(&p.Initiator),
	}

	if source != nil {
		record.RedirectSource = source.RequestID
		record.Redirects = append(append([]string{}, source.Redirects...), source.RequestID)
		record.Initiator = model.Initiator{Type: model.InitiatorRedirect, RequestID: source.RequestID, URL: source.URL}
		if record.ResourceType == "" {
			record.ResourceType = source.ResourceType
		}
	}

	nr.active[p.RequestID] = record
	nr.records = append(nr.records, record)
	return nil
}

func (nr *NetworkRecorder) applyResponse(record *model.NetworkRecord, resp *cdpResponse, timestamp float64) {
	record.ResponseReceivedTime = timestamp * 1000
	record.StatusCode = resp.Status
	record.MimeType = nr.strings.Intern(resp.MimeType)
	record.Protocol = nr.strings.Intern(resp.Protocol)
	record.ConnectionReused = resp.ConnectionReused
	record.ConnectionID = resp.ConnectionID.String()
	record.FromDiskCache = record.FromDiskCache || resp.FromDiskCache
	if resp.EncodedDataLength > 0 {
		record.TransferSize = int64(resp.EncodedDataLength)
	}
	if record.ResourceType == "" || record.ResourceType == model.ResourceOther {
		if guessed := model.ResourceTypeFromMime(resp.MimeType); guessed != model.ResourceOther {
			record.ResourceType = guessed
		}
	}
	if t := resp.Timing; t != nil {
		record.Timing = &model.ResourceTiming{
			RequestTime:       t.RequestTime * 1000,
			DNSStart:          t.DNSStart,
			DNSEnd:            t.DNSEnd,
			ConnectStart:      t.ConnectStart,
			ConnectEnd:        t.ConnectEnd,
			SSLStart:          t.SSLStart,
			SSLEnd:            t.SSLEnd,
			SendStart:         t.SendStart,
			SendEnd:           t.SendEnd,
			ReceiveHeadersEnd: t.ReceiveHeadersEnd,
		}
	}
}

// settle fills the response time of requests that finished without a response event
func (nr *NetworkRecorder) settle(record *model.NetworkRecord) {
	if record.ResponseReceivedTime == 0 {
		record.ResponseReceivedTime = record.EndTime
	}
	if record.ResourceType == "" {
		record.ResourceType = model.ResourceOther
	}
}

func initiatorOf(in *cdpInitiator) model.Initiator {
	out := model.Initiator{
		Type:      model.InitiatorType(in.Type),
		URL:       in.URL,
		RequestID: in.RequestID,
	}
	if out.Type == "" {
		out.Type = model.InitiatorOther
	}
	for stack := in.Stack; stack != nil; stack = stack.Parent {
		for _, frame := range stack.CallFrames {
			if frame.URL != "" {
				out.StackURLs = append(out.StackURLs, frame.URL)
			}
		}
	}
	if out.URL == "" && len(out.StackURLs) > 0 {
		out.URL = out.StackURLs[0]
	}
	return out
}

func resourceTypeOf(cdpType string) model.ResourceType {
	switch model.ResourceType(cdpType) {
	case model.ResourceDocument, model.ResourceStylesheet, model.ResourceScript,
		model.ResourceImage, model.ResourceFont, model.ResourceMedia,
		model.ResourceXHR, model.ResourceFetch:
		return model.ResourceType(cdpType)
	case "":
		return ""
	}
	return model.ResourceOther
}
