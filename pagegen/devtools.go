package pagegen

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/pb33f/harhar"
	"github.com/pb33f/lantern/motor"
	"github.com/pb33f/lantern/motor/model"
)

// archiveEpoch is the wall clock time of the navigation in the generated archive
var archiveEpoch = time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)

type message struct {
	at  float64
	msg model.ProtocolMessage
}

// devtoolsLog replays the resources as the Network domain would have reported them
func devtoolsLog(page *Page) (*model.DevtoolsLog, error) {
	var out []message
	add := func(at float64, method string, params map[string]any) error {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		out = append(out, message{at: at, msg: model.ProtocolMessage{Method: method, Params: raw}})
		return nil
	}

	for _, r := range page.Resources {
		// a redirect hop is reported by the request that follows it
		if r.RedirectTo != "" {
			continue
		}
		if hop := r.redirect; hop != nil {
			if err := add(hop.Start, "Network.requestWillBeSent", requestParams(page, hop, r.RequestID, nil)); err != nil {
				return nil, err
			}
		}

		var redirect map[string]any
		if r.redirect != nil {
			redirect = responseParams(r.redirect)
		}
		steps := []struct {
			at     float64
			method string
			params map[string]any
		}{
			{r.Start, "Network.requestWillBeSent", requestParams(page, r, r.RequestID, redirect)},
			{r.ResponseStart, "Network.responseReceived", map[string]any{
				"requestId": r.RequestID,
				"timestamp": seconds(r.ResponseStart),
				"type":      string(r.Type),
				"response":  responseParams(r),
			}},
			{r.End, "Network.dataReceived", map[string]any{
				"requestId":         r.RequestID,
				"timestamp":         seconds(r.End),
				"dataLength":        r.Size,
				"encodedDataLength": r.Size,
			}},
			{r.End, "Network.loadingFinished", map[string]any{
				"requestId":         r.RequestID,
				"timestamp":         seconds(r.End),
				"encodedDataLength": r.Size + headerBytes,
			}},
		}
		for _, s := range steps {
			if err := add(s.at, s.method, s.params); err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })
	messages := make([]model.ProtocolMessage, len(out))
	for i := range out {
		messages[i] = out[i].msg
	}
	return model.NewDevtoolsLog(messages, motor.FingerprintMessages(messages)), nil
}

func seconds(ms float64) float64 {
	return ms / 1000
}

func requestParams(page *Page, r *Resource, id string, redirect map[string]any) map[string]any {
	initiator := map[string]any{"type": string(r.Initiator.Type)}
	if r.Initiator.Type == model.InitiatorRedirect {
		initiator["type"] = string(model.InitiatorOther)
	} else if r.Initiator.URL != "" {
		initiator["url"] = r.Initiator.URL
	}
	if len(r.Initiator.StackURLs) > 0 {
		frames := make([]map[string]any, len(r.Initiator.StackURLs))
		for i, u := range r.Initiator.StackURLs {
			frames[i] = map[string]any{"url": u}
		}
		initiator["stack"] = map[string]any{"callFrames": frames}
	}

	params := map[string]any{
		"requestId":   id,
		"documentURL": page.URL,
		"frameId":     page.FrameID,
		"timestamp":   seconds(r.Start),
		"type":        string(r.Type),
		"initiator":   initiator,
		"request": map[string]any{
			"url":             r.URL,
			"method":          http.MethodGet,
			"initialPriority": r.Priority,
		},
	}
	if redirect != nil {
		params["redirectResponse"] = redirect
	}
	return params
}

func responseParams(r *Resource) map[string]any {
	p := r.timing
	return map[string]any{
		"url":               r.URL,
		"status":            r.Status,
		"mimeType":          r.MimeType,
		"protocol":          protocolOf(r),
		"connectionReused":  !r.Fresh,
		"connectionId":      r.Connection,
		"encodedDataLength": headerBytes,
		"timing": map[string]any{
			"requestTime":       seconds(r.Start),
			"dnsStart":          p.dnsStart,
			"dnsEnd":            p.dnsEnd,
			"connectStart":      p.connectStart,
			"connectEnd":        p.connectEnd,
			"sslStart":          p.sslStart,
			"sslEnd":            p.sslEnd,
			"sendStart":         p.sendStart,
			"sendEnd":           p.sendEnd,
			"receiveHeadersEnd": p.receiveHeadersEnd,
		},
	}
}

func protocolOf(r *Resource) string {
	if secure(r.URL) {
		return "h2"
	}
	return "http/1.1"
}

// archive writes the resources as HAR entries, wall clock anchored at archiveEpoch
func archive(page *Page, throughput float64) *model.HAR {
	har := model.NewHAR("pagegen")
	har.Log.Comment = page.URL

	for _, r := range page.Resources {
		p := r.timing
		span := func(from, to float64) float64 {
			if from < 0 || to < 0 {
				return -1
			}
			return to - from
		}
		connect := span(p.connectStart, p.connectEnd)

		offset := time.Duration((r.Start - page.NavigationStart) * float64(time.Millisecond))
		entry := harhar.Entry{
			Start:      archiveEpoch.Add(offset).Format(time.RFC3339Nano),
			Time:       r.End - r.Start,
			ServerIP:   "203.0.113." + strconv.Itoa(r.Connection),
			Connection: strconv.Itoa(r.Connection),
			Request: harhar.Request{
				Method:      http.MethodGet,
				URL:         r.URL,
				HTTPVersion: protocolOf(r),
				Headers:     []harhar.NameValuePair{{Name: "Accept", Value: "*/*"}},
				HeadersSize: headerBytes,
				BodySize:    0,
			},
			Response: harhar.Response{
				StatusCode:  r.Status,
				StatusText:  http.StatusText(r.Status),
				HTTPVersion: protocolOf(r),
				Headers:     []harhar.NameValuePair{{Name: "Content-Type", Value: r.MimeType}},
				Body: harhar.BodyResponseType{
					Size:     int(r.Size),
					MIMEType: r.MimeType,
				},
				HeadersSize: headerBytes,
				BodySize:    int(r.Size),
				RedirectURL: r.RedirectTo,
			},
			Timings: harhar.Timings{
				Blocked: 0,
				DNS:     span(p.dnsStart, p.dnsEnd),
				Connect: connect,
				SSL:     span(p.sslStart, p.sslEnd),
				Send:    p.sendEnd - p.sendStart,
				Wait:    p.receiveHeadersEnd - p.sendEnd,
				Receive: float64(r.Size) / throughput * 1000,
			},
		}
		har.Log.Entries = append(har.Log.Entries, entry)
	}
	return har
}
