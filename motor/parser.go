package motor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/pb33f/lantern/motor/model"
)

const (
	keyTraceEvents = "traceEvents"
	keyLog         = "log"
	keyEntries     = "entries"
)

// ParseTrace decodes a Chrome trace, either the {"traceEvents": [...]} object form or a
// bare event array. events are returned ordered by timestamp.
func ParseTrace(r io.Reader) (*model.Trace, error) {
	decoder := newTokenDecoder(r)

	token, err := decoder.Token()
	if err != nil {
		return nil, parseError("trace", decoder.InputOffset(), emptyAsUnexpected(err))
	}

	var events []model.TraceEvent
	collect := func(_ int, ev *model.TraceEvent) error {
		events = append(events, *ev)
		return nil
	}

	switch token {
	case json.Delim('['):
		if err := decodeArray(decoder, collect); err != nil {
			return nil, parseError("trace", decoder.InputOffset(), err)
		}
	case json.Delim('{'):
		found := false
		for decoder.More() {
			keyToken, err := decoder.Token()
			if err != nil {
				return nil, parseError("trace", decoder.InputOffset(), err)
			}
			key, _ := keyToken.(string)
			if key != keyTraceEvents {
				if err := helper.skipValue(decoder); err != nil {
					return nil, parseError("trace", decoder.InputOffset(), err)
				}
				continue
			}
			if err := helper.expectDelim(decoder, json.Delim('[')); err != nil {
				return nil, parseError("trace", decoder.InputOffset(), err)
			}
			if err := decodeArray(decoder, collect); err != nil {
				return nil, parseError("trace", decoder.InputOffset(), err)
			}
			found = true
		}
		if !found {
			return nil, parseError("trace", decoder.InputOffset(), fmt.Errorf("no %q array", keyTraceEvents))
		}
	default:
		return nil, parseError("trace", decoder.InputOffset(), fmt.Errorf("unexpected token %v", token))
	}

	for i := range events {
		if events[i].Ph == "" {
			return nil, parseError("trace", 0, fmt.Errorf("event %d (%s) has no phase", i, events[i].Name))
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TS < events[j].TS
	})

	return model.NewTrace(events, FingerprintEvents(events)), nil
}

// ParseDevtoolsLog decodes a devtools protocol log: a JSON array of {method, params}.
func ParseDevtoolsLog(r io.Reader) (*model.DevtoolsLog, error) {
	decoder := newTokenDecoder(r)

	if err := helper.expectDelim(decoder, json.Delim('[')); err != nil {
		return nil, parseError("devtools log", decoder.InputOffset(), emptyAsUnexpected(err))
	}

	var messages []model.ProtocolMessage
	err := decodeArray(decoder, func(index int, msg *model.ProtocolMessage) error {
		if msg.Method == "" {
			return fmt.Errorf("message %d has no method", index)
		}
		messages = append(messages, *msg)
		return nil
	})
	if err != nil {
		return nil, parseError("devtools log", decoder.InputOffset(), err)
	}

	return model.NewDevtoolsLog(messages, FingerprintMessages(messages)), nil
}

func emptyAsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
