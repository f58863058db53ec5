package motor

import (
	"encoding/json"
	"fmt"
	"io"
)

type jsonHelper struct{}

var helper = &jsonHelper{}

// StdlibDecoder wraps encoding/json.Decoder to implement TokenDecoder
// to swap to sonic: create SonicDecoder implementing TokenDecoder, update newTokenDecoder()
type StdlibDecoder struct {
	decoder *json.Decoder
}

func (s *StdlibDecoder) Token() (json.Token, error) {
	return s.decoder.Token()
}

func (s *StdlibDecoder) Decode(v interface{}) error {
	return s.decoder.Decode(v)
}

func (s *StdlibDecoder) More() bool {
	return s.decoder.More()
}

func (s *StdlibDecoder) InputOffset() int64 {
	return s.decoder.InputOffset()
}

func (h *jsonHelper) skipValue(decoder TokenDecoder) error {
	token, err := decoder.Token()
	if err != nil {
		return err
	}

	switch token {
	case json.Delim('{'):
		return h.skipObject(decoder)
	case json.Delim('['):
		return h.skipArray(decoder)
	}

	return nil
}

func (h *jsonHelper) skipObject(decoder TokenDecoder) error {
	for decoder.More() {
		if _, err := decoder.Token(); err != nil {
			return err
		}
		if err := h.skipValue(decoder); err != nil {
			return err
		}
	}
	_, err := decoder.Token()
	return err
}

func (h *jsonHelper) skipArray(decoder TokenDecoder) error {
	for decoder.More() {
		if err := h.skipValue(decoder); err != nil {
			return err
		}
	}
	_, err := decoder.Token()
	return err
}

// expectDelim consumes the next token and fails unless it is the given delimiter
func (h *jsonHelper) expectDelim(decoder TokenDecoder, delim json.Delim) error {
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if token != delim {
		return fmt.Errorf("expected %v at offset %d, got %v", delim, decoder.InputOffset(), token)
	}
	return nil
}

// decodeArray decodes every element of the array the decoder is positioned on.
// the opening bracket must already be consumed.
func decodeArray[T any](decoder TokenDecoder, fn func(index int, item *T) error) error {
	index := 0
	for decoder.More() {
		var item T
		if err := decoder.Decode(&item); err != nil {
			return fmt.Errorf("element %d: %w", index, err)
		}
		if err := fn(index, &item); err != nil {
			return err
		}
		index++
	}
	_, err := decoder.Token()
	return err
}

func newTokenDecoder(r io.Reader) TokenDecoder {
	d := json.NewDecoder(r)
	d.UseNumber()
	return &StdlibDecoder{decoder: d}
}
