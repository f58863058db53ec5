package motor

import "encoding/json"

// TokenDecoder provides JSON decoding abstraction so the stdlib decoder can be swapped
// for a faster implementation without touching the ingestion code.
type TokenDecoder interface {
	// Token returns the next JSON token in the input stream
	Token() (json.Token, error)

	// Decode decodes the next JSON value into v
	Decode(v interface{}) error

	// More reports whether there is another element in the current array or object
	More() bool

	// InputOffset returns the input stream byte offset of the current decoder position
	InputOffset() int64
}

// Interner de-duplicates strings that repeat across many records (urls, origins, mime types)
type Interner interface {
	Intern(s string) string
}
