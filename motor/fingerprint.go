package motor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/pb33f/lantern/motor/model"
)

// Fingerprinter accumulates the minimal relevant fields of an input into an xxhash digest.
// two inputs built independently with the same field values produce the same fingerprint.
type Fingerprinter struct {
	digest *xxhash.Digest
	buf    [8]byte
}

func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{digest: xxhash.New()}
}

// String writes s followed by a separator so adjacent fields cannot run together
func (f *Fingerprinter) String(s string) *Fingerprinter {
	f.digest.WriteString(s)
	f.digest.Write([]byte{0})
	return f
}

func (f *Fingerprinter) Float(v float64) *Fingerprinter {
	binary.LittleEndian.PutUint64(f.buf[:], math.Float64bits(v))
	f.digest.Write(f.buf[:])
	return f
}

func (f *Fingerprinter) Int(v int64) *Fingerprinter {
	binary.LittleEndian.PutUint64(f.buf[:], uint64(v))
	f.digest.Write(f.buf[:])
	return f
}

func (f *Fingerprinter) Bool(v bool) *Fingerprinter {
	if v {
		return f.Int(1)
	}
	return f.Int(0)
}

func (f *Fingerprinter) Bytes(b []byte) *Fingerprinter {
	f.Int(int64(len(b)))
	f.digest.Write(b)
	return f
}

// Sum returns the fingerprint as a fixed width hex string
func (f *Fingerprinter) Sum() string {
	return fmt.Sprintf("%016x", f.digest.Sum64())
}

// FingerprintRecords hashes the fields of each record that influence analysis and graph shape.
func FingerprintRecords(records []*model.NetworkRecord) string {
	f := NewFingerprinter()
	f.Int(int64(len(records)))
	for _, r := range records {
		WriteRecord(f, r)
	}
	return f.Sum()
}

// WriteRecord writes a single record into f.
func WriteRecord(f *Fingerprinter, r *model.NetworkRecord) {
	f.String(r.RequestID).String(r.URL).String(r.Origin).String(r.Protocol).
		String(r.MimeType).String(string(r.ResourceType)).String(r.Priority).
		String(r.FrameID).String(r.DocumentURL).Int(int64(r.StatusCode)).
		Float(r.StartTime).Float(r.EndTime).Float(r.ResponseReceivedTime).
		Int(r.TransferSize).Int(r.ResourceSize).
		String(r.ConnectionID).Bool(r.ConnectionReused).
		Bool(r.FromDiskCache).Bool(r.FromMemoryCache).Bool(r.Failed).Bool(r.Finished).
		String(string(r.Initiator.Type)).String(r.Initiator.URL).String(r.Initiator.RequestID).
		String(r.RedirectSource).String(r.RedirectDestination)

	f.Int(int64(len(r.Initiator.StackURLs)))
	for _, u := range r.Initiator.StackURLs {
		f.String(u)
	}
	f.Int(int64(len(r.Redirects)))
	for _, id := range r.Redirects {
		f.String(id)
	}

	if t := r.Timing; t != nil {
		f.Bool(true).Float(t.RequestTime).Float(t.DNSStart).Float(t.DNSEnd).
			Float(t.ConnectStart).Float(t.ConnectEnd).Float(t.SSLStart).Float(t.SSLEnd).
			Float(t.SendStart).Float(t.SendEnd).Float(t.ReceiveHeadersEnd)
	} else {
		f.Bool(false)
	}
}

// FingerprintEvents hashes trace events including the args the processors read.
func FingerprintEvents(events []model.TraceEvent) string {
	f := NewFingerprinter()
	f.Int(int64(len(events)))
	for i := range events {
		e := &events[i]
		f.String(e.Name).String(e.Cat).String(e.Ph).Float(e.TS).Float(e.Dur).
			Int(int64(e.PID)).Int(int64(e.TID)).String(e.Args.Frame).String(e.Args.Name)
		if d := e.Args.Data; d != nil {
			f.Bool(true).String(d.URL).String(d.RequestID).String(d.TimerID.String()).
				Int(int64(d.ReadyState)).String(d.StyleSheetURL).String(d.Page).String(d.Frame)
			f.Int(int64(len(d.StackTrace)))
			for _, cf := range d.StackTrace {
				f.String(cf.URL)
			}
			f.Int(int64(len(d.Frames)))
			for _, fr := range d.Frames {
				f.String(fr.Frame).String(fr.URL).String(fr.Parent).Int(int64(fr.ProcessID))
			}
		} else {
			f.Bool(false)
		}
	}
	return f.Sum()
}

// FingerprintMessages hashes protocol messages by method and raw params.
func FingerprintMessages(messages []model.ProtocolMessage) string {
	f := NewFingerprinter()
	f.Int(int64(len(messages)))
	for _, m := range messages {
		f.String(m.Method).Bytes(m.Params)
	}
	return f.Sum()
}
