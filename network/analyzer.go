// Package network derives round trip time, per-origin latency and throughput estimates from
// a page load's network records.
package network

import (
	"errors"
	"math"
	"sort"

	"github.com/pb33f/lantern/motor"
	"github.com/pb33f/lantern/motor/model"
)

// ErrNoRecords is returned when there is nothing to analyze.
var ErrNoRecords = errors.New("no network records to analyze")

const (
	// initialCongestionWindow is the data a fresh TCP connection can send in its first round trip
	initialCongestionWindow = 14 * 1024
	maxSlowStartRoundTrips  = 5
	minCoarseRTT            = 3.0

	serverShareDocument = 0.9
	serverShareDefault  = 0.4
)

// Options tunes the analyzer. zero values are replaced by DefaultOptions' values.
type Options struct {
	DefaultRTT                float64 `mapstructure:"default_rtt" json:"defaultRtt"`
	DefaultThroughput         float64 `mapstructure:"default_throughput" json:"defaultThroughput"`
	MinTransferDuration       float64 `mapstructure:"min_transfer_duration" json:"minTransferDuration"`
	ThroughputOutlierMultiple float64 `mapstructure:"throughput_outlier_multiple" json:"throughputOutlierMultiple"`
	CoarseEstimateMultiplier  float64 `mapstructure:"coarse_estimate_multiplier" json:"coarseEstimateMultiplier"`
	ForceCoarseEstimates      bool    `mapstructure:"force_coarse_estimates" json:"forceCoarseEstimates"`
}

func DefaultOptions() Options {
	return Options{
		DefaultRTT:                150,
		DefaultThroughput:         200 * 1024,
		MinTransferDuration:       20,
		ThroughputOutlierMultiple: 5,
		CoarseEstimateMultiplier:  0.3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultRTT <= 0 {
		o.DefaultRTT = d.DefaultRTT
	}
	if o.DefaultThroughput <= 0 {
		o.DefaultThroughput = d.DefaultThroughput
	}
	if o.MinTransferDuration <= 0 {
		o.MinTransferDuration = d.MinTransferDuration
	}
	if o.ThroughputOutlierMultiple <= 0 {
		o.ThroughputOutlierMultiple = d.ThroughputOutlierMultiple
	}
	if o.CoarseEstimateMultiplier <= 0 {
		o.CoarseEstimateMultiplier = d.CoarseEstimateMultiplier
	}
	return o
}

// Analysis is the network environment observed during a load. immutable once returned.
type Analysis struct {
	RTT                        float64            `json:"rtt"`
	Throughput                 float64            `json:"throughput"`
	AdditionalRTTByOrigin      map[string]float64 `json:"additionalRttByOrigin"`
	ServerResponseTimeByOrigin map[string]float64 `json:"serverResponseTimeByOrigin"`
}

// OriginLatency returns the fixed delay before the first byte from origin arrives. round trip
// and server response scale together by rttMultiplier, so a slower profile never reorders
// origins.
func (a *Analysis) OriginLatency(origin string, rttMultiplier float64) float64 {
	return (a.RTT + a.AdditionalRTTByOrigin[origin] + a.ServerResponseTimeByOrigin[origin]) * rttMultiplier
}

// Fingerprint identifies the analysis for cache keys.
func (a *Analysis) Fingerprint() string {
	f := motor.NewFingerprinter().Float(a.RTT).Float(a.Throughput)
	writeMap(f, a.AdditionalRTTByOrigin)
	writeMap(f, a.ServerResponseTimeByOrigin)
	return f.Sum()
}

func writeMap(f *motor.Fingerprinter, m map[string]float64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	f.Int(int64(len(keys)))
	for _, k := range keys {
		f.String(k).Float(m[k])
	}
}

// Analyze estimates the network environment from records.
func Analyze(records []*model.NetworkRecord, opts Options) (*Analysis, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	opts = opts.withDefaults()

	rttByOrigin := EstimateRTTByOrigin(records, opts)

	rtt := math.Inf(1)
	for _, s := range rttByOrigin {
		rtt = min(rtt, s.Min)
	}
	if math.IsInf(rtt, 1) {
		rtt = opts.DefaultRTT
	}

	additional := make(map[string]float64)
	originRTT := make(map[string]float64)
	for _, origin := range origins(records) {
		if s, ok := rttByOrigin[origin]; ok {
			additional[origin] = max(s.Min-rtt, 0)
		} else {
			additional[origin] = 0
		}
		originRTT[origin] = rtt + additional[origin]
	}

	serverResponse := make(map[string]float64)
	for origin, s := range EstimateServerResponseTimeByOrigin(records, originRTT) {
		serverResponse[origin] = max(s.Median, 0)
	}

	return &Analysis{
		RTT:                        rtt,
		Throughput:                 EstimateThroughput(records, opts),
		AdditionalRTTByOrigin:      additional,
		ServerResponseTimeByOrigin: serverResponse,
	}, nil
}

// EstimateRTTByOrigin summarizes round trip estimates per origin. handshake timings of fresh
// connections are used when present; other origins fall back to coarse estimates scaled
// down by CoarseEstimateMultiplier.
func EstimateRTTByOrigin(records []*model.NetworkRecord, opts Options) map[string]Summary {
	opts = opts.withDefaults()

	precise := make(map[string][]float64)
	coarse := make(map[string][]float64)

	for _, r := range records {
		if !analyzable(r) {
			continue
		}
		if !opts.ForceCoarseEstimates {
			precise[r.Origin] = append(precise[r.Origin], handshakeRTTs(r)...)
		}
		for _, v := range coarseRTTs(r) {
			coarse[r.Origin] = append(coarse[r.Origin], v*opts.CoarseEstimateMultiplier)
		}
	}

	out := make(map[string]Summary)
	for origin, values := range precise {
		if len(values) > 0 {
			out[origin] = Summarize(values)
		}
	}
	for origin, values := range coarse {
		if _, ok := out[origin]; ok || len(values) == 0 {
			continue
		}
		out[origin] = Summarize(values)
	}
	return out
}

// handshakeRTTs reads round trips straight off the connect phase of a fresh connection
func handshakeRTTs(r *model.NetworkRecord) []float64 {
	t := r.Timing
	if t == nil || r.ConnectionReused || t.ConnectStart < 0 || t.ConnectEnd <= t.ConnectStart {
		return nil
	}
	if r.IsSecure() && t.SSLStart > t.ConnectStart && t.ConnectEnd > t.SSLStart {
		return []float64{t.SSLStart - t.ConnectStart, t.ConnectEnd - t.SSLStart}
	}
	return []float64{t.ConnectEnd - t.ConnectStart}
}

func coarseRTTs(r *model.NetworkRecord) []float64 {
	var out []float64
	if v, ok := rttFromSendStart(r); ok {
		out = append(out, v)
	}
	if v, ok := rttFromHeadersEnd(r); ok {
		out = append(out, v)
	}
	if v, ok := rttFromSlowStart(r); ok {
		out = append(out, v)
	}
	return out
}

// everything before sendStart on a fresh connection is dns + tcp (+ tls)
func rttFromSendStart(r *model.NetworkRecord) (float64, bool) {
	t := r.Timing
	if t == nil || r.ConnectionReused || t.SendStart <= 0 {
		return 0, false
	}
	roundTrips := 2.0
	if r.IsSecure() {
		roundTrips++
	}
	return t.SendStart / roundTrips, true
}

// time to first byte minus the share the server probably spent generating the response
func rttFromHeadersEnd(r *model.NetworkRecord) (float64, bool) {
	t := r.Timing
	if t == nil || t.ReceiveHeadersEnd <= 0 {
		return 0, false
	}

	share := serverShareDefault
	switch r.ResourceType {
	case model.ResourceDocument, model.ResourceXHR, model.ResourceFetch:
		share = serverShareDocument
	}

	roundTrips := 1.0
	if !r.ConnectionReused {
		roundTrips++
		if r.IsSecure() {
			roundTrips++
		}
		if t.DNSStart >= 0 && t.DNSEnd > t.DNSStart {
			roundTrips++
		}
	}

	server := t.ReceiveHeadersEnd * share
	return max((t.ReceiveHeadersEnd-server)/roundTrips, minCoarseRTT), true
}

// a download larger than the initial window needs log2(size/window) extra round trips
func rttFromSlowStart(r *model.NetworkRecord) (float64, bool) {
	if r.TransferSize <= initialCongestionWindow || r.ResponseReceivedTime <= 0 {
		return 0, false
	}
	download := r.EndTime - r.ResponseReceivedTime
	if download <= 0 {
		return 0, false
	}
	roundTrips := math.Log2(float64(r.TransferSize) / initialCongestionWindow)
	if roundTrips > maxSlowStartRoundTrips || roundTrips <= 0 {
		return 0, false
	}
	return download / roundTrips, true
}

// EstimateServerResponseTimeByOrigin summarizes time to first byte minus the origin's round
// trip. samples keep their sign, so a noisy negative sample still pulls the median down;
// callers floor the summary they use. originRTT holds the full round trip per origin.
func EstimateServerResponseTimeByOrigin(records []*model.NetworkRecord, originRTT map[string]float64) map[string]Summary {
	values := make(map[string][]float64)
	for _, r := range records {
		if !analyzable(r) {
			continue
		}

		var ttfb float64
		if t := r.Timing; t != nil && t.ReceiveHeadersEnd >= 0 && t.SendEnd >= 0 {
			ttfb = t.ReceiveHeadersEnd - t.SendEnd
		} else if r.ResponseReceivedTime > r.StartTime {
			ttfb = r.ResponseReceivedTime - r.StartTime
		} else {
			continue
		}

		values[r.Origin] = append(values[r.Origin], ttfb-originRTT[r.Origin])
	}

	out := make(map[string]Summary, len(values))
	for origin, v := range values {
		out[origin] = Summarize(v)
	}
	return out
}

// EstimateThroughput returns the best sustained bytes/s of any single transfer long enough
// to be meaningful, ignoring values more than ThroughputOutlierMultiple times the median.
func EstimateThroughput(records []*model.NetworkRecord, opts Options) float64 {
	opts = opts.withDefaults()

	var rates []float64
	for _, r := range records {
		if !analyzable(r) || !r.Finished || r.Failed || r.TransferSize <= 0 {
			continue
		}
		d := r.TransferDuration()
		if d < opts.MinTransferDuration {
			continue
		}
		rates = append(rates, float64(r.TransferSize)/(d/1000))
	}
	if len(rates) == 0 {
		return opts.DefaultThroughput
	}

	sort.Float64s(rates)
	limit := median(rates) * opts.ThroughputOutlierMultiple
	best := 0.0
	for _, v := range rates {
		if v <= limit {
			best = max(best, v)
		}
	}
	return best
}

// analyzable skips requests that never reached the network
func analyzable(r *model.NetworkRecord) bool {
	return r.Origin != "" && !r.IsNonNetwork() && !r.FromCache()
}

// origins lists every origin seen in records, sorted
func origins(records []*model.NetworkRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		if r.Origin != "" && !r.IsNonNetwork() {
			seen[r.Origin] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}
