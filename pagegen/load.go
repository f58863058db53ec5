package pagegen

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"

	"github.com/pb33f/lantern/motor"
	"github.com/pb33f/lantern/motor/model"
)

const (
	navigationStart = 250_000.0 // ms on the trace clock
	pid             = 4321
	mainTID         = 1
	frameID         = "F0"
	dnsTime         = 8.0
	sendTime        = 0.5
	headerBytes     = 320
	taskGap         = 1.0 // idle ms between main-thread tasks
	dispatchDelay   = 0.3 // ms from a response ending to the task that handles it
	redirectSuffix  = ":redirect"
)

type timer struct {
	id json.Number
	at float64
}

// phases of one request relative to its start, -1 when absent
type phases struct {
	dnsStart, dnsEnd         float64
	connectStart, connectEnd float64
	sslStart, sslEnd         float64
	sendStart, sendEnd       float64
	receiveHeadersEnd        float64
}

// loadGenerator lays out one page load: requests on the network, tasks on the main thread
type loadGenerator struct {
	opts    GenerateOptions
	dict    *Dictionary
	rng     *rand.Rand
	origins []string

	page      *Page
	nextID    int
	conns     map[string]int
	nextConn  int
	events    []model.TraceEvent
	mainFree  float64
	nextTimer int
}

func newLoadGenerator(opts GenerateOptions, dict *Dictionary, rng *rand.Rand) *loadGenerator {
	lg := &loadGenerator{
		opts:  opts,
		dict:  dict,
		rng:   rng,
		conns: make(map[string]int),
	}
	lg.origins = append(lg.origins, "https://www."+dict.RandomWord(rng)+".test")
	for i := 1; i < opts.Origins; i++ {
		lg.origins = append(lg.origins, fmt.Sprintf("https://cdn%d.%s.test", i, dict.RandomWord(rng)))
	}
	return lg
}

// originRTT grows with the origin index: third parties sit further away
func (lg *loadGenerator) originRTT(origin string) float64 {
	for i, o := range lg.origins {
		if o == origin {
			return lg.opts.RTT + float64(i)*15
		}
	}
	return lg.opts.RTT
}

func (lg *loadGenerator) between(lo, hi float64) float64 {
	return lo + lg.rng.Float64()*(hi-lo)
}

func (lg *loadGenerator) size(lo, hi int64) int64 {
	return lo + lg.rng.Int63n(hi-lo+1)
}

// fetch places a request for url starting at start
func (lg *loadGenerator) fetch(url string, rt model.ResourceType, start float64, size int64) *Resource {
	lg.nextID++
	origin := model.OriginOf(url)
	rtt := lg.originRTT(origin)

	r := &Resource{
		RequestID: fmt.Sprintf("%d.%d", pid, lg.nextID),
		URL:       url,
		Type:      rt,
		Priority:  priorityOf(rt),
		MimeType:  mimeOf(rt),
		Status:    200,
		Start:     start,
		Size:      size,
	}

	p := phases{dnsStart: -1, dnsEnd: -1, connectStart: -1, connectEnd: -1, sslStart: -1, sslEnd: -1}
	conn, reused := lg.conns[origin]
	cursor := 0.0
	if !reused {
		lg.nextConn++
		conn = lg.nextConn
		lg.conns[origin] = conn
		r.Fresh = true

		p.dnsStart, p.dnsEnd = 0, dnsTime
		p.connectStart = dnsTime
		cursor = dnsTime + rtt
		if secure(url) {
			p.sslStart = cursor
			cursor += rtt
			p.sslEnd = cursor
		}
		p.connectEnd = cursor
	}
	r.Connection = conn
	p.sendStart = cursor
	p.sendEnd = cursor + sendTime
	p.receiveHeadersEnd = p.sendEnd + rtt + lg.opts.ServerResponse*lg.between(0.8, 1.2)
	r.timing = p

	r.ResponseStart = start + p.receiveHeadersEnd
	r.End = r.ResponseStart + float64(size)/lg.opts.Throughput*1000
	lg.page.Resources = append(lg.page.Resources, r)
	return r
}

func secure(url string) bool {
	return len(url) > 8 && url[:8] == "https://"
}

func priorityOf(rt model.ResourceType) string {
	switch rt {
	case model.ResourceDocument, model.ResourceStylesheet:
		return "VeryHigh"
	case model.ResourceScript, model.ResourceFont, model.ResourceFetch:
		return "High"
	}
	return "Low"
}

func mimeOf(rt model.ResourceType) string {
	switch rt {
	case model.ResourceDocument:
		return "text/html"
	case model.ResourceStylesheet:
		return "text/css"
	case model.ResourceScript:
		return "application/javascript"
	case model.ResourceImage:
		return "image/png"
	case model.ResourceFont:
		return "font/woff2"
	case model.ResourceFetch:
		return "application/json"
	}
	return "application/octet-stream"
}

func extensionOf(rt model.ResourceType) string {
	switch rt {
	case model.ResourceStylesheet:
		return ".css"
	case model.ResourceScript:
		return ".js"
	case model.ResourceImage:
		return ".png"
	case model.ResourceFont:
		return ".woff2"
	}
	return ""
}

func (lg *loadGenerator) resourceURL(origin string, rt model.ResourceType) string {
	return origin + lg.dict.Path(lg.rng.Intn(2)+1, lg.rng) + extensionOf(rt)
}

// subresource types: the first two are always a stylesheet and a script
func (lg *loadGenerator) pickTypes() []model.ResourceType {
	weighted := []model.ResourceType{
		model.ResourceStylesheet, model.ResourceStylesheet,
		model.ResourceScript, model.ResourceScript, model.ResourceScript,
		model.ResourceImage, model.ResourceImage, model.ResourceImage, model.ResourceImage,
		model.ResourceFont,
		model.ResourceFetch,
	}
	types := make([]model.ResourceType, lg.opts.Resources)
	for i := range types {
		switch i {
		case 0:
			types[i] = model.ResourceStylesheet
		case 1:
			types[i] = model.ResourceScript
		default:
			types[i] = weighted[lg.rng.Intn(len(weighted))]
		}
	}
	return types
}

// task runs a main-thread task no earlier than at, after whatever runs already
func (lg *loadGenerator) task(at, dur float64, children ...model.TraceEvent) (float64, float64) {
	start := at
	if lg.mainFree > 0 {
		start = max(at, lg.mainFree+taskGap)
	}
	end := start + dur
	lg.mainFree = end

	lg.events = append(lg.events, model.TraceEvent{
		Name: "RunTask", Cat: "disabled-by-default-devtools.timeline", Ph: "X",
		TS: start * 1000, Dur: dur * 1000, PID: pid, TID: mainTID,
	})
	// children are laid out back to back inside the task
	step := dur / float64(len(children)+1)
	for i, c := range children {
		c.TS = (start + step*float64(i+1)) * 1000
		if c.Dur == 0 && c.Ph == "X" {
			c.Dur = step * 500
		}
		c.PID, c.TID = pid, mainTID
		lg.events = append(lg.events, c)
	}
	return start, end
}

func (lg *loadGenerator) taskDuration(lo float64) float64 {
	return lg.between(lo, max(lo, lg.opts.MaxTaskDuration))
}

func child(name string, data *model.EventData) model.TraceEvent {
	return model.TraceEvent{Name: name, Cat: "devtools.timeline", Ph: "X", Args: model.EventArgs{Data: data}}
}

func instant(name string) model.TraceEvent {
	return model.TraceEvent{Name: name, Cat: "devtools.timeline", Ph: "I"}
}

func (lg *loadGenerator) marker(name string, at float64) {
	lg.events = append(lg.events, model.TraceEvent{
		Name: name, Cat: "blink.user_timing,rail", Ph: "R",
		TS: at * 1000, PID: pid, TID: mainTID,
		Args: model.EventArgs{Frame: frameID},
	})
}

func (lg *loadGenerator) timerID() json.Number {
	lg.nextTimer++
	return json.Number(strconv.Itoa(lg.nextTimer))
}

func (lg *loadGenerator) generate() *Page {
	page := &Page{FrameID: frameID, NavigationStart: navigationStart}
	lg.page = page
	origin := lg.origins[0]
	page.URL = origin + "/"

	lg.events = append(lg.events,
		model.TraceEvent{
			Name: model.EventThreadName, Cat: "__metadata", Ph: "M", PID: pid, TID: mainTID,
			Args: model.EventArgs{Name: "CrRendererMain"},
		},
		model.TraceEvent{
			Name: model.EventTracingStartedInPage, Cat: "disabled-by-default-devtools.timeline", Ph: "I",
			TS: (navigationStart - 5) * 1000, PID: pid, TID: mainTID,
			Args: model.EventArgs{Data: &model.EventData{Page: frameID}},
		},
	)
	lg.marker(model.EventNavigationStart, navigationStart)

	// navigation, optionally through a plain http hop
	start := navigationStart + 1
	var hop *Resource
	if lg.opts.Redirect {
		hop = lg.fetch("http"+page.URL[len("https"):], model.ResourceDocument, start, 0)
		hop.Status, hop.RedirectTo, hop.MimeType = 301, page.URL, ""
		start = hop.End
	}
	doc := lg.fetch(page.URL, model.ResourceDocument, start, lg.size(12_000, 60_000))
	doc.Initiator = model.Initiator{Type: model.InitiatorOther}
	if hop != nil {
		// the protocol keeps one request id across the chain, the hop before is renamed
		hop.Initiator = doc.Initiator
		doc.RequestID, hop.RequestID = hop.RequestID, hop.RequestID+redirectSuffix
		doc.redirect = hop
		doc.Initiator = model.Initiator{Type: model.InitiatorRedirect, RequestID: hop.RequestID, URL: hop.URL}
	}

	// the parser requests every subresource while it walks the document
	types := lg.pickTypes()
	var parserTypes []model.ResourceType
	for _, rt := range types {
		if rt != model.ResourceFont && rt != model.ResourceFetch {
			parserTypes = append(parserTypes, rt)
		}
	}
	parseDur := lg.between(20, 60)
	parseStart := doc.End + dispatchDelay
	sends := make([]model.TraceEvent, 0, len(parserTypes)+1)
	sends = append(sends, child("ParseHTML", &model.EventData{URL: doc.URL}))

	var sheets, scripts, later []*Resource
	for i, rt := range parserTypes {
		resOrigin := origin
		if rt != model.ResourceStylesheet && len(lg.origins) > 1 && lg.rng.Intn(2) == 0 {
			resOrigin = lg.origins[1+lg.rng.Intn(len(lg.origins)-1)]
		}
		at := parseStart + parseDur*float64(i+1)/float64(len(parserTypes)+2)
		r := lg.fetch(lg.resourceURL(resOrigin, rt), rt, at, lg.resourceSize(rt))
		r.Initiator = model.Initiator{Type: model.InitiatorParser, URL: doc.URL}
		sends = append(sends, instantWith("ResourceSendRequest", &model.EventData{RequestID: r.RequestID, URL: r.URL}))
		switch rt {
		case model.ResourceStylesheet:
			sheets = append(sheets, r)
		case model.ResourceScript:
			scripts = append(scripts, r)
		}
	}
	lg.task(parseStart, parseDur, sends...)

	// fonts hang off the first stylesheet, fetches off the scripts
	var fonts, fetches int
	for _, rt := range types {
		switch rt {
		case model.ResourceFont:
			fonts++
		case model.ResourceFetch:
			fetches++
		}
	}

	sort.SliceStable(sheets, func(i, j int) bool { return sheets[i].End < sheets[j].End })
	for i, s := range sheets {
		lg.task(s.End+dispatchDelay, lg.between(10, 30), child("ParseAuthorStyleSheet", &model.EventData{StyleSheetURL: s.URL}))
		if i == 0 {
			for f := 0; f < fonts; f++ {
				font := lg.fetch(lg.resourceURL(origin, model.ResourceFont), model.ResourceFont, s.End+1+float64(f), lg.resourceSize(model.ResourceFont))
				font.Initiator = model.Initiator{Type: model.InitiatorParser, URL: s.URL}
				later = append(later, font)
			}
		}
	}

	// first paint once the render-blocking work is done
	_, paintEnd := lg.task(lg.mainFree, lg.between(12, 30), child(model.EventLayout, nil))
	lg.marker(model.EventFirstPaint, paintEnd+0.5)
	lg.marker(model.EventFirstContentfulPaint, paintEnd+0.5)

	sort.SliceStable(scripts, func(i, j int) bool { return scripts[i].End < scripts[j].End })
	var timers []timer
	for i, s := range scripts {
		dur := lg.taskDuration(30)
		begin := max(s.End+dispatchDelay, lg.mainFree+taskGap)
		children := []model.TraceEvent{
			child("EvaluateScript", &model.EventData{URL: s.URL, StackTrace: []model.CallFrame{{URL: s.URL}}}),
		}
		for k := i; k < fetches; k += len(scripts) {
			url := lg.resourceURL(origin, model.ResourceFetch) + "?q=" + lg.dict.RandomWord(lg.rng)
			fetch := lg.fetch(url, model.ResourceFetch, begin+dur/2+float64(k)*0.1, lg.resourceSize(model.ResourceFetch))
			fetch.Initiator = model.Initiator{Type: model.InitiatorScript, URL: s.URL, StackURLs: []string{s.URL}}
			children = append(children, instantWith("ResourceSendRequest", &model.EventData{RequestID: fetch.RequestID, URL: fetch.URL}))
			later = append(later, fetch)
		}
		installed := -1
		if lg.rng.Intn(3) == 0 {
			installed = len(timers)
			timers = append(timers, timer{id: lg.timerID()})
			children = append(children, instantWith("TimerInstall", &model.EventData{TimerID: timers[installed].id}))
		}
		_, end := lg.task(begin, dur, children...)
		if installed >= 0 {
			timers[installed].at = end + lg.between(50, 250)
		}
	}
	lg.marker(model.EventDOMContentLoaded, lg.mainFree+1)

	// meaningful content lands with a layout after the scripts
	_, fmpEnd := lg.task(lg.mainFree+lg.between(5, 20), lg.taskDuration(20), child(model.EventLayout, nil))
	lg.marker(model.EventFirstMeaningfulPaint, fmpEnd+0.5)

	// responses to fetches and fired timers wake the main thread again
	sort.SliceStable(later, func(i, j int) bool { return later[i].End < later[j].End })
	for _, r := range later {
		if r.Type == model.ResourceFetch {
			lg.task(r.End+dispatchDelay, lg.between(10, 40), child("XHRLoad", &model.EventData{URL: r.URL}))
		}
	}
	for _, t := range timers {
		lg.task(t.at, lg.taskDuration(10), instantWith("TimerFire", &model.EventData{TimerID: t.id}))
	}

	loaded := lg.mainFree
	for _, r := range page.Resources {
		loaded = max(loaded, r.End)
	}
	lg.marker(model.EventLoad, loaded+1)

	// the trace keeps recording while the page sits idle
	tail := instant("TracingEnd")
	tail.TS, tail.PID, tail.TID = (loaded+1+lg.opts.QuietTail)*1000, pid, mainTID+1
	lg.events = append(lg.events, tail)

	sort.SliceStable(page.Resources, func(i, j int) bool { return page.Resources[i].Start < page.Resources[j].Start })
	sort.SliceStable(lg.events, func(i, j int) bool { return lg.events[i].TS < lg.events[j].TS })
	page.Trace = model.NewTrace(lg.events, motor.FingerprintEvents(lg.events))
	return page
}

func instantWith(name string, data *model.EventData) model.TraceEvent {
	e := instant(name)
	e.Args.Data = data
	return e
}

func (lg *loadGenerator) resourceSize(rt model.ResourceType) int64 {
	switch rt {
	case model.ResourceStylesheet:
		return lg.size(4_000, 40_000)
	case model.ResourceScript:
		return lg.size(20_000, 200_000)
	case model.ResourceImage:
		return lg.size(8_000, 300_000)
	case model.ResourceFont:
		return lg.size(15_000, 60_000)
	case model.ResourceFetch:
		return lg.size(500, 10_000)
	}
	return lg.size(1_000, 20_000)
}
