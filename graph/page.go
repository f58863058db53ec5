package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pb33f/lantern/motor/model"
	"github.com/pb33f/lantern/tracing"
)

// BuildOptions tunes page graph construction.
type BuildOptions struct {
	// MinCPUTaskDuration drops main-thread busy intervals shorter than this many ms
	MinCPUTaskDuration float64 `mapstructure:"min_cpu_task_duration" json:"minCpuTaskDuration"`
	// IgnoredMimePrefixes excludes records whose mime type starts with any of these
	IgnoredMimePrefixes []string `mapstructure:"ignored_mime_prefixes" json:"ignoredMimePrefixes"`
}

func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		MinCPUTaskDuration:  10,
		IgnoredMimePrefixes: []string{"video/"},
	}
}

// pageBuilder carries the lookups used while wiring edges
type pageBuilder struct {
	b        *Builder
	root     *NetworkNode
	network  []*NetworkNode
	cpu      []*CPUNode
	position map[NodeID]int
	byURL    map[string][]*NetworkNode
	byID     map[string]*NetworkNode
	frameID  string
}

// BuildPageGraph builds the dependency graph of a page load from its main-thread events and
// network records. the earliest record is the root.
func BuildPageGraph(tab *model.TraceOfTab, records []*model.NetworkRecord, opts BuildOptions) (*Graph, error) {
	if opts.MinCPUTaskDuration <= 0 {
		opts.MinCPUTaskDuration = DefaultBuildOptions().MinCPUTaskDuration
	}

	pb := &pageBuilder{
		b:        NewBuilder(),
		position: make(map[NodeID]int),
		byURL:    make(map[string][]*NetworkNode),
		byID:     make(map[string]*NetworkNode),
	}
	if tab != nil {
		pb.frameID = tab.FrameID
	}

	for _, r := range records {
		if ignored(r, opts.IgnoredMimePrefixes) {
			continue
		}
		n := NewNetworkNode(r)
		if _, dup := pb.byID[r.RequestID]; dup {
			return nil, &IntegrityError{Reason: "duplicate request id", Nodes: []NodeID{n.ID()}}
		}
		pb.network = append(pb.network, n)
		pb.byID[r.RequestID] = n
		pb.byURL[r.URL] = append(pb.byURL[r.URL], n)
	}
	if len(pb.network) == 0 {
		return nil, &IntegrityError{Reason: "no network records to build a graph from"}
	}
	sort.SliceStable(pb.network, func(i, j int) bool {
		return pb.network[i].StartTime() < pb.network[j].StartTime()
	})
	pb.root = pb.network[0]

	if tab != nil {
		pb.cpu = cpuNodes(tab.MainThreadEvents, pb.root.StartTime(), opts.MinCPUTaskDuration)
	}

	// insertion order decides start time ties: root, then cpu, then requests
	nodes := []Node{pb.root}
	for _, n := range pb.cpu {
		nodes = append(nodes, n)
	}
	for _, n := range pb.network[1:] {
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		if err := pb.b.AddNode(n); err != nil {
			return nil, err
		}
	}
	sorted := append([]Node(nil), nodes[1:]...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime() < sorted[j].StartTime()
	})
	pb.position[pb.root.ID()] = 0
	for i, n := range sorted {
		pb.position[n.ID()] = i + 1
	}

	for _, n := range pb.network[1:] {
		if err := pb.linkNetwork(n); err != nil {
			return nil, err
		}
	}
	for _, n := range pb.cpu {
		if err := pb.linkCPU(n); err != nil {
			return nil, err
		}
	}

	return pb.b.Build(pb.root.ID())
}

func ignored(r *model.NetworkRecord, prefixes []string) bool {
	mime := strings.ToLower(r.MimeType)
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}

// cpuNodes merges touching or overlapping top-level tasks into busy intervals and keeps
// those at least minDuration long
func cpuNodes(mainThread []model.TraceEvent, notBefore, minDuration float64) []*CPUNode {
	var out []*CPUNode
	var run []*tracing.Task
	runEnd := 0.0

	flush := func() {
		if len(run) == 0 {
			return
		}
		if runEnd-run[0].Start >= minDuration {
			out = append(out, NewCPUNode(NodeID(fmt.Sprintf("cpu:%d", len(out))), run))
		}
		run = nil
	}

	for _, t := range tracing.TopLevelTasks(mainThread) {
		if t.Start < notBefore {
			continue
		}
		if len(run) > 0 && t.Start > runEnd {
			flush()
		}
		if len(run) == 0 {
			runEnd = t.End
		}
		run = append(run, t)
		runEnd = max(runEnd, t.End)
	}
	flush()
	return out
}

// precedes keeps every edge pointing forward in observed order, so no cycle can form
func (pb *pageBuilder) precedes(a, b Node) bool {
	return pb.position[a.ID()] < pb.position[b.ID()]
}

func (pb *pageBuilder) linkNetwork(n *NetworkNode) error {
	r := n.Record

	// a redirect only depends on the hop before it
	if src, ok := pb.byID[r.RedirectSource]; ok && r.RedirectSource != "" && pb.precedes(src, n) {
		return pb.b.AddEdge(src.ID(), n.ID())
	}

	linked := false
	if r.Initiator.Type != model.InitiatorRedirect {
		if parent := pb.initiatorNode(n); parent != nil {
			if err := pb.b.AddEdge(parent.ID(), n.ID()); err != nil {
				return err
			}
			linked = true
		}
	}

	if cpu := pb.senderOf(n); cpu != nil {
		if err := pb.b.AddEdge(cpu.ID(), n.ID()); err != nil {
			return err
		}
		linked = true
	}
	if linked {
		return nil
	}

	// no evidence: whatever the main thread was doing when the request started, else the root
	if cpu := pb.activeCPU(n.StartTime()); cpu != nil && pb.precedes(cpu, n) {
		return pb.b.AddEdge(cpu.ID(), n.ID())
	}
	return pb.b.AddEdge(pb.root.ID(), n.ID())
}

// initiatorNode resolves the request that caused n: an explicit request id first, then the
// initiator url, then the scripts on the initiating stack
func (pb *pageBuilder) initiatorNode(n *NetworkNode) *NetworkNode {
	in := n.Record.Initiator
	if parent, ok := pb.byID[in.RequestID]; ok && in.RequestID != "" && parent != n && pb.precedes(parent, n) {
		return parent
	}

	urls := make([]string, 0, 1+len(in.StackURLs))
	if in.URL != "" {
		urls = append(urls, in.URL)
	}
	urls = append(urls, in.StackURLs...)
	for _, u := range urls {
		if parent := pb.tightest(u, n); parent != nil {
			return parent
		}
	}
	return nil
}

// tightest picks among the requests for url the one with the latest end still at or before
// the dependent's start, else the latest one that started before it
func (pb *pageBuilder) tightest(url string, dependent Node) *NetworkNode {
	var ended, started *NetworkNode
	for _, c := range pb.byURL[url] {
		if c.ID() == dependent.ID() || !pb.precedes(c, dependent) {
			continue
		}
		if c.EndTime() <= dependent.StartTime() {
			if ended == nil || c.EndTime() > ended.EndTime() {
				ended = c
			}
			continue
		}
		if c.StartTime() < dependent.StartTime() && (started == nil || c.StartTime() > started.StartTime()) {
			started = c
		}
	}
	if ended != nil {
		return ended
	}
	return started
}

// senderOf returns the cpu node that issued n's ResourceSendRequest
func (pb *pageBuilder) senderOf(n *NetworkNode) *CPUNode {
	for _, c := range pb.cpu {
		if !pb.precedes(c, n) {
			continue
		}
		for _, id := range c.SentRequests() {
			if id == n.Record.RequestID {
				return c
			}
		}
	}
	return nil
}

func (pb *pageBuilder) activeCPU(at float64) *CPUNode {
	for _, c := range pb.cpu {
		if c.StartTime() <= at && at <= c.EndTime() {
			return c
		}
	}
	return nil
}

func (pb *pageBuilder) linkCPU(c *CPUNode) error {
	linked := false
	added := make(map[NodeID]struct{})
	link := func(from Node) error {
		if _, ok := added[from.ID()]; ok {
			return nil
		}
		added[from.ID()] = struct{}{}
		linked = true
		return pb.b.AddEdge(from.ID(), c.ID())
	}

	for _, u := range c.ConsumedURLs() {
		if n := pb.finishedBefore(u, c); n != nil {
			if err := link(n); err != nil {
				return err
			}
		}
	}

	for _, timer := range c.TimerIDs(false) {
		if installer := pb.timerInstaller(timer, c); installer != nil {
			if err := link(installer); err != nil {
				return err
			}
		}
	}

	if linked {
		return nil
	}
	if n := pb.lastDocumentResponse(c); n != nil {
		return link(n)
	}
	return link(pb.root)
}

// finishedBefore returns the request for url whose response ended last strictly before c
// started. a response ending on the same instant cannot have been consumed yet.
func (pb *pageBuilder) finishedBefore(url string, c *CPUNode) *NetworkNode {
	var best *NetworkNode
	for _, n := range pb.byURL[url] {
		if n.EndTime() >= c.StartTime() || !pb.precedes(n, c) {
			continue
		}
		if best == nil || n.EndTime() > best.EndTime() {
			best = n
		}
	}
	return best
}

func (pb *pageBuilder) timerInstaller(timer string, c *CPUNode) *CPUNode {
	var installer *CPUNode
	for _, other := range pb.cpu {
		if other == c || !pb.precedes(other, c) {
			continue
		}
		for _, id := range other.TimerIDs(true) {
			if id == timer {
				installer = other
			}
		}
	}
	return installer
}

// lastDocumentResponse is the nearest network completion of the inspected frame before c
func (pb *pageBuilder) lastDocumentResponse(c *CPUNode) *NetworkNode {
	var best *NetworkNode
	for _, n := range pb.network {
		r := n.Record
		// records without a frame (har input) are assumed to belong to the page
		if pb.frameID != "" && r.FrameID != "" && r.FrameID != pb.frameID {
			continue
		}
		if n.EndTime() >= c.StartTime() || !pb.precedes(n, c) {
			continue
		}
		if best == nil || n.EndTime() > best.EndTime() {
			best = n
		}
	}
	return best
}
