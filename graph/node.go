package graph

import (
	"github.com/pb33f/lantern/motor/model"
	"github.com/pb33f/lantern/tracing"
)

// NodeID identifies a node within one graph. network nodes use their request id.
type NodeID string

// NodeType discriminates the node variants.
type NodeType string

const (
	NodeTypeNetwork NodeType = "network"
	NodeTypeCPU     NodeType = "cpu"
)

// Node is a unit of page-load work: a request or a busy interval of the main thread.
type Node interface {
	ID() NodeID
	Type() NodeType
	// StartTime and EndTime are the observed bounds in ms
	StartTime() float64
	EndTime() float64
}

// NetworkNode is backed by a single network record.
type NetworkNode struct {
	id     NodeID
	Record *model.NetworkRecord
}

func NewNetworkNode(record *model.NetworkRecord) *NetworkNode {
	return &NetworkNode{id: NodeID(record.RequestID), Record: record}
}

func (n *NetworkNode) ID() NodeID          { return n.id }
func (n *NetworkNode) Type() NodeType      { return NodeTypeNetwork }
func (n *NetworkNode) StartTime() float64  { return n.Record.StartTime }
func (n *NetworkNode) EndTime() float64    { return n.Record.EndTime }
func (n *NetworkNode) Origin() string      { return n.Record.Origin }
func (n *NetworkNode) IsNonNetwork() bool  { return n.Record.IsNonNetwork() }
func (n *NetworkNode) FromCache() bool     { return n.Record.FromCache() }
func (n *NetworkNode) TransferSize() int64 { return n.Record.TransferSize }

// CPUNode is a contiguous busy interval of the main thread made of one or more top-level
// tasks.
type CPUNode struct {
	id    NodeID
	Tasks []*tracing.Task
	start float64
	end   float64
}

// NewCPUNode covers tasks, which must be ordered and contiguous.
func NewCPUNode(id NodeID, tasks []*tracing.Task) *CPUNode {
	n := &CPUNode{id: id, Tasks: tasks}
	if len(tasks) > 0 {
		n.start = tasks[0].Start
		for _, t := range tasks {
			n.end = max(n.end, t.End)
		}
	}
	return n
}

func (n *CPUNode) ID() NodeID         { return n.id }
func (n *CPUNode) Type() NodeType     { return NodeTypeCPU }
func (n *CPUNode) StartTime() float64 { return n.start }
func (n *CPUNode) EndTime() float64   { return n.end }

// Duration is the observed busy time in ms.
func (n *CPUNode) Duration() float64 {
	return n.end - n.start
}

// Events visits every event recorded inside the node's tasks, including the tasks
// themselves, until fn returns false.
func (n *CPUNode) Events(fn func(e *model.TraceEvent) bool) {
	for _, t := range n.Tasks {
		if !fn(&t.Event) {
			return
		}
		for i := range t.Children {
			if !fn(&t.Children[i]) {
				return
			}
		}
	}
}

// HasEvent reports whether an event named name ran inside the node.
func (n *CPUNode) HasEvent(name string) bool {
	found := false
	n.Events(func(e *model.TraceEvent) bool {
		found = e.Name == name
		return !found
	})
	return found
}

// LongestTask returns the duration of the node's longest top-level task.
func (n *CPUNode) LongestTask() float64 {
	longest := 0.0
	for _, t := range n.Tasks {
		longest = max(longest, t.Duration())
	}
	return longest
}

// script and stylesheet evaluation events whose args name the resource they consumed
var urlEvents = map[string]struct{}{
	"EvaluateScript":        {},
	"FunctionCall":          {},
	"v8.compile":            {},
	"v8.compileModule":      {},
	"ParseAuthorStyleSheet": {},
	"XHRLoad":               {},
}

// stack-carrying events: the scripts on their stack must have been loaded
var stackEvents = map[string]struct{}{
	"TimerInstall":               {},
	"TimerRemove":                {},
	"InvalidateLayout":           {},
	"ScheduleStyleRecalculation": {},
	"RequestAnimationFrame":      {},
}

// ConsumedURLs lists the resource URLs the node's events evaluated or had on their stack,
// in event order without duplicates.
func (n *CPUNode) ConsumedURLs() []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	n.Events(func(e *model.TraceEvent) bool {
		if _, ok := urlEvents[e.Name]; ok && e.Args.Data != nil {
			add(e.Args.Data.URL)
			add(e.Args.Data.StyleSheetURL)
		}
		// only a completed xhr hands its response to the page
		if e.Name == "XHRReadyStateChange" && e.Args.Data != nil && e.Args.Data.ReadyState == 4 {
			add(e.Args.Data.URL)
		}
		if _, ok := stackEvents[e.Name]; ok {
			for _, u := range e.StackURLs() {
				add(u)
			}
		}
		return true
	})
	return urls
}

// TimerIDs returns the ids of timers installed (install == true) or fired by the node.
func (n *CPUNode) TimerIDs(install bool) []string {
	name := "TimerFire"
	if install {
		name = "TimerInstall"
	}
	var ids []string
	n.Events(func(e *model.TraceEvent) bool {
		if e.Name == name && e.Args.Data != nil && e.Args.Data.TimerID != "" {
			ids = append(ids, e.Args.Data.TimerID.String())
		}
		return true
	})
	return ids
}

// SentRequests returns the request ids of ResourceSendRequest events inside the node.
func (n *CPUNode) SentRequests() []string {
	var ids []string
	n.Events(func(e *model.TraceEvent) bool {
		if e.Name == "ResourceSendRequest" && e.Args.Data != nil && e.Args.Data.RequestID != "" {
			ids = append(ids, e.Args.Data.RequestID)
		}
		return true
	})
	return ids
}
