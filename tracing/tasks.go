package tracing

import (
	"github.com/pb33f/lantern/motor/model"
)

// LongTaskThreshold is the duration above which a main-thread task blocks input.
const LongTaskThreshold = 50.0

var topLevelTaskNames = map[string]struct{}{
	"RunTask":                                    {},
	"ThreadControllerImpl::DoWork":               {},
	"ThreadControllerImpl::RunTask":              {},
	"TaskQueueManager::ProcessTaskFromWorkQueue": {},
}

// Task is a top-level main-thread task and the events recorded while it ran.
type Task struct {
	Event    model.TraceEvent
	Start    float64
	End      float64
	Children []model.TraceEvent
}

// Duration returns the task length in ms.
func (t *Task) Duration() float64 {
	return t.End - t.Start
}

// IsTopLevelTask reports whether e is a scheduler task that other events nest inside.
func IsTopLevelTask(e *model.TraceEvent) bool {
	if e.Ph != "X" {
		return false
	}
	_, ok := topLevelTaskNames[e.Name]
	return ok
}

// TopLevelTasks groups timestamp-ordered main-thread events into top-level tasks. a
// top-level event that starts inside another becomes one of its children.
func TopLevelTasks(mainThreadEvents []model.TraceEvent) []*Task {
	var tasks []*Task
	var current *Task

	for i := range mainThreadEvents {
		e := &mainThreadEvents[i]
		start := e.Start()

		if current != nil && start < current.End {
			current.Children = append(current.Children, *e)
			continue
		}
		if !IsTopLevelTask(e) {
			continue
		}

		current = &Task{Event: *e, Start: start, End: e.End()}
		tasks = append(tasks, current)
	}

	return tasks
}

// LongTasks returns the tasks longer than threshold ms.
func LongTasks(tasks []*Task, threshold float64) []*Task {
	var long []*Task
	for _, t := range tasks {
		if t.Duration() > threshold {
			long = append(long, t)
		}
	}
	return long
}
