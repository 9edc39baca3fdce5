// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

// dependencyRequest waits for a set of events.
type dependencyRequest struct {
	events   []*DependencyEvent
	signaled int
	success  bool
	done     func(ok bool)
}

// NewDependencyEvent creates an event with a loop-scoped id that is
// signaled once every queue in queues reported.
func (l *Loop) NewDependencyEvent(tag string, queues ...*Queue) *DependencyEvent {
	return NewDependencyEvent(l.alloc.events.Add(1), tag, queues...)
}

// WaitForDependencies calls done on the loop goroutine once every event is
// signaled. ok is false if any event carried a failure. An empty list
// reports success at once.
func (l *Loop) WaitForDependencies(events []*DependencyEvent, done func(ok bool)) {
	if len(events) == 0 {
		done(true)
		return
	}
	events = append([]*DependencyEvent(nil), events...)
	if !l.Post(func() { l.waitForDependencies(events, done) }) {
		done(false)
	}
}

func (l *Loop) waitForDependencies(events []*DependencyEvent, done func(bool)) {
	req := &dependencyRequest{events: events, success: true, done: done}
	for _, ev := range events {
		if ev.IsSignaled() {
			req.signaled++
			if !ev.IsSuccessful() {
				req.success = false
			}
			continue
		}
		l.dependencies[ev] = append(l.dependencies[ev], req)
	}
	if req.signaled == len(events) {
		done(req.success)
	}
}

// SignalDependencies reports completion of q for every event. It may be
// called from any goroutine.
func (l *Loop) SignalDependencies(events []*DependencyEvent, q *Queue, ok bool) {
	if len(events) == 0 {
		return
	}
	events = append([]*DependencyEvent(nil), events...)
	l.Post(func() { l.signalDependencies(events, q, ok) })
}

func (l *Loop) signalDependencies(events []*DependencyEvent, q *Queue, ok bool) {
	for _, ev := range events {
		if !ev.signal(q, ok) {
			continue
		}
		success := ev.IsSuccessful()
		reqs := l.dependencies[ev]
		delete(l.dependencies, ev)
		for _, req := range reqs {
			if !success {
				req.success = false
			}
			req.signaled++
			if req.signaled == len(req.events) {
				req.done(req.success)
			}
		}
	}
}

// dropDependencies fails every pending wait.
func (l *Loop) dropDependencies() {
	pending := l.dependencies
	l.dependencies = make(map[*DependencyEvent][]*dependencyRequest)
	seen := make(map[*dependencyRequest]struct{})
	for _, reqs := range pending {
		for _, req := range reqs {
			if _, ok := seen[req]; ok {
				continue
			}
			seen[req] = struct{}{}
			req.done(false)
		}
	}
}
