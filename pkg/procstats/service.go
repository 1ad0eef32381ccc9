// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats

// serviceMode is one of a ServiceRecord's three orthogonal small state
// machines. Its state space is {StateNothing} union [0, AdjCount), the
// combined memory-factor x screen-state value; the process-lifecycle
// dimension is unused here.
type serviceMode struct {
	durations [AdjCount]int64
	opCount   int32
	curState  int32
	startTime int64
}

func newServiceMode() serviceMode {
	return serviceMode{curState: StateNothing}
}

func (m *serviceMode) set(active bool, memFactor int, now int64) {
	newState := int32(StateNothing)
	if active {
		newState = int32(memFactor)
	}
	if newState == m.curState {
		return
	}
	if m.curState != StateNothing {
		delta := now - m.startTime
		if delta < 0 {
			delta = 0 // protect against clock skew
		}
		m.durations[m.curState] += delta
	} else if newState != StateNothing {
		m.opCount++
	}
	m.curState = newState
	m.startTime = now
}

// commitBeforeWrite folds any currently-running interval into durations
// and resets startTime to now, without changing curState. Used just
// before serialization (§4.7).
func (m *serviceMode) commitBeforeWrite(now int64) {
	if m.curState != StateNothing {
		delta := now - m.startTime
		if delta < 0 {
			delta = 0 // protect against clock skew
		}
		m.durations[m.curState] += delta
		m.startTime = now
	}
}

// Duration returns the accumulated duration for adj, plus the
// currently-running delta if the mode is presently in that state.
func (m *serviceMode) Duration(adj int, now int64) int64 {
	total := m.durations[adj]
	if int(m.curState) == adj {
		if delta := now - m.startTime; delta > 0 {
			total += delta
		}
	}
	return total
}

// ServiceRecord tracks a single declared service's time in three
// orthogonal modes (started, bound, executing) across the combined
// memory-factor x screen-state space, and how many times each mode was
// entered.
type ServiceRecord struct {
	Package string
	UID     int32
	Name    string

	Started   serviceMode
	Bound     serviceMode
	Executing serviceMode
}

func newServiceRecord(pkg string, uid int32, name string) *ServiceRecord {
	return &ServiceRecord{
		Package:   pkg,
		UID:       uid,
		Name:      name,
		Started:   newServiceMode(),
		Bound:     newServiceMode(),
		Executing: newServiceMode(),
	}
}

// SetStarted records a transition of the service's "started" mode.
func (s *ServiceRecord) SetStarted(active bool, memFactor int, now int64) {
	s.Started.set(active, memFactor, now)
}

// SetBound records a transition of the service's "bound" mode.
func (s *ServiceRecord) SetBound(active bool, memFactor int, now int64) {
	s.Bound.set(active, memFactor, now)
}

// SetExecuting records a transition of the service's "executing" mode.
func (s *ServiceRecord) SetExecuting(active bool, memFactor int, now int64) {
	s.Executing.set(active, memFactor, now)
}

func (s *ServiceRecord) commitBeforeWrite(now int64) {
	s.Started.commitBeforeWrite(now)
	s.Bound.commitBeforeWrite(now)
	s.Executing.commitBeforeWrite(now)
}
