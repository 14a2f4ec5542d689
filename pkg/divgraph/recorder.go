package divgraph

import "time"

// Recorder receives instrumentation events from the index. Implementations
// must be safe for concurrent use.
type Recorder interface {
	ObserveInsert(d time.Duration, err error)
	ObserveSearch(d time.Duration, st SearchStats)
	ObserveBuild(d time.Duration, nodes int)
	ObservePersist(op string, d time.Duration, err error)
	SetNodes(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveInsert(time.Duration, error)          {}
func (nopRecorder) ObserveSearch(time.Duration, SearchStats)    {}
func (nopRecorder) ObserveBuild(time.Duration, int)             {}
func (nopRecorder) ObservePersist(string, time.Duration, error) {}
func (nopRecorder) SetNodes(int)                                {}
