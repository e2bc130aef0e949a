package metric

// Discard returns a registry whose metrics record nothing.
func Discard() *Registry {
	return &Registry{
		SessionsActive:    nopGauge{},
		SessionsOpened:    nopCounter{},
		SessionsEvicted:   nopCounter{},
		Participants:      nopGauge{},
		OpsApplied:        nopCounterVec{},
		OpsRejected:       nopCounterVec{},
		OpsDuplicate:      nopCounter{},
		BenignConflicts:   nopCounter{},
		PresenceUpdates:   nopCounter{},
		BroadcastFailures: nopCounter{},
		BacklogDropped:    nopCounter{},
		Resyncs:           nopCounter{},
		Connections:       nopGauge{},
		RelayMessages:     nopCounterVec{},
		RequestsTotal:     nopCounterVec{},
		RequestDuration:   nopHistogramVec{},
		ArchiveWrites:     nopCounterVec{},
		ArchiveDropped:    nopCounter{},
	}
}

// OrDiscard returns r, or a Discard registry when r is nil.
func OrDiscard(r *Registry) *Registry {
	if r == nil {
		return Discard()
	}
	return r
}

type nopCounter struct{}

func (nopCounter) Inc()        {}
func (nopCounter) Add(float64) {}

type nopCounterVec struct{}

func (nopCounterVec) WithLabelValues(...string) Counter { return nopCounter{} }

type nopGauge struct{}

func (nopGauge) Set(float64) {}
func (nopGauge) Inc()        {}
func (nopGauge) Dec()        {}
func (nopGauge) Add(float64) {}
func (nopGauge) Sub(float64) {}

type nopHistogram struct{}

func (nopHistogram) Observe(float64) {}

type nopHistogramVec struct{}

func (nopHistogramVec) WithLabelValues(...string) Histogram { return nopHistogram{} }
