// Package pipeline moves accepted telemetry snapshots through rule
// detection, history storage and live state.
package pipeline

import (
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/metrics"
)

type Dispatcher struct {
	DetectChan  chan *domain.TelemetrySnapshot
	HistoryChan chan *domain.TelemetrySnapshot
	StateChan   chan *domain.TelemetrySnapshot
}

func NewDispatcher(detectSize, historySize, stateSize int) *Dispatcher {
	return &Dispatcher{
		DetectChan:  make(chan *domain.TelemetrySnapshot, detectSize),
		HistoryChan: make(chan *domain.TelemetrySnapshot, historySize),
		StateChan:   make(chan *domain.TelemetrySnapshot, stateSize),
	}
}

// Dispatch never blocks. A full channel drops the snapshot for that
// consumer only.
func (d *Dispatcher) Dispatch(s *domain.TelemetrySnapshot) {
	select {
	case d.DetectChan <- s:
	default:
		metrics.ChannelDrops.WithLabelValues("detect").Inc()
	}

	select {
	case d.HistoryChan <- s:
	default:
		metrics.ChannelDrops.WithLabelValues("history").Inc()
	}

	select {
	case d.StateChan <- s:
	default:
		metrics.ChannelDrops.WithLabelValues("state").Inc()
	}
}

// Close stops all consumers once they drain.
func (d *Dispatcher) Close() {
	close(d.DetectChan)
	close(d.HistoryChan)
	close(d.StateChan)
}
