// audit/sink.go
package audit

import (
	"sync"

	"riskfortress/coordinator"
	"riskfortress/logs"
)

// Sink drains the coordinator's event stream into the journal. Writes are
// best-effort: a failed insert is logged and dropped, never pushed back at
// the trading path.
type Sink struct {
	journal *SQLiteJournal
	cancel  func()
	wg      sync.WaitGroup
}

// NewSink subscribes to the coordinator and starts draining.
func NewSink(journal *SQLiteJournal, coord *coordinator.Coordinator) *Sink {
	events, cancel := coord.Subscribe()
	s := &Sink{journal: journal, cancel: cancel}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range events {
			err := journal.RecordEvent(RiskEventRecord{
				EventID:   ev.ID,
				EventType: string(ev.Type),
				Time:      ev.Timestamp,
				Symbol:    ev.Symbol,
				Reason:    ev.Reason,
				Detail:    ev.Detail,
			})
			if err != nil {
				logs.Warnf("[Audit] Journal write failed, event %s dropped: %v", ev.ID, err)
			}
		}
	}()
	return s
}

// Close stops draining and waits for the writer to finish.
func (s *Sink) Close() {
	s.cancel()
	s.wg.Wait()
}
