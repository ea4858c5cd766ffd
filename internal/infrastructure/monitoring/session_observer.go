package monitoring

import (
	"sync"
	"time"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
)

// ObserveSessions returns an event handler that reports session lifecycle
// transitions to the collector. Lifetimes are measured from the connected
// event of each session key.
func ObserveSessions(c *PrometheusCollector) ports.SessionEventHandler {
	var mu sync.Mutex
	opened := make(map[domain.ClientID]time.Time)

	return func(ev domain.SessionEvent) {
		switch ev.Kind {
		case domain.SessionConnected:
			mu.Lock()
			opened[ev.Key] = time.Now()
			mu.Unlock()
			c.RecordSessionOpened()
		case domain.SessionClosed, domain.SessionEnded:
			mu.Lock()
			startedAt, ok := opened[ev.Key]
			delete(opened, ev.Key)
			mu.Unlock()
			if ok {
				c.RecordSessionClosed(time.Since(startedAt))
			}
		case domain.SessionFailed:
			c.RecordSessionFailed()
		}
	}
}
