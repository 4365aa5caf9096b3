/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/cli-auth-broker/pkg/metrics"
)

// Manager coordinates audit event creation and distribution.
// Emit never blocks the request path.
type Manager struct {
	sink       Sink
	asyncQueue chan *Event
	logger     *zap.Logger
	wg         sync.WaitGroup
	closed     atomic.Bool
	// guards the send/close race on asyncQueue
	mu sync.RWMutex

	queuedEvents    atomic.Int64
	droppedEvents   atomic.Int64
	processedEvents atomic.Int64

	config ManagerConfig
	now    func() time.Time
}

// ManagerConfig configures the audit Manager.
type ManagerConfig struct {
	// QueueSize is the size of the async event queue.
	// Default: 10000
	QueueSize int

	// WorkerCount is the number of async processing workers.
	// Default: 2
	WorkerCount int

	// WriteTimeout is the timeout for writing to sinks.
	// Default: 5s
	WriteTimeout time.Duration
}

// DefaultManagerConfig returns the default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		QueueSize:    10000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewManager creates a new audit Manager and starts its workers.
func NewManager(sink Sink, cfg ManagerConfig, logger *zap.Logger) *Manager {
	defaults := DefaultManagerConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaults.WorkerCount
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	m := &Manager{
		sink:       sink,
		asyncQueue: make(chan *Event, cfg.QueueSize),
		logger:     logger.Named("audit-manager"),
		config:     cfg,
		now:        time.Now,
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.processQueue(i)
	}

	logger.Info("audit manager started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.String("sink", sink.Name()))

	return m
}

// Emit sends an audit event asynchronously. If the queue is full the event
// is dropped and counted.
func (m *Manager) Emit(ctx context.Context, event *Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed.Load() {
		return
	}

	m.prepare(ctx, event)

	select {
	case m.asyncQueue <- event:
		m.queuedEvents.Add(1)
	default:
		m.droppedEvents.Add(1)
		metrics.AuditEventsDropped.Inc()
		m.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
}

// prepare fills ID, timestamp, severity and request metadata when unset.
func (m *Manager) prepare(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForEventType(event.Type)
	}
	if info, ok := RequestInfoFrom(ctx); ok {
		if event.Actor.SourceIP == "" {
			event.Actor.SourceIP = info.SourceIP
		}
		if event.Actor.UserAgent == "" {
			event.Actor.UserAgent = info.UserAgent
		}
		if info.CorrelationID != "" {
			if event.RequestContext == nil {
				event.RequestContext = &RequestContext{}
			}
			if event.RequestContext.CorrelationID == "" {
				event.RequestContext.CorrelationID = info.CorrelationID
			}
		}
	}
}

func (m *Manager) processQueue(workerID int) {
	defer m.wg.Done()

	for event := range m.asyncQueue {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
		if err := m.sink.Write(ctx, event); err != nil {
			m.logger.Error("failed to write audit event",
				zap.Int("worker", workerID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		} else {
			m.processedEvents.Add(1)
			metrics.AuditEventsProcessed.Inc()
		}
		cancel()
	}
}

// Close drains the queue and closes the sink.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed.Swap(true) {
		m.mu.Unlock()
		return nil
	}
	close(m.asyncQueue)
	m.mu.Unlock()

	m.wg.Wait()

	m.logger.Info("audit manager stopped",
		zap.Int64("processed", m.processedEvents.Load()),
		zap.Int64("dropped", m.droppedEvents.Load()))

	return m.sink.Close()
}

// Stats returns current audit manager statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		QueuedEvents:    m.queuedEvents.Load(),
		ProcessedEvents: m.processedEvents.Load(),
		DroppedEvents:   m.droppedEvents.Load(),
		QueueLength:     len(m.asyncQueue),
		QueueCapacity:   cap(m.asyncQueue),
		Sinks:           sinkStatuses(m.sink),
	}
}

// ManagerStats contains audit manager statistics.
type ManagerStats struct {
	QueuedEvents    int64        `json:"queued"`
	ProcessedEvents int64        `json:"processed"`
	DroppedEvents   int64        `json:"dropped"`
	QueueLength     int          `json:"queueLength"`
	QueueCapacity   int          `json:"queueCapacity"`
	Sinks           []SinkStatus `json:"sinks,omitempty"`
}

// SinkStatus is the delivery state of a sink that tracks its connection.
type SinkStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Written   int64  `json:"written"`
	Failed    int64  `json:"failed"`
}

// trackedSink is implemented by sinks with a remote broker behind them.
type trackedSink interface {
	Sink
	IsConnected() bool
	MessageStats() (written, failed int64)
}

func sinkStatuses(sink Sink) []SinkStatus {
	switch s := sink.(type) {
	case *MultiSink:
		var out []SinkStatus
		for _, inner := range s.sinks {
			out = append(out, sinkStatuses(inner)...)
		}
		return out
	case trackedSink:
		written, failed := s.MessageStats()
		return []SinkStatus{{Name: s.Name(), Connected: s.IsConnected(), Written: written, Failed: failed}}
	}
	return nil
}
