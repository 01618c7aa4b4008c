package doortag

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultHealthInterval applies when HealthOptions.Interval is unset.
	defaultHealthInterval = 30 * time.Second

	// healthCheckTimeout bounds the broker check behind one periodic report.
	healthCheckTimeout = 5 * time.Second

	reasonBrokerDown = "MQTT disconnected"
)

// HealthPublisher is the broker connection as the reporter sees it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	HealthCheck(ctx context.Context) error
}

// HealthOptions configures a HealthReporter.
type HealthOptions struct {
	BridgeID string
	Version  string

	// Interval between retained health reports. Zero means 30s.
	Interval time.Duration

	// Publisher may be nil, in which case nothing is announced and the
	// status is always degraded.
	Publisher HealthPublisher
}

// HealthReporter tracks poll outcomes and announces them on the retained
// health topic, on demand and on a timer.
//
// The status is healthy only when the broker check passes and the latest
// poll succeeded.
type HealthReporter struct {
	opts    HealthOptions
	started time.Time

	mu       sync.RWMutex
	sensors  int
	pollErr  error
	lastPoll time.Time

	polls      atomic.Uint64
	pollErrors atomic.Uint64
	published  atomic.Uint64

	quit     chan struct{}
	loop     sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter returns a reporter that has not started its timer.
//
// Parameters:
//   - opts: bridge identity, interval and publisher
//
// Returns:
//   - *HealthReporter: call Start for periodic reports
func NewHealthReporter(opts HealthOptions) *HealthReporter {
	if opts.Interval <= 0 {
		opts.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		opts:    opts,
		started: time.Now(),
		quit:    make(chan struct{}),
	}
}

// Start announces the status every interval until ctx ends or Stop.
func (h *HealthReporter) Start(ctx context.Context) {
	h.loop.Add(1)
	go func() {
		defer h.loop.Done()

		tick := time.NewTicker(h.opts.Interval)
		defer tick.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.quit:
				return
			case <-tick.C:
				h.announceTimed(ctx)
			}
		}
	}()
}

func (h *HealthReporter) announceTimed(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := h.Announce(ctx); err != nil {
		h.logError("periodic health report failed", err)
	}
}

// Stop halts the timer and leaves a retained "stopping" report, so the
// topic does not claim healthy after a clean shutdown. Further calls do
// nothing.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		h.loop.Wait()

		if err := h.publish(HealthStopping, ""); err != nil {
			h.logError("stopping report failed", err)
		}
	})
}

// SetDeviceCount records how many door tags the bridge manages.
func (h *HealthReporter) SetDeviceCount(n int) {
	h.mu.Lock()
	h.sensors = n
	h.mu.Unlock()
}

// RecordPoll stores the outcome of a poll. A nil err clears a previous
// failure.
func (h *HealthReporter) RecordPoll(err error) {
	h.polls.Add(1)
	if err != nil {
		h.pollErrors.Add(1)
	}

	h.mu.Lock()
	h.pollErr = err
	h.lastPoll = time.Now().UTC()
	h.mu.Unlock()
}

// RecordStatePublished counts one state message sent to the broker.
func (h *HealthReporter) RecordStatePublished() {
	h.published.Add(1)
}

// Status evaluates the bridge right now.
//
// Parameters:
//   - ctx: bounds the broker check
//
// Returns:
//   - HealthStatus: healthy or degraded
//   - string: why it is degraded, empty when healthy
func (h *HealthReporter) Status(ctx context.Context) (HealthStatus, string) {
	if h.opts.Publisher == nil || h.opts.Publisher.HealthCheck(ctx) != nil {
		return HealthDegraded, reasonBrokerDown
	}

	h.mu.RLock()
	pollErr := h.pollErr
	h.mu.RUnlock()
	if pollErr != nil {
		return HealthDegraded, pollErr.Error()
	}
	return HealthHealthy, ""
}

// AnnounceStarting publishes the "starting" report sent before discovery.
func (h *HealthReporter) AnnounceStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// Announce publishes the current status.
func (h *HealthReporter) Announce(ctx context.Context) error {
	status, reason := h.Status(ctx)
	return h.publish(status, reason)
}

// SetLogger sets the logger for failed periodic reports.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// message snapshots the counters into a HealthMessage.
func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	h.mu.RLock()
	sensors, lastPoll := h.sensors, h.lastPoll
	h.mu.RUnlock()

	msg := HealthMessage{
		Bridge:         h.opts.BridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        h.opts.Version,
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		DevicesManaged: sensors,
		Statistics: &BridgeStatistics{
			Polls:           h.polls.Load(),
			PollErrors:      h.pollErrors.Load(),
			StatesPublished: h.published.Load(),
		},
		Reason: reason,
	}
	if !lastPoll.IsZero() {
		msg.LastPoll = &lastPoll
	}
	return msg
}

// publish sends one retained report at QoS 1.
func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.opts.Publisher == nil {
		return nil
	}
	body, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.opts.Publisher.Publish(HealthTopic(), body, stateQoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
