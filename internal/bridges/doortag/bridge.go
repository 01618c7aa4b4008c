package doortag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-netatmo/internal/netatmo"
)

const (
	// defaultPollInterval applies when the config leaves it unset.
	defaultPollInterval = 60 * time.Second

	// pollTimeout bounds one poll, including a token refresh and two
	// provider calls.
	pollTimeout = 45 * time.Second

	// requestTimeout bounds the work done for one MQTT request.
	requestTimeout = 30 * time.Second

	// stateQoS is the QoS of state, discovery and response messages.
	stateQoS byte = 1
)

// Logger is the structured logger the bridge writes to.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// MQTTClient is the broker connection the bridge publishes through.
// It also serves as the HealthPublisher of the bridge's health reporter.
type MQTTClient interface {
	HealthPublisher
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

// StatusCache is the shared door-tag status source. *netatmo.StatusCache
// satisfies it.
type StatusCache interface {
	netatmo.StatusSource
	Invalidate(ctx context.Context) error
	HomeID() string
}

// StateChangeFunc is called after a changed state has been published.
type StateChangeFunc func(snap netatmo.SensorSnapshot)

// BridgeOptions are the collaborators NewBridge wires together. Logger and
// Version are optional.
type BridgeOptions struct {
	// Config supplies the bridge id and the poll and health intervals.
	Config *config.Config

	MQTTClient MQTTClient

	// Cache is the shared status cache every sensor reads through.
	Cache StatusCache

	Logger  Logger
	Version string
}

// Bridge publishes Netatmo door-tag state onto the Gray Logic MQTT bus and
// answers Core's requests about it. Its methods may be called concurrently.
type Bridge struct {
	bridgeID     string
	pollInterval time.Duration
	mqtt         MQTTClient
	cache        StatusCache
	health       *HealthReporter

	sensors   []*netatmo.DoorSensor
	byID      map[string]*netatmo.DoorSensor
	sensorsMu sync.RWMutex

	// published holds the last state sent per unique id.
	published   map[string]netatmo.DoorState
	publishedMu sync.Mutex

	onStateChange StateChangeFunc
	hookMu        sync.RWMutex

	// subscribed is set once the request subscription is in place.
	subscribed atomic.Bool

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge checks opts and returns an idle bridge; nothing is published
// until Start.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("doortag: config is required")
	case opts.MQTTClient == nil:
		return nil, errors.New("doortag: MQTT client is required")
	case opts.Cache == nil:
		return nil, errors.New("doortag: status cache is required")
	}

	pollInterval := opts.Config.GetPollInterval()
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	runCtx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:     opts.Config.Bridge.ID,
		pollInterval: pollInterval,
		mqtt:         opts.MQTTClient,
		cache:        opts.Cache,
		byID:         make(map[string]*netatmo.DoorSensor),
		published:    make(map[string]netatmo.DoorState),
		done:         make(chan struct{}),
		ctx:          runCtx,
		ctxCancel:    cancel,
		logger:       opts.Logger,
		health: NewHealthReporter(HealthOptions{
			BridgeID:  opts.Config.Bridge.ID,
			Version:   opts.Version,
			Interval:  opts.Config.GetHealthInterval(),
			Publisher: opts.MQTTClient,
		}),
	}
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start discovers the door tags, announces them and begins polling.
//
// A failed discovery aborts start and wraps ErrDiscoveryFailed together with
// the netatmo error. Failing to subscribe to requests is also fatal.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.AnnounceStarting(); err != nil {
		b.logError("starting report not published", err)
	}

	discoverCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	sensors, err := netatmo.DiscoverSensors(discoverCtx, b.cache)
	cancel()
	b.health.RecordPoll(err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	b.sensorsMu.Lock()
	b.sensors = sensors
	for _, s := range sensors {
		b.byID[s.UniqueID()] = s
	}
	b.sensorsMu.Unlock()
	b.health.SetDeviceCount(len(sensors))

	b.publishDiscovery()
	for _, s := range sensors {
		b.publishIfChanged(s.Snapshot())
	}

	if err := b.mqtt.Subscribe(RequestSubscribeTopic(), stateQoS, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("doortag: request subscription: %w", err)
	}
	b.subscribed.Store(true)
	b.logInfo("listening for requests", "topic", RequestSubscribeTopic())

	b.health.Start(b.ctx)
	if err := b.health.Announce(ctx); err != nil {
		b.logError("health report not published", err)
	}

	b.wg.Add(1)
	go b.pollLoop()

	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"sensors", len(sensors),
		"poll_interval", b.pollInterval.String())

	return nil
}

// Stop ends polling, drops the request subscription and leaves a retained
// "stopping" health report. Only the first call does anything.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()

		if b.subscribed.Swap(false) {
			if err := b.mqtt.Unsubscribe(RequestSubscribeTopic()); err != nil {
				b.logWarn("request subscription not removed", "error", err)
			}
		}
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// Reconnected re-announces the bridge after the broker connection comes
// back. If the bridge vanished uncleanly the broker has replaced the health
// topic with the offline last will, and only a fresh report corrects it.
// It does nothing before Start or after Stop.
func (b *Bridge) Reconnected() {
	if !b.subscribed.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()
	if err := b.health.Announce(ctx); err != nil {
		b.logError("health report after reconnect not published", err)
	}
}

// OnStateChange registers fn to be called for every published state change.
// A later call replaces the previous hook.
func (b *Bridge) OnStateChange(fn StateChangeFunc) {
	b.hookMu.Lock()
	b.onStateChange = fn
	b.hookMu.Unlock()
}

// Sensors returns snapshots of all discovered door tags in discovery order.
func (b *Bridge) Sensors() []netatmo.SensorSnapshot {
	b.sensorsMu.RLock()
	defer b.sensorsMu.RUnlock()

	snaps := make([]netatmo.SensorSnapshot, 0, len(b.sensors))
	for _, s := range b.sensors {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// Sensor returns the snapshot of the sensor with the given unique id.
func (b *Bridge) Sensor(uniqueID string) (netatmo.SensorSnapshot, bool) {
	b.sensorsMu.RLock()
	s, ok := b.byID[uniqueID]
	b.sensorsMu.RUnlock()
	if !ok {
		return netatmo.SensorSnapshot{}, false
	}
	return s.Snapshot(), true
}

// RefreshSensor refreshes one sensor through the cache and publishes its
// state if it changed. The cache decides whether the provider is contacted.
//
// Returns:
//   - netatmo.SensorSnapshot: the sensor after the refresh
//   - error: ErrSensorNotFound, or a netatmo error from the refresh
func (b *Bridge) RefreshSensor(ctx context.Context, uniqueID string) (netatmo.SensorSnapshot, error) {
	b.sensorsMu.RLock()
	s, ok := b.byID[uniqueID]
	b.sensorsMu.RUnlock()
	if !ok {
		return netatmo.SensorSnapshot{}, fmt.Errorf("%w: %s", ErrSensorNotFound, uniqueID)
	}

	if err := s.Refresh(ctx); err != nil {
		return s.Snapshot(), err
	}

	snap := s.Snapshot()
	b.publishIfChanged(snap)
	return snap, nil
}

// RefreshNow drops the cached status and polls every sensor immediately.
//
// Returns:
//   - int: number of sensors whose state changed
//   - error: the invalidate or poll error
func (b *Bridge) RefreshNow(ctx context.Context) (int, error) {
	if err := b.cache.Invalidate(ctx); err != nil {
		return 0, err
	}
	return b.poll(ctx)
}

// HealthStatus evaluates the bridge now; see HealthReporter.Status.
func (b *Bridge) HealthStatus(ctx context.Context) (HealthStatus, string) {
	return b.health.Status(ctx)
}

// pollLoop refreshes all sensors every poll interval until Stop.
func (b *Bridge) pollLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(b.ctx, pollTimeout)
			//nolint:errcheck // poll logs and records its own failure
			b.poll(ctx)
			cancel()
		}
	}
}

// poll refreshes every sensor and publishes those that changed.
//
// All sensors read the same cached status list, so one poll costs at most
// one round of provider calls. The first refresh error stops the poll.
func (b *Bridge) poll(ctx context.Context) (int, error) {
	b.sensorsMu.RLock()
	sensors := b.sensors
	b.sensorsMu.RUnlock()

	if sensors == nil {
		return 0, ErrNotStarted
	}

	changed := 0
	for _, s := range sensors {
		if err := s.Refresh(ctx); err != nil {
			b.health.RecordPoll(err)
			b.logWarn("door tag refresh failed", "sensor", s.UniqueID(), "error", err)
			return changed, err
		}
		if b.publishIfChanged(s.Snapshot()) {
			changed++
		}
	}

	b.health.RecordPoll(nil)
	b.logDebug("poll complete", "sensors", len(sensors), "changed", changed)
	return changed, nil
}

// publishIfChanged publishes snap when its state differs from the last one
// published for that sensor, and reports whether it did.
func (b *Bridge) publishIfChanged(snap netatmo.SensorSnapshot) bool {
	b.publishedMu.Lock()
	prev, seen := b.published[snap.UniqueID]
	if seen && prev == snap.State {
		b.publishedMu.Unlock()
		return false
	}
	b.published[snap.UniqueID] = snap.State
	b.publishedMu.Unlock()

	body, err := json.Marshal(NewStateMessage(snap))
	if err == nil {
		err = b.mqtt.Publish(StateTopic(snap.UniqueID), body, stateQoS, true)
	}
	if err != nil {
		b.forgetPublished(snap, prev, seen)
		b.logError("state not published", err)
		return false
	}
	b.health.RecordStatePublished()

	b.logInfo("door tag state changed",
		"sensor", snap.UniqueID,
		"state", string(snap.State),
		"is_on", snap.IsOn)

	b.hookMu.RLock()
	hook := b.onStateChange
	b.hookMu.RUnlock()
	if hook != nil {
		hook(snap)
	}
	return true
}

// forgetPublished rolls back the record made for snap after its publish
// failed, so the next poll tries again. A concurrent publish may already
// have recorded a newer state; that record is left alone.
func (b *Bridge) forgetPublished(snap netatmo.SensorSnapshot, prev netatmo.DoorState, hadPrev bool) {
	b.publishedMu.Lock()
	defer b.publishedMu.Unlock()

	if b.published[snap.UniqueID] != snap.State {
		return
	}
	if hadPrev {
		b.published[snap.UniqueID] = prev
	} else {
		delete(b.published, snap.UniqueID)
	}
}

// publishDiscovery announces the discovered sensors (retained).
func (b *Bridge) publishDiscovery() {
	body, err := json.Marshal(NewDiscoveryMessage(b.bridgeID, b.cache.HomeID(), b.Sensors()))
	if err == nil {
		err = b.mqtt.Publish(DiscoveryTopic(), body, stateQoS, true)
	}
	if err != nil {
		b.logError("discovery not published", err)
	}
}

// handleMQTTMessage decodes one request, runs it and publishes the answer.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("malformed request dropped", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = topic[strings.LastIndex(topic, "/")+1:]
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	resp := b.handleRequest(req)

	body, err := json.Marshal(resp)
	if err == nil {
		err = b.mqtt.Publish(ResponseTopic(req.RequestID), body, stateQoS, false)
	}
	if err != nil {
		b.logError("response not published", err, "request_id", req.RequestID)
	}
}

// handleRequest executes one request and builds its response.
func (b *Bridge) handleRequest(req RequestMessage) ResponseMessage {
	switch req.Action {
	case "refresh":
		ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
		defer cancel()

		changed, err := b.RefreshNow(ctx)
		if err != nil {
			return newErrorResponse(req, errorCode(err), err.Error())
		}
		return newResponse(req, map[string]any{
			"sensors": len(b.Sensors()),
			"changed": changed,
		})

	case "read_all":
		return newResponse(req, map[string]any{
			"sensors": b.Sensors(),
		})

	case "read_state":
		if req.DeviceID == "" {
			return newErrorResponse(req, ErrCodeInvalidParameters, "device_id is required")
		}
		snap, ok := b.Sensor(req.DeviceID)
		if !ok {
			return newErrorResponse(req, ErrCodeNotConfigured,
				fmt.Sprintf("sensor %s not configured", req.DeviceID))
		}
		return newResponse(req, map[string]any{
			"sensor": snap,
		})

	default:
		return newErrorResponse(req, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}
}

// errorCode maps a refresh error onto a response error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, netatmo.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, netatmo.ErrAuthFailure):
		return ErrCodeAuthFailure
	case errors.Is(err, netatmo.ErrNetwork):
		return ErrCodeUnreachable
	case errors.Is(err, netatmo.ErrUpstreamData):
		return ErrCodeProtocolError
	case errors.Is(err, ErrSensorNotFound):
		return ErrCodeNotConfigured
	default:
		return ErrCodeBridgeError
	}
}

// SetLogger replaces the logger of the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, kv ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, kv...)
	}
}

func (b *Bridge) logWarn(msg string, kv ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, kv...)
	}
}

func (b *Bridge) logError(msg string, err error, kv ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, kv...)...)
	}
}

func (b *Bridge) logDebug(msg string, kv ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, kv...)
	}
}
