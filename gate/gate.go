package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xiaonanln/hubgate/runtimecfg"
	"github.com/xiaonanln/hubgate/util/logger"
	"github.com/xiaonanln/hubgate/util/metrics"
)

// DefaultFlushInterval is how often the delivery queue is drained
const DefaultFlushInterval = time.Second

// GateConfig holds configuration for the gate
type GateConfig struct {
	Name           string        // tags connection ids, e.g. "gw1"
	SharedSecret   string        // required handshake token and webhook header; empty disables auth
	WebhookURL     string        // empty disables delivery
	WebhookTimeout time.Duration // per delivery attempt
	Queue          QueueConfig
	FlushInterval  time.Duration

	// Now and Sender replace the clock and the webhook client, mainly in tests
	Now    func() time.Time
	Sender Sender
}

// HealthSnapshot is the body of GET /health
type HealthSnapshot struct {
	OK             bool              `json:"ok"`
	WSClients      int               `json:"wsClients"`
	HubsTracked    int               `json:"hubsTracked"`
	ReadersTracked int               `json:"readersTracked"`
	Queue          int               `json:"queue"`
	WebhookURL     string            `json:"webhookUrl"`
	RuntimeCfg     runtimecfg.Config `json:"runtimeCfg"`
}

// Gate owns the connection registry, the liveness table and the delivery
// queue of one gateway process. Inbound messages, health checks and output
// commands all funnel their events into the queue.
type Gate struct {
	config   *GateConfig
	logger   *logger.Logger
	now      func() time.Time
	runtime  *runtimecfg.Store
	registry *Registry
	liveness *Liveness
	queue    *Queue

	healthReset chan time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	loopsWg sync.WaitGroup
	flushWg sync.WaitGroup
}

// NewGate creates a new gate instance. A nil store keeps the runtime
// configuration in memory only.
func NewGate(config *GateConfig, store *runtimecfg.Store) (*Gate, error) {
	if err := validateGateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid gate configuration: %w", err)
	}
	if store == nil {
		store = runtimecfg.NewStore(nil)
	}

	sender := config.Sender
	if sender == nil && config.WebhookURL != "" {
		sender = NewWebhookSender(config.WebhookURL, config.SharedSecret, config.WebhookTimeout)
	}

	g := &Gate{
		config:      config,
		logger:      logger.NewLogger("Gate"),
		now:         config.Now,
		runtime:     store,
		registry:    NewRegistry(config.Name, config.SharedSecret),
		liveness:    NewLiveness(),
		queue:       NewQueue(config.Queue, sender, config.Now),
		healthReset: make(chan time.Duration, 1),
	}
	store.OnChange(g.onRuntimeConfigChange)
	return g, nil
}

// validateGateConfig validates the gate configuration and fills defaults
func validateGateConfig(config *GateConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.FlushInterval < 0 {
		return fmt.Errorf("FlushInterval cannot be negative")
	}
	if config.WebhookTimeout < 0 {
		return fmt.Errorf("WebhookTimeout cannot be negative")
	}

	if config.Name == "" {
		config.Name = "hubgate"
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.WebhookTimeout == 0 {
		config.WebhookTimeout = DefaultWebhookTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	config.Queue = config.Queue.withDefaults()
	return nil
}

// Start launches the flush and health-check loops
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return fmt.Errorf("gate already started")
	}
	g.logger.Infof("Starting gate %s (webhook=%q)", g.config.Name, g.config.WebhookURL)
	if g.config.WebhookURL == "" && g.config.Sender == nil {
		g.logger.Warnf("No webhook URL configured, events will be queued but not delivered")
	}

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.loopsWg.Add(2)
	go g.flushLoop(ctx)
	go g.healthLoop(ctx)

	g.logger.Infof("Gate started")
	return nil
}

// Stop stops the loops and closes every connection
func (g *Gate) Stop() error {
	g.logger.Infof("Stopping gate")

	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
		g.loopsWg.Wait()
		g.flushWg.Wait()
	}
	g.registry.CloseAll()

	g.logger.Infof("Gate stopped")
	return nil
}

func (g *Gate) flushLoop(ctx context.Context) {
	defer g.loopsWg.Done()
	ticker := time.NewTicker(g.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A slow webhook must not delay the ticker; overlapping passes are
			// rejected by the queue.
			g.flushWg.Add(1)
			go func() {
				defer g.flushWg.Done()
				g.queue.Flush(ctx)
			}()
		}
	}
}

func (g *Gate) healthLoop(ctx context.Context) {
	defer g.loopsWg.Done()
	period := g.runtime.Get().TestPeriod()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.RunHealthCheck()
		case d := <-g.healthReset:
			if d != period {
				g.logger.Infof("Health check period changed from %v to %v", period, d)
			}
			period = d
			ticker.Reset(period)
		}
	}
}

// onRuntimeConfigChange restarts the health-check period and tells every
// connection about the new values.
func (g *Gate) onRuntimeConfigChange(cfg runtimecfg.Config) {
	select {
	case <-g.healthReset:
	default:
	}
	select {
	case g.healthReset <- cfg.TestPeriod():
	default:
	}

	if data, err := json.Marshal(serverConfigMessage(cfg, "")); err == nil {
		g.registry.Broadcast(data)
	}
}

// RunHealthCheck evaluates every tracked hub once and enqueues the results
func (g *Gate) RunHealthCheck() {
	g.liveness.Check(g.now(), g.runtime.Get().TestFailAfter(), g.emit)
}

// Flush runs one delivery pass immediately
func (g *Gate) Flush(ctx context.Context) FlushResult {
	return g.queue.Flush(ctx)
}

// Admit authenticates a handshake, registers the connection and greets it
// with a SERVER_HELLO carrying its id and the current runtime config.
func (g *Gate) Admit(token, remoteAddr string) (*ClientProxy, error) {
	proxy, err := g.registry.Admit(token, remoteAddr)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(serverConfigMessage(g.runtime.Get(), proxy.GetID())); err == nil {
		proxy.PushMessage(data)
	}
	return proxy, nil
}

// Disconnect forgets a connection and all of its bindings
func (g *Gate) Disconnect(proxy *ClientProxy) {
	g.registry.OnClose(proxy)
}

// HandleMessage normalizes one inbound frame from proxy. Malformed frames
// are dropped without a reply.
func (g *Gate) HandleMessage(ctx context.Context, proxy *ClientProxy, data []byte) {
	msg, err := DecodeInbound(data)
	if err != nil {
		metrics.RecordInboundDropped(dropReason(err))
		g.logger.Debugf("Dropped message from %s: %v", proxy.GetID(), err)
		return
	}

	switch m := msg.(type) {
	case *HelloMessage:
		g.emit(newHubEvent(EventHello, UnknownSubject, g.eventTime(m.TS), map[string]any{
			"client":       m.Client,
			"clientId":     m.ClientID,
			"connectionId": proxy.GetID(),
		}))

	case *ClientConfigMessage:
		cfg := g.runtime.Set(ctx, m.Update)
		g.emit(newHubEvent(EventClientConfigApplied, UnknownSubject, unixMs(g.now()), map[string]any{
			"testPeriodMs":    cfg.TestPeriodMs,
			"testFailAfterMs": cfg.TestFailAfterMs,
		}))

	case *HeartbeatMessage:

	case *HubPingMessage:
		g.registry.BindHub(m.HubID, proxy)
		g.markSeen(m.HubID)
		g.emit(newHubEvent(EventHubPing, m.HubID, g.eventTime(m.TS), map[string]any{
			"pos": m.Pos.jsonValue(),
		}))

	case *PortInMessage:
		g.registry.BindHub(m.HubID, proxy)
		g.markSeen(m.HubID)
		g.emit(newHubEvent(EventPortIn, m.HubID, g.eventTime(m.TS), map[string]any{
			"side":  m.Side.jsonValue(),
			"level": m.Level,
			"pos":   m.Pos.jsonValue(),
		}))

	case *ReaderScanMessage:
		g.registry.BindReader(m.ReaderID, proxy)
		g.emit(newReaderEvent(EventReaderScan, m.ReaderID, g.eventTime(m.TS), map[string]any{
			"keyName": m.KeyName,
			"player":  m.Player,
			"pos":     m.Pos.jsonValue(),
		}))

	default:
		g.logger.Errorf("Unhandled inbound message %T", msg)
	}
}

func (g *Gate) markSeen(hubID string) {
	g.liveness.MarkSeen(hubID, g.now(), g.emit)
}

// eventTime prefers the client-supplied timestamp
func (g *Gate) eventTime(ts *int64) int64 {
	if ts != nil {
		return *ts
	}
	return unixMs(g.now())
}

func (g *Gate) emit(ev Event) {
	metrics.RecordEvent(string(ev.Type))
	g.logger.Infof("%s %s %v", ev.Type, ev.Subject(), ev.Payload)
	g.queue.Enqueue(ev)
}

// Health returns the counters reported by GET /health
func (g *Gate) Health() HealthSnapshot {
	clients, _, readers := g.registry.Counts()
	return HealthSnapshot{
		OK:             true,
		WSClients:      clients,
		HubsTracked:    g.liveness.Count(),
		ReadersTracked: readers,
		Queue:          g.queue.Len(),
		WebhookURL:     g.config.WebhookURL,
		RuntimeCfg:     g.runtime.Get(),
	}
}

// Registry returns the connection registry
func (g *Gate) Registry() *Registry { return g.registry }

// Liveness returns the hub liveness table
func (g *Gate) Liveness() *Liveness { return g.liveness }

// Queue returns the delivery queue
func (g *Gate) Queue() *Queue { return g.queue }

// Runtime returns the runtime configuration store
func (g *Gate) Runtime() *runtimecfg.Store { return g.runtime }

// Now returns the gate's clock reading
func (g *Gate) Now() time.Time { return g.now() }

type serverMessage struct {
	Type            string `json:"type"`
	ClientID        string `json:"clientId,omitempty"`
	TestPeriodMs    int64  `json:"testPeriodMs"`
	TestFailAfterMs int64  `json:"testFailAfterMs"`
}

// serverConfigMessage builds SERVER_HELLO when clientID is set, SERVER_CONFIG otherwise
func serverConfigMessage(cfg runtimecfg.Config, clientID string) serverMessage {
	msgType := "SERVER_CONFIG"
	if clientID != "" {
		msgType = "SERVER_HELLO"
	}
	return serverMessage{
		Type:            msgType,
		ClientID:        clientID,
		TestPeriodMs:    cfg.TestPeriodMs,
		TestFailAfterMs: cfg.TestFailAfterMs,
	}
}
