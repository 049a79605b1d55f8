package channels

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// senderQueueDepth is the per-sender buffer. When a single user floods
// faster than their handler chain drains, intake for the whole channel
// blocks rather than reordering or dropping that user's messages.
const senderQueueDepth = 64

// channelEntry holds a running channel and its config fingerprint.
type channelEntry struct {
	channel     Channel
	cancel      context.CancelFunc
	wg          sync.WaitGroup // tracks the intake goroutine and sender workers
	platform    string
	fingerprint string

	mu     sync.Mutex
	queues map[string]chan Message // per-sender ordered queues
}

// Dispatcher manages active channels and routes inbound messages through a
// processing pipeline. It watches the SQLite channels table for changes and
// creates/closes channels accordingly.
//
// Ordering model: each sender gets a dedicated queue and worker goroutine,
// so a sender's messages are handled strictly in arrival order — a later
// message always observes the conversation state left by the previous one.
// Distinct senders run concurrently and never block each other, except for
// the optional global concurrency cap (WithMaxConcurrent).
type Dispatcher struct {
	mu        sync.RWMutex
	channels  map[string]*channelEntry
	factories map[string]ChannelFactory
	handler   InboundHandler
	logger    *slog.Logger

	// lifecycleCtx is a long-lived context that parents all channel listen
	// contexts. It is independent of any request context passed to Reload,
	// so that channels survive beyond a single Reload call.
	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc

	// sem is a semaphore channel used when maxConcurrent > 0 to limit
	// concurrent InboundHandler calls across all senders.
	sem chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMaxConcurrent sets the maximum number of concurrent InboundHandler
// calls across all senders. Use this to prevent unbounded goroutine growth
// when many users produce messages faster than the handler (typically an
// AI call) can process them. Zero or negative means unlimited (default).
// Per-sender ordering is preserved regardless of this setting.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// NewDispatcher creates a Dispatcher with the given inbound handler.
// Register platform factories before calling Watch.
func NewDispatcher(handler InboundHandler, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		channels:        make(map[string]*channelEntry),
		factories:       make(map[string]ChannelFactory),
		handler:         handler,
		logger:          slog.Default(),
		lifecycleCtx:    ctx,
		lifecycleCancel: cancel,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RegisterPlatform registers a ChannelFactory for a platform name.
// Must be called before Watch. Example: d.RegisterPlatform("telegram", TelegramFactory())
func (d *Dispatcher) RegisterPlatform(platform string, f ChannelFactory) {
	d.mu.Lock()
	d.factories[platform] = f
	d.mu.Unlock()
}

// Send sends an outbound message through the named channel.
// Returns ErrChannelNotFound if the channel doesn't exist or is not active.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	d.mu.RLock()
	entry, ok := d.channels[msg.ChannelName]
	d.mu.RUnlock()

	if !ok {
		return &ErrChannelNotFound{Channel: msg.ChannelName}
	}
	return entry.channel.Send(ctx, msg)
}

// Status returns the ChannelStatus for a named channel.
// Returns ok=false if the channel is not active.
func (d *Dispatcher) Status(name string) (ChannelStatus, bool) {
	d.mu.RLock()
	entry, ok := d.channels[name]
	d.mu.RUnlock()

	if !ok {
		return ChannelStatus{}, false
	}
	return entry.channel.Status(), true
}

// channelRow is an internal representation of a row in the channels table.
type channelRow struct {
	Name      string
	Platform  string
	Enabled   bool
	Config    json.RawMessage
	AuthState json.RawMessage
}

// fingerprint returns a string that changes when the channel config changes.
//
// Intentionally excludes auth_state: authentication state is managed by
// platform SDKs at runtime. The auth_state column in the channels table is
// a backup/export, not a reload trigger.
func (cr channelRow) fingerprint() string {
	return cr.Platform + "|" + string(cr.Config)
}

// Reload reads the channels table and reconciles the active channel set.
// New enabled channels are started, removed or disabled channels are closed,
// and channels with changed config are restarted.
//
// Channel listen contexts are parented to the Dispatcher's lifecycle context,
// not the ctx passed here. This ensures that channels survive beyond a
// short-lived request context (e.g. an admin HTTP handler with a timeout).
func (d *Dispatcher) Reload(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT name, platform, enabled, COALESCE(config, '{}'), COALESCE(auth_state, '{}') FROM channels`)
	if err != nil {
		return fmt.Errorf("channels: query channels: %w", err)
	}
	defer rows.Close()

	desired := make(map[string]channelRow)
	for rows.Next() {
		var cr channelRow
		var cfgStr, authStr string
		var enabled int
		if err := rows.Scan(&cr.Name, &cr.Platform, &enabled, &cfgStr, &authStr); err != nil {
			return fmt.Errorf("channels: scan channel: %w", err)
		}
		cr.Enabled = enabled == 1
		cr.Config = json.RawMessage(cfgStr)
		cr.AuthState = json.RawMessage(authStr)
		desired[cr.Name] = cr
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("channels: rows: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Close channels that were removed or disabled.
	for name, entry := range d.channels {
		cr, exists := desired[name]
		if !exists || !cr.Enabled {
			d.closeEntry(name, entry)
			delete(d.channels, name)
			continue
		}
		// Close and recreate if fingerprint changed.
		if cr.fingerprint() != entry.fingerprint {
			d.closeEntry(name, entry)
			delete(d.channels, name)
		}
	}

	// Start new or restarted channels.
	for name, cr := range desired {
		if !cr.Enabled {
			continue
		}
		if _, active := d.channels[name]; active {
			// Already running with same fingerprint.
			continue
		}

		factory, ok := d.factories[cr.Platform]
		if !ok {
			d.logger.Warn("no factory for platform",
				"channel", name, "platform", cr.Platform)
			continue
		}

		ch, err := factory(name, cr.Config)
		if err != nil {
			d.logger.Error("channel factory failed",
				"channel", name, "platform", cr.Platform, "error", err)
			continue
		}

		// Use the dispatcher's lifecycle context, not the request ctx.
		listenCtx, cancel := context.WithCancel(d.lifecycleCtx)
		entry := &channelEntry{
			channel:     ch,
			cancel:      cancel,
			platform:    cr.Platform,
			fingerprint: cr.fingerprint(),
			queues:      make(map[string]chan Message),
		}
		d.channels[name] = entry

		// Start the intake loop, tracked by WaitGroup.
		entry.wg.Add(1)
		go d.intake(listenCtx, name, entry)

		d.logger.Info("channel started",
			"channel", name, "platform", cr.Platform)
	}

	d.logger.Info("channels reloaded",
		"active", len(d.channels),
		"configured", len(desired))

	return nil
}

// intake reads inbound messages from a channel and routes each to its
// sender's ordered queue, spawning a worker per sender on first contact.
func (d *Dispatcher) intake(ctx context.Context, name string, entry *channelEntry) {
	defer entry.wg.Done()
	msgs := entry.channel.Listen(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				d.logger.Info("channel listen closed", "channel", name)
				return
			}
			d.route(ctx, name, entry, msg)
		}
	}
}

// route enqueues msg on its sender's queue, creating the queue and worker
// if this is the sender's first message on this channel instance. Workers
// live until the channel's listen context is cancelled; the map is bounded
// by the number of distinct senders seen.
func (d *Dispatcher) route(ctx context.Context, name string, entry *channelEntry, msg Message) {
	entry.mu.Lock()
	q, ok := entry.queues[msg.SenderID]
	if !ok {
		q = make(chan Message, senderQueueDepth)
		entry.queues[msg.SenderID] = q
		entry.wg.Add(1)
		go d.senderWorker(ctx, name, entry, msg.SenderID, q)
	}
	entry.mu.Unlock()

	// Blocking send: backpressure on the channel intake rather than
	// reordering or dropping a flooding sender's messages.
	select {
	case q <- msg:
	case <-ctx.Done():
	}
}

// senderWorker drains one sender's queue in order, calling the
// InboundHandler for each message and sending its responses back through
// the same channel.
func (d *Dispatcher) senderWorker(ctx context.Context, name string, entry *channelEntry, sender string, q <-chan Message) {
	defer entry.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q:
			// Acquire semaphore slot if concurrency is limited.
			if d.sem != nil {
				select {
				case d.sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}

			responses, err := d.handler(ctx, msg)

			if d.sem != nil {
				<-d.sem
			}

			if err != nil {
				d.logger.Error("inbound handler failed",
					"channel", name, "sender", sender, "error", err)
				continue
			}

			for _, resp := range responses {
				resp.ChannelName = name
				resp.Direction = Outbound
				if err := entry.channel.Send(ctx, resp); err != nil {
					d.logger.Error("send response failed",
						"channel", name, "recipient", resp.RecipientID, "error", err)
				}
			}
		}
	}
}

// closeEntry shuts down a channel entry and waits for its intake and sender
// worker goroutines to exit before returning, preventing goroutine leaks on
// rapid reconnect.
func (d *Dispatcher) closeEntry(name string, entry *channelEntry) {
	entry.cancel()
	if err := entry.channel.Close(); err != nil {
		d.logger.Error("channel close failed",
			"channel", name, "platform", entry.platform, "error", err)
	} else {
		d.logger.Info("channel stopped",
			"channel", name, "platform", entry.platform)
	}
	entry.wg.Wait()
}

// Close shuts down all active channels and cancels the lifecycle context.
func (d *Dispatcher) Close() error {
	d.lifecycleCancel()
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, entry := range d.channels {
		d.closeEntry(name, entry)
	}
	d.channels = make(map[string]*channelEntry)
	return nil
}
