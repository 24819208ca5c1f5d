package sproutsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sproutlog/sproutlog/internal/model"
)

const (
	eventsPath              = "/api/v1/events"
	eventsBufferSize        = 64
	eventsMaxMessageSize    = 4 * 1024 * 1024
	eventsReconnectDelay    = 1 * time.Second
	eventsMaxReconnectDelay = 8 * time.Second
	eventsConnectTimeout    = 10 * time.Second
)

// RemoteEvent is one realtime push from the server: the authoritative list
// of records for a parent after a remote change. Records stays raw so each
// consumer decodes into its own entity type.
type RemoteEvent struct {
	EntityType model.EntityType `json:"entity_type"`
	ParentID   string           `json:"parent_id"`
	Records    json.RawMessage  `json:"records"`
}

// EventsAPI maintains the realtime websocket feed of remote changes.
// It reconnects on its own with jittered backoff until closed.
type EventsAPI struct {
	baseURL  string
	userID   string
	messages chan *RemoteEvent
	onState  func(connected bool)

	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newEventsAPI(baseURL string) *EventsAPI {
	return &EventsAPI{
		baseURL:  baseURL,
		messages: make(chan *RemoteEvent, eventsBufferSize),
	}
}

// SetUser sets the user whose changes the feed follows.
func (e *EventsAPI) SetUser(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userID = userID
}

// OnStateChange registers a callback fired on every socket connect and
// disconnect. The connectivity monitor uses it as a transport capability
// signal; redundant calls are fine because the monitor collapses them.
func (e *EventsAPI) OnStateChange(fn func(connected bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = fn
}

// IsConnected reports whether the socket is currently up.
func (e *EventsAPI) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Get returns the channel of remote change events.
func (e *EventsAPI) Get() <-chan *RemoteEvent {
	return e.messages
}

// Connect starts the connection manager. It returns after the first dial
// attempt; later drops are retried in the background.
func (e *EventsAPI) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.cancel = cancel
	e.mu.Unlock()

	conn, err := e.dial(ctx)
	if err != nil {
		slog.Warn("events connect failed, will retry", "error", err)
	} else {
		e.setConnected(true)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, conn)
	}()
	return nil
}

// Close tears down the socket and stops reconnecting.
func (e *EventsAPI) Close() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	slog.Debug("events closed")
}

// run reads the current connection until it drops, then reconnects with
// jittered exponential backoff.
func (e *EventsAPI) run(ctx context.Context, conn *websocket.Conn) {
	for {
		if conn != nil {
			e.readLoop(ctx, conn)
			conn.Close(websocket.StatusNormalClosure, "reconnect")
			e.setConnected(false)
		}

		if ctx.Err() != nil {
			return
		}

		delay := eventsReconnectDelay
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			slog.Info("events reconnecting", "delay", delay)
			next, err := e.dial(ctx)
			if err == nil {
				conn = next
				e.setConnected(true)
				break
			}

			delay = min(delay*2, eventsMaxReconnectDelay)
			jitter := 0.75 + rand.Float64()*0.5
			delay = time.Duration(float64(delay) * jitter)
		}
	}
}

func (e *EventsAPI) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("events read", "error", err)
			}
			return
		}

		var event RemoteEvent
		if err := jsonUnmarshal(raw, &event); err != nil {
			slog.Warn("events decode", "error", err)
			continue
		}

		select {
		case e.messages <- &event:
		default:
			slog.Warn("events buffer full, dropped", "entityType", event.EntityType, "parent", event.ParentID)
		}
	}
}

func (e *EventsAPI) dial(ctx context.Context) (*websocket.Conn, error) {
	fullURL, err := e.fullURL()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, eventsConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("events dial %s: %w", fullURL, err)
	}
	conn.SetReadLimit(eventsMaxMessageSize)
	return conn, nil
}

func (e *EventsAPI) fullURL() (string, error) {
	e.mu.RLock()
	userID := e.userID
	e.mu.RUnlock()

	wsBase := strings.Replace(e.baseURL, "http", "ws", 1)
	joined, err := url.JoinPath(wsBase, eventsPath)
	if err != nil {
		return "", fmt.Errorf("events url: %w", err)
	}
	return joined + "?user=" + url.QueryEscape(userID), nil
}

func (e *EventsAPI) setConnected(connected bool) {
	e.mu.Lock()
	changed := e.connected != connected
	e.connected = connected
	onState := e.onState
	e.mu.Unlock()

	if changed {
		slog.Info("events socket", "connected", connected)
	}
	if onState != nil {
		onState(connected)
	}
}

// DecodeChildren decodes the event payload as a list of child profiles.
func (ev *RemoteEvent) DecodeChildren() ([]model.Child, error) {
	var children []model.Child
	if err := jsonUnmarshal(ev.Records, &children); err != nil {
		return nil, fmt.Errorf("decode children event: %w", err)
	}
	return children, nil
}

// DecodeDiary decodes the event payload as a list of diary entries.
func (ev *RemoteEvent) DecodeDiary() ([]model.DiaryEntry, error) {
	var entries []model.DiaryEntry
	if err := jsonUnmarshal(ev.Records, &entries); err != nil {
		return nil, fmt.Errorf("decode diary event: %w", err)
	}
	return entries, nil
}

// DecodeMedia decodes the event payload as a list of media records.
func (ev *RemoteEvent) DecodeMedia() ([]model.MediaRecord, error) {
	var records []model.MediaRecord
	if err := jsonUnmarshal(ev.Records, &records); err != nil {
		return nil, fmt.Errorf("decode media event: %w", err)
	}
	return records, nil
}
