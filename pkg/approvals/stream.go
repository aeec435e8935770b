package approvals

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/bturcanu/fleetgov/pkg/governance"
	"github.com/bturcanu/fleetgov/pkg/query"
	"github.com/bturcanu/fleetgov/pkg/store"
)

const (
	streamEventReady   = "ready"
	streamEventChanged = "changed"

	defaultSubscriberBuffer = 64
	streamWriteTimeout      = 5 * time.Second
)

// StreamEvent tells dashboards that a collection changed. Clients re-read
// through the REST API; the summary saves a round trip for stat cards.
type StreamEvent struct {
	Type    string          `json:"type"`
	Kind    governance.Kind `json:"kind,omitempty"`
	Version uint64          `json:"version,omitempty"`
	Summary *query.Summary  `json:"summary,omitempty"`
	At      time.Time       `json:"at"`
}

// Hub turns store notifications into StreamEvents and fans them out to
// websocket subscribers. A slow subscriber loses events rather than
// blocking the store.
type Hub struct {
	store *store.Store
	log   *slog.Logger

	mu       sync.Mutex
	subs     map[chan StreamEvent]struct{}
	versions map[governance.Kind]uint64
	dropped  uint64

	droppedCounter metric.Int64Counter
}

func NewHub(st *store.Store, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		store:    st,
		log:      log,
		subs:     make(map[chan StreamEvent]struct{}),
		versions: make(map[governance.Kind]uint64, len(governance.Kinds)),
	}
	for _, k := range governance.Kinds {
		h.versions[k] = st.Version(k)
	}
	var err error
	if h.droppedCounter, err = otel.Meter(instrumentationName).Int64Counter("fleetgov.stream_dropped",
		metric.WithDescription("Change events discarded for subscribers with a full buffer")); err != nil {
		log.Warn("stream dropped counter unavailable", "error", err)
		h.droppedCounter = noop.Int64Counter{}
	}
	return h
}

// Start registers the hub as a store listener. The returned function
// detaches it.
func (h *Hub) Start() (stop func()) {
	return h.store.Subscribe(h.onChange)
}

// onChange runs synchronously inside store.Mutate. It only reads snapshots
// and never blocks on subscribers.
func (h *Hub) onChange() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range governance.Kinds {
		v := h.store.Version(k)
		if v == h.versions[k] {
			continue
		}
		h.versions[k] = v
		summary := query.CountByStatus(h.store.Snapshot(k))
		h.broadcastLocked(StreamEvent{Type: streamEventChanged, Kind: k, Version: v, Summary: &summary, At: time.Now().UTC()})
	}
}

func (h *Hub) broadcastLocked(ev StreamEvent) {
	var lost int64
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			lost++
		}
	}
	if lost == 0 {
		return
	}
	h.dropped += uint64(lost)
	h.droppedCounter.Add(context.Background(), lost, metric.WithAttributes(attribute.String("kind", string(ev.Kind))))
	h.log.Debug("stream subscribers lagging", "kind", ev.Kind, "version", ev.Version, "dropped", lost)
}

// Subscribe returns a buffered channel receiving every future event.
func (h *Hub) Subscribe(buf int) chan StreamEvent {
	if buf <= 0 {
		buf = defaultSubscriberBuffer
	}
	ch := make(chan StreamEvent, buf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (h *Hub) Unsubscribe(ch chan StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Subscribers reports the number of attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many events have been discarded across all
// subscribers since the hub was created.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// ServeWS is GET /v1/stream. originPatterns restricts cross-origin
// browsers; empty allows same-origin only.
func (h *Hub) ServeWS(originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := &websocket.AcceptOptions{}
		if len(originPatterns) > 0 {
			opts.OriginPatterns = originPatterns
		}
		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			h.log.WarnContext(r.Context(), "websocket accept failed", "error", err)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		sub := h.Subscribe(defaultSubscriberBuffer)
		defer h.Unsubscribe(sub)

		if err := wsjson.Write(ctx, conn, StreamEvent{Type: streamEventReady, At: time.Now().UTC()}); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
			return
		}
		readErr := make(chan error, 1)
		go func() {
			for {
				if _, _, err := conn.Read(ctx); err != nil {
					readErr <- err
					return
				}
			}
		}()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			case <-readErr:
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			case evt, ok := <-sub:
				if !ok {
					_ = conn.Close(websocket.StatusNormalClosure, "closed")
					return
				}
				writeCtx, cancelWrite := context.WithTimeout(ctx, streamWriteTimeout)
				err := wsjson.Write(writeCtx, conn, evt)
				cancelWrite()
				if err != nil {
					_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
					return
				}
			}
		}
	}
}
