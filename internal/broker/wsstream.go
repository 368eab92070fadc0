package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	wsWriteWait          = 10 * time.Second
	wsBaseReconnectDelay = 1 * time.Second
	wsMaxReconnectDelay  = 30 * time.Second
)

// EventStreamServer exposes a MockBroker's event feed as a websocket
// broadcast — the wire-level stand-in for a venue's order-events push
// channel. Every connected client receives every event from the moment
// it connects onward. Grounded on the teacher's
// internal/clients/tradernet.MarketStatusWebSocket, server side built
// fresh since the teacher only consumed a vendor feed, never served one.
type EventStreamServer struct {
	source <-chan Event
	log    zerolog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewEventStreamServer wraps source (typically a MockBroker's Events()
// channel) for websocket broadcast.
func NewEventStreamServer(source <-chan Event, log zerolog.Logger) *EventStreamServer {
	s := &EventStreamServer{
		source:  source,
		log:     log.With().Str("component", "broker_event_stream_server").Logger(),
		clients: make(map[*websocket.Conn]struct{}),
	}
	go s.pump()
	return s
}

func (s *EventStreamServer) pump() {
	for e := range s.source {
		s.broadcast(e)
	}
}

func (s *EventStreamServer) broadcast(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal broker event for broadcast")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteWait)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			s.log.Warn().Err(err).Msg("broadcast write failed, dropping client")
			delete(s.clients, conn)
		}
		cancel()
	}
}

// ServeHTTP upgrades the connection and registers it for broadcast.
func (s *EventStreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket accept failed")
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Keep the connection open until the peer closes it; the server
	// never expects client-to-server messages on this stream.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

// EventStream is a reconnecting websocket client that turns a remote
// EventStreamServer's broadcast back into a local Go channel of Events.
// The dial/read/reconnect-with-backoff shape is the same one the
// teacher's MarketStatusWebSocket uses for a vendor market-status feed.
type EventStream struct {
	url string
	log zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopped  bool
	stopChan chan struct{}
	out      chan Event
}

// DialEventStream connects to a running EventStreamServer at url and
// begins forwarding events onto the returned stream's Out() channel.
func DialEventStream(ctx context.Context, url string, log zerolog.Logger) (*EventStream, error) {
	es := &EventStream{
		url:      url,
		log:      log.With().Str("component", "broker_event_stream_client").Logger(),
		stopChan: make(chan struct{}),
		out:      make(chan Event, 256),
	}
	if err := es.connect(ctx); err != nil {
		return nil, err
	}
	go es.readLoop()
	return es, nil
}

func (es *EventStream) connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, es.url, nil)
	if err != nil {
		return fmt.Errorf("broker: dial event stream: %w", err)
	}
	es.mu.Lock()
	es.conn = conn
	es.mu.Unlock()
	return nil
}

func (es *EventStream) readLoop() {
	backoffAttempt := 0
	for {
		es.mu.Lock()
		conn := es.conn
		stopped := es.stopped
		es.mu.Unlock()
		if stopped {
			return
		}
		if conn == nil {
			delay := backoff(backoffAttempt)
			backoffAttempt++
			select {
			case <-time.After(delay):
			case <-es.stopChan:
				return
			}
			if err := es.connect(context.Background()); err != nil {
				es.log.Warn().Err(err).Msg("reconnect failed")
				continue
			}
			continue
		}

		_, data, err := conn.Read(context.Background())
		if err != nil {
			es.log.Warn().Err(err).Msg("event stream read failed, will reconnect")
			es.mu.Lock()
			es.conn = nil
			es.mu.Unlock()
			continue
		}
		backoffAttempt = 0

		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			es.log.Error().Err(err).Msg("decode broker event")
			continue
		}
		select {
		case es.out <- e:
		case <-es.stopChan:
			return
		}
	}
}

func backoff(attempt int) time.Duration {
	d := float64(wsBaseReconnectDelay) * math.Pow(2, float64(attempt))
	if d > float64(wsMaxReconnectDelay) {
		d = float64(wsMaxReconnectDelay)
	}
	return time.Duration(d)
}

// Out returns the channel of events forwarded from the remote stream.
func (es *EventStream) Out() <-chan Event {
	return es.out
}

// Close stops the read loop and closes the underlying connection.
func (es *EventStream) Close() error {
	es.mu.Lock()
	if es.stopped {
		es.mu.Unlock()
		return nil
	}
	es.stopped = true
	conn := es.conn
	es.mu.Unlock()
	close(es.stopChan)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}
