// Package relaytest runs in-process relays for tests.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/relaymesh/internal/model"
)

// Server is a mock relay. It answers REQ with its stored events followed by
// EOSE and answers EVENT with OK.
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	events    []model.Event
	published []model.Event
	reqs      int
	closes    int
	silent    bool
	delay     time.Duration
	rejectMsg string
	closedMsg string
	conns     map[*websocket.Conn]struct{}
	accepted  int
	info      []byte
	infoHits  int
}

// DefaultInfo is the information document served unless SetInfo replaces it.
const DefaultInfo = `{"name":"relaytest","software":"relaymesh/relaytest","supported_nips":[1,11],"limitation":{"max_limit":500}}`

// NewServer starts a relay holding events. It is closed when the test ends.
func NewServer(t testing.TB, events ...model.Event) *Server {
	t.Helper()

	s := &Server{
		events: events,
		conns:  make(map[*websocket.Conn]struct{}),
		info:   []byte(DefaultInfo),
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			s.serveInfo(w, r)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()

		s.serve(conn)
	}))

	t.Cleanup(s.Close)
	return s
}

// URL returns the relay's ws:// address.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close stops the relay.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// DropConnections closes every open client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// SetInfo replaces the information document. Nil makes the relay answer
// plain HTTP requests with 404.
func (s *Server) SetInfo(doc []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = doc
}

// InfoRequests returns how many information document requests were served.
func (s *Server) InfoRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoHits
}

func (s *Server) serveInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	doc := s.info
	s.infoHits++
	s.mu.Unlock()

	if doc == nil || !strings.Contains(r.Header.Get("Accept"), "application/nostr+json") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/nostr+json")
	w.Write(doc)
}

// SetSilent makes the relay ignore REQ and EVENT frames.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// SetDelay delays every answer.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// SetReject makes the relay refuse published events with msg.
// An empty msg accepts again.
func (s *Server) SetReject(msg string) {
	s.mu.Lock()
	s.rejectMsg = msg
	s.mu.Unlock()
}

// SetClosed makes the relay answer REQ with CLOSED and msg.
func (s *Server) SetClosed(msg string) {
	s.mu.Lock()
	s.closedMsg = msg
	s.mu.Unlock()
}

// Published returns the events accepted or rejected so far.
func (s *Server) Published() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.published)
}

// Requests returns how many REQ frames the relay has seen.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs
}

// Closes returns how many CLOSE frames the relay has seen.
func (s *Server) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Connections returns how many websocket connections were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *Server) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var parts []json.RawMessage
		if err := json.Unmarshal(data, &parts); err != nil || len(parts) < 2 {
			continue
		}
		var label string
		json.Unmarshal(parts[0], &label)

		s.mu.Lock()
		silent, delay := s.silent, s.delay
		rejectMsg, closedMsg := s.rejectMsg, s.closedMsg
		s.mu.Unlock()

		switch label {
		case "REQ":
			s.mu.Lock()
			s.reqs++
			s.mu.Unlock()
			if silent {
				continue
			}
			time.Sleep(delay)

			var subID string
			json.Unmarshal(parts[1], &subID)

			if closedMsg != "" {
				conn.WriteJSON([]any{"CLOSED", subID, closedMsg})
				continue
			}

			var filters []model.Filter
			for _, raw := range parts[2:] {
				var f model.Filter
				if err := json.Unmarshal(raw, &f); err == nil {
					filters = append(filters, f)
				}
			}
			for _, ev := range s.match(filters) {
				conn.WriteJSON([]any{"EVENT", subID, ev})
			}
			conn.WriteJSON([]any{"EOSE", subID})

		case "CLOSE":
			s.mu.Lock()
			s.closes++
			s.mu.Unlock()

		case "EVENT":
			var ev model.Event
			if err := json.Unmarshal(parts[1], &ev); err != nil {
				continue
			}
			s.mu.Lock()
			s.published = append(s.published, ev)
			s.mu.Unlock()
			if silent {
				continue
			}
			time.Sleep(delay)

			if rejectMsg != "" {
				conn.WriteJSON([]any{"OK", ev.ID, false, rejectMsg})
			} else {
				conn.WriteJSON([]any{"OK", ev.ID, true, ""})
			}
		}
	}
}

// match returns stored events matching any filter, honoring each filter's limit.
func (s *Server) match(filters []model.Filter) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(filters) == 0 {
		return slices.Clone(s.events)
	}

	var out []model.Event
	for _, f := range filters {
		n := 0
		for _, ev := range s.events {
			if f.Limit > 0 && n >= f.Limit {
				break
			}
			if matches(f, ev) {
				out = append(out, ev)
				n++
			}
		}
	}
	return out
}

func matches(f model.Filter, ev model.Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}
