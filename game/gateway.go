package game

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Sender delivers one named event to one connection. The Service fans out
// room-wide and GM-only deliveries on top of it, so tests can swap in a
// recorder and assert on the full event stream.
type Sender interface {
	Send(connID, event string, data any)
}

// Gateway is the websocket-backed Sender: a registry of live connections
// with buffered outbound queues. Slow consumers are dropped rather than
// allowed to stall the coordinator.
type Gateway struct {
	mu    sync.RWMutex
	conns map[string]*client
}

func NewGateway() *Gateway {
	return &Gateway{conns: make(map[string]*client)}
}

func (g *Gateway) register(c *client) {
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) unregister(connID string) {
	g.mu.Lock()
	c, ok := g.conns[connID]
	if ok {
		delete(g.conns, connID)
	}
	g.mu.Unlock()
	if ok {
		c.closeOutbound()
	}
}

// Send marshals the envelope and queues it on the target connection.
// Unknown or closing targets are ignored (the conn may have raced a
// disconnect).
func (g *Gateway) Send(connID, event string, data any) {
	g.mu.RLock()
	c, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return
	}

	frame, err := marshalEnvelope(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal outbound event")
		return
	}

	if !c.enqueue(frame) {
		log.Warn().Str("conn", connID).Str("event", event).Msg("outbound queue unavailable, dropping frame")
	}
}

func marshalEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// --- Fan-out helpers used by every handler. Callers hold the service lock.

func (s *Service) send(connID, event string, data any) {
	s.sender.Send(connID, event, data)
}

// broadcast delivers to every member of the room, players and GMs alike.
func (s *Service) broadcast(r *Room, event string, data any) {
	for _, id := range r.memberIDs() {
		s.sender.Send(id, event, data)
	}
}

// sendGMs delivers to the room's GM set only.
func (s *Service) sendGMs(r *Room, event string, data any) {
	for _, id := range r.gmList() {
		s.sender.Send(id, event, data)
	}
}

// sendPlayers delivers to players only, never GMs (screamers, haptics).
func (s *Service) sendPlayers(r *Room, event string, data any) {
	for _, id := range append([]string(nil), r.playerOrder...) {
		s.sender.Send(id, event, data)
	}
}

func (s *Service) presence(r *Room) PresencePayload {
	return PresencePayload{Players: r.publicPlayers(), GMs: r.gmList()}
}

func (s *Service) broadcastPresence(r *Room) {
	s.broadcast(r, EvtPresenceUpdate, s.presence(r))
}
