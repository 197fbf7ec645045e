package game

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/houssamlaghzil/clainjo-horror/oracle"
)

// Arbiter is the external text-generation oracle arbitrating wizard rounds.
type Arbiter interface {
	Arbitrate(ctx context.Context, req oracle.Request) (map[string]oracle.PlayerResult, error)
}

// ImageGenerator is the opaque image service behind the relic forge.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service is the authoritative session coordinator. Every inbound event is
// handled to completion under one mutex, so room mutations are atomic per
// event; only external calls (oracle, image generation) run unlocked.
type Service struct {
	mu     sync.Mutex
	store  *Store
	sender Sender

	arbiter Arbiter
	forge   ImageGenerator
	version string

	// injectable for tests
	now     func() time.Time
	rollDie func(sides int) int
	newID   func() string

	malformed int

	// process-wide last wizard error, feeds the health probe
	lastWizardErrAt  time.Time
	lastWizardErrMsg string
}

func NewService(store *Store, sender Sender, arbiter Arbiter, forge ImageGenerator, version string) *Service {
	return &Service{
		store:   store,
		sender:  sender,
		arbiter: arbiter,
		forge:   forge,
		version: version,
		now:     time.Now,
		rollDie: func(sides int) int { return 1 + rand.IntN(sides) },
		newID:   uuid.NewString,
	}
}

// Version is the app version announced in server:meta.
func (s *Service) Version() string { return s.version }

// Malformed reports how many inbound frames were rejected at the boundary.
func (s *Service) Malformed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.malformed
}

// WizardStatus exposes the process-wide last arbitration error for the
// health probe: ok, or the failure timestamp (unix ms) and message.
func (s *Service) WizardStatus() (ok bool, since int64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastWizardErrAt.IsZero() {
		return true, 0, ""
	}
	return false, s.lastWizardErrAt.UnixMilli(), s.lastWizardErrMsg
}

func (s *Service) countMalformed(event string) {
	s.mu.Lock()
	s.malformed++
	s.mu.Unlock()
	log.Debug().Str("event", event).Msg("dropping malformed frame")
}

func decode[T any](raw json.RawMessage, out *T) bool {
	return json.Unmarshal(raw, out) == nil
}

// Dispatch routes one inbound frame. Malformed envelopes, unknown events and
// undecodable payloads are dropped and counted; everything else is validated
// by the per-event handler (silent drop on authority/membership failures).
func (s *Service) Dispatch(connID string, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		s.countMalformed("")
		return
	}

	switch env.Event {
	case EvtJoin:
		var p JoinPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleJoin(connID, p)
	case EvtZoneSet:
		var p ZoneSetPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleZoneSet(connID, p)
	case EvtGMPlayerUpdate:
		var p SheetUpdatePayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleGMPlayerUpdate(connID, p)
	case EvtPlayerUpdate:
		var p SheetUpdatePayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handlePlayerUpdate(connID, p)
	case EvtChatMessage:
		var p ChatPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleChat(connID, p)
	case EvtHintSend:
		var p HintSendPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleHintSend(connID, p)
	case EvtHintClaim:
		var p HintRefPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleHintClaim(connID, p)
	case EvtHintOpen:
		var p HintRefPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleHintOpen(connID, p)
	case EvtDiceRoll:
		var p DiceRollPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleDiceRoll(connID, p)
	case EvtScreamerSend:
		var p ScreamerSendPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleScreamerSend(connID, p)
	case EvtHapticsStart:
		var p HapticsPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleHapticsStart(connID, p)
	case EvtHapticsStop:
		var p HapticsPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleHapticsStop(connID, p)
	case EvtStateGet:
		var p RoomRefPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleStateGet(connID, p)
	case EvtWizardToggle:
		var p WizardTogglePayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleWizardToggle(connID, p)
	case EvtWizardSubmit:
		var p WizardSubmitPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleWizardSubmit(connID, p)
	case EvtWizardForce:
		var p RoomRefPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleWizardForce(connID, p)
	case EvtWizardRetry:
		var p RoomRefPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleWizardRetry(connID, p)
	case EvtWizardManual:
		var p WizardResultsPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleWizardResults(connID, p, sourceManual)
	case EvtWizardPublish:
		var p WizardResultsPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleWizardResults(connID, p, sourceOracle)
	case EvtWizardGet:
		var p RoomRefPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleWizardGet(connID, p)
	case EvtItemGenerate:
		var p RoomRefPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleItemGenerate(connID, p)
	case EvtItemReset:
		var p ItemResetPayload
		if !decode(env.Data, &p) {
			s.countMalformed(env.Event)
			return
		}
		s.handleItemReset(connID, p)
	default:
		s.countMalformed(env.Event)
	}
}

// HandleConnect announces server metadata to a freshly opened connection.
func (s *Service) HandleConnect(connID string) {
	s.send(connID, EvtServerMeta, ServerMetaPayload{Version: s.version})
}

// handleJoin resolves or creates the room, merges the server-held snapshot
// over the client-supplied sheet (server wins on every field), and announces
// the merged state.
func (s *Service) handleJoin(connID string, p JoinPayload) {
	if p.RoomID == "" || p.Role == "" || p.Name == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.GetOrCreate(p.RoomID)
	s.store.bindConn(connID, p.RoomID)

	var existing *Player
	if snap, ok := room.Snapshots[p.Name]; ok {
		existing = &snap
	} else {
		// No snapshot: a live entry with the same name is a stale socket
		// left behind by an abrupt reconnect. Adopt it and purge the old
		// connection mapping.
		for oldID, live := range room.Players {
			if live.Name == p.Name && oldID != connID {
				adopted := *live
				existing = &adopted
				room.removePlayer(oldID)
				s.store.unbindConn(oldID)
				delete(room.Modifiers, oldID)
				delete(room.PendingHints, oldID)
				break
			}
		}
	}

	player := &Player{
		ConnID:       connID,
		Role:         p.Role,
		Name:         p.Name,
		HP:           p.HP,
		Money:        p.Money,
		Inventory:    p.Inventory,
		Strength:     p.Strength,
		Intelligence: p.Intelligence,
		Agility:      p.Agility,
		Skills:       p.Skills,
	}
	if existing != nil {
		player.HP = existing.HP
		player.Money = existing.Money
		player.Inventory = existing.Inventory
		player.Strength = existing.Strength
		player.Intelligence = existing.Intelligence
		player.Agility = existing.Agility
		player.Skills = existing.Skills
		player.ForgeUses = existing.ForgeUses
	}

	if p.Role == RoleGM {
		room.addGM(connID)
	} else {
		room.addPlayer(player)
	}

	room.Snapshots[p.Name] = *player

	log.Info().Str("room", room.ID).Str("name", p.Name).Str("role", p.Role).
		Bool("restored", existing != nil).Msg("player joined")

	s.send(connID, EvtStateInit, StateInitPayload{
		Players: room.publicPlayers(),
		GMs:     room.gmList(),
		DiceLog: room.DiceLog,
		You:     player,
		Zone:    room.Zone,
	})
	s.broadcastPresence(room)
}

// HandleDisconnect drops the connection from every room structure. The
// by-name snapshot is deliberately kept so a reconnect restores the sheet.
func (s *Service) HandleDisconnect(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.RoomOf(connID)
	if room == nil {
		return
	}

	room.removePlayer(connID)
	room.removeGM(connID)
	s.store.unbindConn(connID)
	delete(room.Modifiers, connID)
	delete(room.PendingHints, connID)

	log.Info().Str("room", room.ID).Str("conn", connID).Msg("connection left")
	s.broadcastPresence(room)
}

func (s *Service) handleZoneSet(connID string, p ZoneSetPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isGM(connID) {
		return
	}
	zone := strings.TrimSpace(p.Zone)
	if zone == "" {
		zone = DefaultZone
	}
	room.Zone = zone
	s.broadcast(room, EvtZoneUpdate, ZoneUpdatePayload{Zone: zone})
}

// handleGMPlayerUpdate lets a GM edit another player's sheet; the lock rules
// do not apply to GMs.
func (s *Service) handleGMPlayerUpdate(connID string, p SheetUpdatePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isGM(connID) || p.Target == "" {
		return
	}
	player, ok := room.Players[p.Target]
	if !ok {
		return
	}

	applyNumericFields(player, p)
	if p.Inventory != nil {
		player.Inventory = *p.Inventory
	}
	if p.Skills != nil {
		player.Skills = *p.Skills
	}

	room.Snapshots[player.Name] = *player
	s.broadcastPresence(room)
}

// handlePlayerUpdate is the self-service sheet update. Locked inventory and
// skill entries are preserved; client attempts to introduce or unlock locked
// entries are silently dropped.
func (s *Service) handlePlayerUpdate(connID string, p SheetUpdatePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil {
		return
	}
	player, ok := room.Players[connID]
	if !ok {
		return
	}

	applyNumericFields(player, p)
	if p.Inventory != nil {
		player.Inventory = mergeItems(player.Inventory, *p.Inventory)
	}
	if p.Skills != nil {
		player.Skills = mergeSkills(player.Skills, *p.Skills)
	}

	room.Snapshots[player.Name] = *player
	s.broadcastPresence(room)
}

func applyNumericFields(player *Player, p SheetUpdatePayload) {
	if p.HP != nil {
		player.HP = *p.HP
	}
	if p.Money != nil {
		player.Money = *p.Money
	}
	if p.Strength != nil {
		player.Strength = *p.Strength
	}
	if p.Intelligence != nil {
		player.Intelligence = *p.Intelligence
	}
	if p.Agility != nil {
		player.Agility = *p.Agility
	}
}

func entryKey(name, description string) string {
	return strings.TrimSpace(name) + "::" + strings.TrimSpace(description)
}

// mergeItems keeps every existing locked item and adds incoming unlocked
// ones. Incoming entries flagged locked are dropped: players cannot flip
// lock state in either direction.
func mergeItems(existing, incoming []Item) []Item {
	out := make([]Item, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{})

	for _, it := range existing {
		if !it.Locked {
			continue
		}
		k := entryKey(it.Name, it.Description)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	for _, it := range incoming {
		k := entryKey(it.Name, it.Description)
		if _, dup := seen[k]; dup {
			continue
		}
		if it.Locked {
			continue
		}
		seen[k] = struct{}{}
		it.Locked = false
		out = append(out, it)
	}
	return out
}

func mergeSkills(existing, incoming []Skill) []Skill {
	out := make([]Skill, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{})

	for _, sk := range existing {
		if !sk.Locked {
			continue
		}
		k := entryKey(sk.Name, sk.Description)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, sk)
	}
	for _, sk := range incoming {
		k := entryKey(sk.Name, sk.Description)
		if _, dup := seen[k]; dup {
			continue
		}
		if sk.Locked {
			continue
		}
		seen[k] = struct{}{}
		sk.Locked = false
		out = append(out, sk)
	}
	return out
}

func (s *Service) handleChat(connID string, p ChatPayload) {
	if p.RoomID == "" || p.Text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil {
		return
	}

	from := p.From
	if from == "" {
		from = connID
	}
	msg := ChatMessage{
		ID:   s.newID(),
		Text: p.Text,
		From: from,
		To:   "all",
		TS:   s.now().UnixMilli(),
	}

	if !p.To.All && len(p.To.IDs) > 0 {
		msg.To = strings.Join(p.To.IDs, ",")
		for _, id := range p.To.IDs {
			s.send(id, EvtChatMessage, msg)
		}
		// echo back to the sender
		s.send(connID, EvtChatMessage, msg)
		return
	}
	s.broadcast(room, EvtChatMessage, msg)
}

func (s *Service) handleScreamerSend(connID string, p ScreamerSendPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isGM(connID) {
		return
	}

	id := p.ScreamerID
	if id == "" {
		id = ScreamerDefaultID
	}
	intensity := ScreamerDefaultIntensity
	if p.Intensity != nil {
		intensity = *p.Intensity
	}
	payload := ScreamerTriggerPayload{
		ID:        id,
		Intensity: intensity,
		ImageURL:  p.ImageURL,
		SoundURL:  p.SoundURL,
	}

	if p.Targets.All || len(p.Targets.IDs) == 0 {
		s.sendPlayers(room, EvtScreamerTrigger, payload)
		return
	}
	for _, id := range p.Targets.IDs {
		s.send(id, EvtScreamerTrigger, payload)
	}
}

func (s *Service) handleHapticsStart(connID string, p HapticsPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isGM(connID) {
		return
	}

	// heartbeat is the only pattern clients know how to render
	bpm := int(math.Round(p.BPM))
	if p.BPM <= 0 {
		bpm = 60
	}
	bpm = min(160, max(50, bpm))
	payload := HapticsStartPayload{Pattern: "heartbeat", BPM: bpm}

	if p.Targets.All || len(p.Targets.IDs) == 0 {
		s.sendPlayers(room, EvtHapticsStart, payload)
		return
	}
	for _, id := range p.Targets.IDs {
		s.send(id, EvtHapticsStart, payload)
	}
}

func (s *Service) handleHapticsStop(connID string, p HapticsPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isGM(connID) {
		return
	}

	if p.Targets.All || len(p.Targets.IDs) == 0 {
		s.sendPlayers(room, EvtHapticsStop, struct{}{})
		return
	}
	for _, id := range p.Targets.IDs {
		s.send(id, EvtHapticsStop, struct{}{})
	}
}

func (s *Service) handleStateGet(connID string, p RoomRefPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isMember(connID) {
		return
	}
	wizard := room.wizardCompact()
	s.send(connID, EvtStateInit, StateInitPayload{
		Players: room.publicPlayers(),
		GMs:     room.gmList(),
		DiceLog: room.DiceLog,
		Wizard:  &wizard,
		Zone:    room.Zone,
	})
}
