package game

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/houssamlaghzil/clainjo-horror/oracle"
)

const (
	sourceOracle = "oracle"
	sourceManual = "manual"
)

// handleWizardToggle starts or stops the Wizard Battle. Starting resets the
// failure counter and opens a new collecting round; stopping clears the
// round state but keeps the history and the round counter.
func (s *Service) handleWizardToggle(connID string, p WizardTogglePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isGM(connID) {
		return
	}

	room.Wizard.Active = p.Active
	room.Wizard.FailCount = 0
	if p.Active {
		s.startWizardRound(room)
	} else {
		room.Wizard.Submissions = make(map[string]Submission)
		room.Wizard.Locked = make(map[string]struct{})
		room.Wizard.Groups = nil
		room.Wizard.Resolving = false
	}
	s.broadcast(room, EvtWizardState, room.wizardCompact())
}

// startWizardRound advances the round counter, clears submissions and locks,
// and partitions current players into secret teams: pairs in join order,
// with a single leftover appended to the last pair as a trio.
func (s *Service) startWizardRound(room *Room) {
	room.Wizard.Round++
	room.Wizard.Submissions = make(map[string]Submission)
	room.Wizard.Locked = make(map[string]struct{})

	participants := append([]string(nil), room.playerOrder...)
	var groups [][]string
	for len(participants) >= 2 {
		groups = append(groups, []string{participants[0], participants[1]})
		participants = participants[2:]
	}
	if len(participants) == 1 {
		if len(groups) > 0 && WizardMaxTeam >= 3 {
			groups[len(groups)-1] = append(groups[len(groups)-1], participants[0])
		} else {
			groups = append(groups, []string{participants[0]})
		}
	}
	room.Wizard.Groups = groups

	log.Debug().Str("room", room.ID).Int("round", room.Wizard.Round).
		Int("groups", len(groups)).Msg("wizard round started")
}

// handleWizardSubmit records one spell per player per round. When every
// current player has submitted, arbitration starts automatically.
func (s *Service) handleWizardSubmit(connID string, p WizardSubmitPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.Wizard.Active {
		return
	}
	if _, ok := room.Players[connID]; !ok {
		return
	}
	if _, locked := room.Wizard.Locked[connID]; locked {
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return
	}

	room.Wizard.Submissions[connID] = Submission{Text: text, TS: s.now().UnixMilli()}
	room.Wizard.Locked[connID] = struct{}{}
	s.send(connID, EvtWizardLocked, WizardLockedPayload{Round: room.Wizard.Round})

	allSubmitted := true
	for _, id := range room.playerOrder {
		if _, ok := room.Wizard.Submissions[id]; !ok {
			allSubmitted = false
			break
		}
	}
	if allSubmitted {
		if room.Wizard.Resolving {
			return
		}
		s.broadcast(room, EvtWizardResolving, WizardResolvingPayload{Round: room.Wizard.Round})
		s.resolveWizardLocked(room)
		return
	}
	s.broadcast(room, EvtWizardState, room.wizardCompact())
}

// handleWizardForce lets the GM resolve a round with missing submissions
// (AFK players).
func (s *Service) handleWizardForce(connID string, p RoomRefPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.Wizard.Active || !room.isGM(connID) {
		return
	}
	if room.Wizard.Resolving {
		return
	}
	s.broadcast(room, EvtWizardResolving, WizardResolvingPayload{Round: room.Wizard.Round, Forced: true})
	s.resolveWizardLocked(room)
}

// handleWizardRetry re-invokes arbitration after exactly one failure; a
// second consecutive failure requires manual resolution.
func (s *Service) handleWizardRetry(connID string, p RoomRefPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.Wizard.Active || !room.isGM(connID) {
		return
	}
	if room.Wizard.FailCount != 1 || room.Wizard.Resolving {
		return
	}
	s.resolveWizardLocked(room)
}

// resolveWizardLocked snapshots the round and calls the oracle off-lock.
// The Resolving flag bars a second arbitration for the same room until the
// in-flight one completes. Caller holds s.mu.
func (s *Service) resolveWizardLocked(room *Room) {
	room.Wizard.Resolving = true

	players := make(map[string]oracle.PlayerRef, len(room.playerOrder))
	for _, id := range room.playerOrder {
		name := id
		if p, ok := room.Players[id]; ok && p.Name != "" {
			name = p.Name
		} else if len(name) > 4 {
			name = name[:4]
		}
		players[id] = oracle.PlayerRef{Name: name}
	}

	submissions := make(map[string]oracle.Submission, len(room.Wizard.Submissions))
	for id, sub := range room.Wizard.Submissions {
		submissions[id] = oracle.Submission{Text: sub.Text, TS: sub.TS}
	}

	groups := make([][]string, len(room.Wizard.Groups))
	for i, g := range room.Wizard.Groups {
		groups[i] = append([]string(nil), g...)
	}

	req := oracle.Request{
		Round:       room.Wizard.Round,
		Players:     players,
		Groups:      groups,
		Submissions: submissions,
	}
	roomID := room.ID
	round := room.Wizard.Round

	go func() {
		results, err := s.arbiter.Arbitrate(context.Background(), req)
		s.completeArbitration(roomID, round, req, results, err)
	}()
}

func (s *Service) completeArbitration(roomID string, round int, req oracle.Request, results map[string]oracle.PlayerResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(roomID)
	if room == nil {
		return
	}
	room.Wizard.Resolving = false

	if err != nil {
		log.Error().Err(err).Str("room", roomID).Int("round", round).Msg("wizard arbitration failed")
		room.Wizard.FailCount++
		s.lastWizardErrAt = s.now()
		s.lastWizardErrMsg = err.Error()
		s.sendGMs(room, EvtWizardAIError, WizardAIErrorPayload{
			Round:    round,
			Message:  err.Error(),
			CanRetry: room.Wizard.FailCount == 1,
		})
		return
	}

	room.Wizard.FailCount = 0
	subs := make(map[string]Submission, len(req.Submissions))
	for id, sub := range req.Submissions {
		subs[id] = Submission{Text: sub.Text, TS: sub.TS}
	}
	s.sendGMs(room, EvtWizardAIResult, WizardAIResultPayload{
		Round:       round,
		Groups:      req.Groups,
		Submissions: subs,
		Results:     results,
	})
}

// handleWizardResults applies a GM-supplied (manual) or GM-reviewed (oracle)
// result map: queue dice modifiers, adjust hit points, persist narratives,
// notify each player privately, record history, then start the next round.
func (s *Service) handleWizardResults(connID string, p WizardResultsPayload, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.Wizard.Active || !room.isGM(connID) {
		return
	}

	round := room.Wizard.Round
	applied := make(map[string]AppliedResult, len(p.Results))

	for id, r := range p.Results {
		// bonus negative reduces the next total; malus positive increases it
		if r.DiceMod != 0 {
			kind := KindBonus
			value := -r.DiceMod
			if r.DiceMod > 0 {
				kind = KindMalus
				value = r.DiceMod
			}
			room.Modifiers[id] = append(room.Modifiers[id], Modifier{
				ID:    s.newID(),
				Kind:  kind,
				Value: value,
			})
		}

		if player, ok := room.Players[id]; ok && r.HPDelta != 0 {
			player.HP = max(0, player.HP+r.HPDelta)
			room.Snapshots[player.Name] = *player
		}

		if r.Narrative != "" {
			room.Narratives[id] = append(room.Narratives[id], NarrativeEffect{
				Type:  "narrative",
				Text:  r.Narrative,
				Round: round,
			})
		}

		applied[id] = AppliedResult(r)
		s.send(id, EvtWizardResults, WizardResultPayload{
			Round:     round,
			Inflicted: r.Inflicted,
			Suffered:  r.Suffered,
			DiceMod:   r.DiceMod,
			HPDelta:   r.HPDelta,
			Narrative: r.Narrative,
		})
	}

	room.Wizard.History = append(room.Wizard.History, ResolvedRound{
		Round:       round,
		TS:          s.now().UnixMilli(),
		Groups:      room.Wizard.Groups,
		Submissions: room.Wizard.Submissions,
		Results:     applied,
		Source:      source,
	})
	if len(room.Wizard.History) > WizardHistoryCap {
		room.Wizard.History = room.Wizard.History[len(room.Wizard.History)-WizardHistoryCap:]
	}
	room.Wizard.Resolving = false

	s.broadcastPresence(room)
	s.broadcast(room, EvtWizardPublished, WizardPublishedPayload{Round: round})

	s.startWizardRound(room)
	s.broadcast(room, EvtWizardState, room.wizardCompact())
}

func (s *Service) handleWizardGet(connID string, p RoomRefPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.Wizard.Active || !room.isGM(connID) {
		return
	}

	history := room.Wizard.History
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	s.send(connID, EvtWizardInfo, WizardInfoPayload{
		Round:       room.Wizard.Round,
		Groups:      room.Wizard.Groups,
		Submissions: room.Wizard.Submissions,
		History:     history,
	})
}
