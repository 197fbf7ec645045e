package game

import "time"

// handleHintSend stores a time-bound token for one target player. Modifier
// hints (bonus/malus) carry a signed value; info hints carry a one-shot
// content payload. Only a GM may issue, and only to a current room player.
func (s *Service) handleHintSend(connID string, p HintSendPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isGM(connID) {
		return
	}
	if _, ok := room.Players[p.Target]; !ok {
		return
	}

	duration := HintDefaultDuration
	if p.DurationMs != nil {
		duration = time.Duration(*p.DurationMs) * time.Millisecond
	}
	if duration < HintMinDuration {
		duration = HintMinDuration
	}
	expiresAt := s.now().Add(duration)

	byPlayer := room.PendingHints[p.Target]
	if byPlayer == nil {
		byPlayer = make(map[string]*PendingHint)
		room.PendingHints[p.Target] = byPlayer
	}

	id := s.newID()
	if p.Kind == KindInfo {
		content := HintContent{Type: "text"}
		if p.Content != nil {
			switch p.Content.Type {
			case "text", "image", "pdf":
				content.Type = p.Content.Type
			}
			if content.Type == "text" {
				content.Text = p.Content.Text
			} else {
				content.URL = p.Content.URL
			}
		}
		byPlayer[id] = &PendingHint{ID: id, Kind: KindInfo, Content: content, ExpiresAt: expiresAt}
		s.send(p.Target, EvtHintNotify, HintNotifyPayload{
			ID:          id,
			Kind:        KindInfo,
			DurationMs:  duration.Milliseconds(),
			ContentType: content.Type,
		})
		return
	}

	kind := p.Kind
	if kind != KindMalus {
		kind = KindBonus
	}
	byPlayer[id] = &PendingHint{ID: id, Kind: kind, Value: p.Value, ExpiresAt: expiresAt}
	s.send(p.Target, EvtHintNotify, HintNotifyPayload{
		ID:         id,
		Kind:       kind,
		Value:      p.Value,
		DurationMs: duration.Milliseconds(),
	})
}

// handleHintClaim moves a modifier hint into the claimer's FIFO queue.
// Expired tokens are purged lazily and deliver nothing; info hints are inert
// to claim. A malus claim fires the fixed screamer cue at the claimer.
func (s *Service) handleHintClaim(connID string, p HintRefPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil {
		return
	}
	byPlayer := room.PendingHints[connID]
	if byPlayer == nil {
		return
	}
	hint, ok := byPlayer[p.HintID]
	if !ok {
		return
	}
	if s.now().After(hint.ExpiresAt) {
		delete(byPlayer, p.HintID)
		return
	}
	if hint.Kind == KindInfo {
		return
	}

	room.Modifiers[connID] = append(room.Modifiers[connID], Modifier{
		ID:    hint.ID,
		Kind:  hint.Kind,
		Value: hint.Value,
	})
	delete(byPlayer, p.HintID)

	if hint.Kind == KindMalus {
		s.send(connID, EvtScreamerTrigger, ScreamerTriggerPayload{
			ID:        ScreamerDefaultID,
			Intensity: ScreamerDefaultIntensity,
		})
	}
}

// handleHintOpen delivers an info hint's content to the opener exactly once.
// Removal from the pending map enforces at-most-once delivery even under
// duplicate open requests.
func (s *Service) handleHintOpen(connID string, p HintRefPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil {
		return
	}
	byPlayer := room.PendingHints[connID]
	if byPlayer == nil {
		return
	}
	hint, ok := byPlayer[p.HintID]
	if !ok {
		return // already opened or invalid
	}
	if s.now().After(hint.ExpiresAt) {
		delete(byPlayer, p.HintID)
		return
	}
	if hint.Kind != KindInfo {
		return
	}
	delete(byPlayer, p.HintID)

	payload := HintContentPayload{ID: hint.ID, ContentType: hint.Content.Type}
	switch hint.Content.Type {
	case "text":
		payload.Text = hint.Content.Text
	case "image", "pdf":
		payload.URL = hint.Content.URL
	}
	s.send(connID, EvtHintContent, payload)
}
