package game

// handleDiceRoll draws server-side randomness for a member of the room,
// consumes at most one queued modifier, appends to the capped log and
// broadcasts. d20 rolls carry the fixed critical side effects.
func (s *Service) handleDiceRoll(connID string, p DiceRollPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isMember(connID) {
		return
	}

	sides := p.Sides
	if sides == 0 {
		sides = 6
	}
	sides = max(2, sides)
	count := p.Count
	if count == 0 {
		count = 1
	}
	count = min(DiceMaxCount, max(1, count))

	rolls := make([]int, count)
	total := 0
	for i := range rolls {
		rolls[i] = s.rollDie(sides)
		total += rolls[i]
	}

	// Apply a pending modifier if any for this player (single-use, FIFO).
	var modifier *Modifier
	if queue := room.Modifiers[connID]; len(queue) > 0 {
		m := queue[0]
		room.Modifiers[connID] = queue[1:]
		modifier = &m
		switch m.Kind {
		case KindBonus:
			total = max(0, total-m.Value)
		case KindMalus:
			total += m.Value
		}
	}

	result := DiceRollResult{
		ID:       s.newID(),
		From:     connID,
		Sides:    sides,
		Count:    count,
		Rolls:    rolls,
		Total:    total,
		Label:    p.Label,
		TS:       s.now().UnixMilli(),
		Modifier: modifier,
	}
	room.appendDiceResult(result)
	s.broadcast(room, EvtDiceResult, result)

	// Auto screamer for critical fail (1) or critical success (20) on d20.
	if sides == 20 {
		if containsRoll(rolls, 1) {
			s.send(connID, EvtScreamerTrigger, ScreamerTriggerPayload{ID: "auto-crit-fail", Intensity: CritFailIntensity})
			s.sendGMs(room, EvtScreamerNotice, ScreamerNoticePayload{Target: connID, Reason: "crit-fail", Result: result})
		}
		if containsRoll(rolls, 20) {
			s.send(connID, EvtScreamerTrigger, ScreamerTriggerPayload{ID: "auto-crit-success", Intensity: CritSuccessIntensity})
			s.sendGMs(room, EvtScreamerNotice, ScreamerNoticePayload{Target: connID, Reason: "crit-success", Result: result})
		}
	}
}

func containsRoll(rolls []int, v int) bool {
	for _, r := range rolls {
		if r == v {
			return true
		}
	}
	return false
}
