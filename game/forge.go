package game

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// relic is one entry of the forge pools. Names and descriptions stay in
// French: they are shown verbatim at the table.
type relic struct {
	Name        string
	Damage      string
	Uses        int
	Description string
}

// Pools by d20 band: 1-5 overwhelming weapons, 6-10 practical but fragile,
// 11-15 precious yet dormant, 16-20 cursed.
var (
	relicsOverwhelming = []relic{
		{"Lame de l'Éternité Quantique", "1D20", 3, "Une épée forgée dans le vide entre les dimensions, sa lame scintille de particules subatomiques. Elle peut trancher la réalité elle-même."},
		{"Sceptre du Chaos Originel", "1D20", 4, "Bâton titanesque gravé de runes qui défient les lois physiques. Il canalise l'entropie primordiale de l'univers."},
		{"Canon Hypersonique Dimensionnel", "1D20", 3, "Arme futuriste aux lignes élégantes qui tire des projectiles à travers les dimensions. Chaque tir déchire l'espace-temps."},
	}
	relicsPractical = []relic{
		{"Dague de Cristal Harmonique", "1D6", 8, "Lame translucide qui résonne à la fréquence moléculaire des cibles. Fragile mais d'une précision mortelle."},
		{"Pistolet à Plasma Élégant", "1D6", 12, "Arme de poing chromée au design épuré. Projette des bolts de plasma bleuté d'une beauté hypnotique."},
		{"Orbe de Gravité Focalisée", "1D6", 6, "Sphère translucide qui manipule les champs gravitationnels locaux. Peut broyer ou repousser avec précision."},
	}
	relicsDormant = []relic{
		{"Relique Stellaire Désactivée", "1D4", 0, "Magnifique artefact doré couvert de glyphes aliens. Son noyau énergétique est éteint depuis des millénaires."},
		{"Gemme du Néant Scellée", "1D4", 0, "Cristal noir absolu d'une beauté hypnotique. Un verrou dimensionnel antique bloque son pouvoir terrifiant."},
		{"Anneau Temporel Gelé", "1D4", 0, "Bague d'argent liquide figée dans le temps. Elle vibre d'un pouvoir chronologique inaccessible."},
	}
	relicsCursed = []relic{
		{"Marteau de Gravité Inversée", "1D4", 5, "Masse qui repousse au lieu de frapper. Active un champ gravitationnel chaotique autour du porteur pendant 10 minutes."},
		{"Épée de Sacrifice Vital", "1D4", 7, "Lame noire qui inflige des dégâts redoutables. Chaque frappe draine 1D4 HP du porteur pour alimenter sa puissance."},
		{"Amulette de Vérité Cruelle", "0", 1, "Pendentif qui révèle toutes les vérités cachées dans 50m. Force le porteur à dire uniquement la vérité pendant 1 heure."},
	}
)

func relicPool(roll int) []relic {
	switch {
	case roll <= 5:
		return relicsOverwhelming
	case roll <= 10:
		return relicsPractical
	case roll <= 15:
		return relicsDormant
	default:
		return relicsCursed
	}
}

func relicPrompt(r relic) string {
	return fmt.Sprintf("%s, objet technophantasy photo-réaliste, rendu ultra-détaillé 8K, matériaux futuristes luisants, reflets métalliques froids, aura énergétique subtile, particules lumineuses, éclairage directionnel studio froid, lumière cinématographique, fond neutre sombre gradient, composition centrée, depth of field, ray tracing, matériaux PBR, science-fiction réaliste, mystique technologique, ratio 1:1, hyper-réalisme", r.Name)
}

// handleItemGenerate rolls a d20, forges a relic from the matching pool,
// requests an image from the opaque generation service, and adds the relic
// to the requester's inventory as a locked legendary entry. Usage is capped;
// the cap is the one failure surfaced directly to the player.
func (s *Service) handleItemGenerate(connID string, p RoomRefPayload) {
	s.mu.Lock()
	room := s.store.Get(p.RoomID)
	if room == nil {
		s.send(connID, EvtItemError, ItemErrorPayload{Error: "Room not found"})
		s.mu.Unlock()
		return
	}
	player, ok := room.Players[connID]
	if !ok {
		s.send(connID, EvtItemError, ItemErrorPayload{Error: "Player not found"})
		s.mu.Unlock()
		return
	}
	if player.ForgeUses >= ForgeMaxUses {
		s.send(connID, EvtItemError, ItemErrorPayload{
			Error: fmt.Sprintf("Limite de %d utilisations atteinte. Demandez l'autorisation du MJ.", ForgeMaxUses),
		})
		s.mu.Unlock()
		return
	}

	roll := s.rollDie(20)
	pool := relicPool(roll)
	chosen := pool[s.rollDie(len(pool))-1]
	s.mu.Unlock()

	// Image generation runs unlocked; it can take many seconds.
	imageURL, err := s.forge.Generate(context.Background(), relicPrompt(chosen))
	if err != nil {
		log.Error().Err(err).Str("conn", connID).Msg("relic image generation failed")
		s.send(connID, EvtItemError, ItemErrorPayload{
			Error:   "Erreur lors de la génération de l'objet",
			Details: err.Error(),
		})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room = s.store.Get(p.RoomID)
	if room == nil {
		return
	}
	player, ok = room.Players[connID]
	if !ok {
		return // disconnected while the image rendered
	}

	item := Item{
		Name:        fmt.Sprintf("%s (%s, %d uses)", chosen.Name, chosen.Damage, chosen.Uses),
		Description: chosen.Description,
		Locked:      true,
		Legendary:   true,
		ImageURL:    imageURL,
		Damage:      chosen.Damage,
		Uses:        chosen.Uses,
	}
	player.Inventory = append(player.Inventory, item)
	player.ForgeUses++
	room.Snapshots[player.Name] = *player

	s.send(connID, EvtItemGenerated, ItemGeneratedPayload{
		Roll:             roll,
		Item:             item,
		UsesRemaining:    ForgeMaxUses - player.ForgeUses,
		UpdatedInventory: player.Inventory,
	})
	s.broadcastPresence(room)
	s.sendGMs(room, EvtItemNotice, ItemNoticePayload{
		Player:        player.Name,
		Item:          item,
		UsesRemaining: ForgeMaxUses - player.ForgeUses,
	})
}

// handleItemReset lets a GM refill a player's forge budget.
func (s *Service) handleItemReset(connID string, p ItemResetPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.store.Get(p.RoomID)
	if room == nil || !room.isGM(connID) {
		return
	}
	player, ok := room.Players[p.Target]
	if !ok {
		return
	}

	player.ForgeUses = 0
	room.Snapshots[player.Name] = *player
	s.broadcastPresence(room)
	s.send(p.Target, EvtItemUsesReset, ItemUsesResetPayload{Message: "Le MJ a réinitialisé vos utilisations"})
	s.send(connID, EvtItemResetOk, ItemResetOkPayload{Player: player.Name})
}
