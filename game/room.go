package game

import (
	"slices"
	"time"
)

// --- Tunables (mirroring the production defaults).
const (
	DiceMaxHistory   = 200
	DiceMaxCount     = 100
	WizardMaxTeam    = 3 // pairs, last may be a trio
	WizardHistoryCap = 50
	ForgeMaxUses     = 10

	HintDefaultDuration = 5 * time.Second
	HintMinDuration     = time.Second

	DefaultZone = "village"

	ScreamerDefaultID        = "default"
	ScreamerDefaultIntensity = 0.8
	CritFailIntensity        = 0.7
	CritSuccessIntensity     = 0.9
)

const (
	RolePlayer = "player"
	RoleGM     = "gm"
)

const (
	KindBonus = "bonus"
	KindMalus = "malus"
	KindInfo  = "info"
)

// Item is an inventory entry. Locked entries are GM/system-owned: a player
// cannot introduce, remove, or unlock them through self-updates.
type Item struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Locked      bool   `json:"locked"`
	Legendary   bool   `json:"legendary,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Damage      string `json:"damage,omitempty"`
	Uses        int    `json:"uses,omitempty"`
}

// Skill is a character-sheet skill entry; same lock rules as Item.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Locked      bool   `json:"locked"`
}

// Player is one connected participant. ConnID changes across reconnects;
// Name is the stable identity key used for snapshot restore.
type Player struct {
	ConnID       string  `json:"socketId"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	HP           int     `json:"hp"`
	Money        int     `json:"money"`
	Inventory    []Item  `json:"inventory"`
	Strength     int     `json:"strength"`
	Intelligence int     `json:"intelligence"`
	Agility      int     `json:"agility"`
	Skills       []Skill `json:"skills"`
	ForgeUses    int     `json:"forgeUses"`
}

// PublicPlayer limits what other room members see of a player.
type PublicPlayer struct {
	ConnID       string  `json:"socketId"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	HP           int     `json:"hp"`
	Money        int     `json:"money"`
	Inventory    []Item  `json:"inventory"`
	Strength     int     `json:"strength"`
	Intelligence int     `json:"intelligence"`
	Agility      int     `json:"agility"`
	Skills       []Skill `json:"skills"`
	ForgeUses    int     `json:"forgeUses"`
}

func (p *Player) public() PublicPlayer {
	return PublicPlayer{
		ConnID:       p.ConnID,
		Name:         p.Name,
		Role:         p.Role,
		HP:           p.HP,
		Money:        p.Money,
		Inventory:    p.Inventory,
		Strength:     p.Strength,
		Intelligence: p.Intelligence,
		Agility:      p.Agility,
		Skills:       p.Skills,
		ForgeUses:    p.ForgeUses,
	}
}

// HintContent is the one-shot payload of an info hint.
type HintContent struct {
	Type string `json:"type"` // text | image | pdf
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// PendingHint is a GM-issued token waiting to be claimed or opened. After
// expiry or consumption it must be unreachable for further attempts.
type PendingHint struct {
	ID        string
	Kind      string // bonus | malus | info
	Value     int
	Content   HintContent
	ExpiresAt time.Time
}

// Modifier is a claimed bonus/malus consumed FIFO by exactly one dice roll.
type Modifier struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Value int    `json:"value"`
}

// DiceRollResult is an immutable record appended to the room's bounded log.
type DiceRollResult struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	Sides    int       `json:"sides"`
	Count    int       `json:"count"`
	Rolls    []int     `json:"rolls"`
	Total    int       `json:"total"`
	Label    string    `json:"label,omitempty"`
	TS       int64     `json:"ts"`
	Modifier *Modifier `json:"modifier"`
}

// Submission is one player's spell for the current wizard round.
type Submission struct {
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// AppliedResult is the normalized verdict actually applied to a player.
type AppliedResult struct {
	Inflicted string `json:"inflicted"`
	Suffered  string `json:"suffered"`
	DiceMod   int    `json:"diceMod"`
	HPDelta   int    `json:"hpDelta"`
	Narrative string `json:"narrative"`
}

// ResolvedRound records one arbitrated wizard round.
type ResolvedRound struct {
	Round       int                      `json:"round"`
	TS          int64                    `json:"ts"`
	Groups      [][]string               `json:"groups"`
	Submissions map[string]Submission    `json:"submissions"`
	Results     map[string]AppliedResult `json:"results"`
	Source      string                   `json:"source"` // oracle | manual
}

// NarrativeEffect is a persisted narrative consequence of a wizard round.
type NarrativeEffect struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Round int    `json:"round"`
}

// WizardState is the per-room Wizard Battle sub-state.
type WizardState struct {
	Active      bool
	Round       int
	Submissions map[string]Submission
	Locked      map[string]struct{}
	Groups      [][]string
	FailCount   int
	Resolving   bool // in-flight arbitration guard
	History     []ResolvedRound
}

// Room owns all state of one isolated session. Created lazily on first join,
// never destroyed before process exit.
type Room struct {
	ID string

	Players     map[string]*Player // connID -> player
	playerOrder []string           // join order, drives grouping and presence
	GMs         map[string]struct{}
	gmOrder     []string

	DiceLog      []DiceRollResult
	PendingHints map[string]map[string]*PendingHint // connID -> hintID -> hint
	Modifiers    map[string][]Modifier              // connID -> FIFO queue
	Zone         string
	Wizard       WizardState
	Snapshots    map[string]Player // name -> persistent snapshot
	Narratives   map[string][]NarrativeEffect
}

func newRoom(id string) *Room {
	return &Room{
		ID:           id,
		Players:      make(map[string]*Player),
		GMs:          make(map[string]struct{}),
		PendingHints: make(map[string]map[string]*PendingHint),
		Modifiers:    make(map[string][]Modifier),
		Zone:         DefaultZone,
		Wizard: WizardState{
			Submissions: make(map[string]Submission),
			Locked:      make(map[string]struct{}),
		},
		Snapshots:  make(map[string]Player),
		Narratives: make(map[string][]NarrativeEffect),
	}
}

// isMember reports whether the connection sits in the room, as player or GM.
func (r *Room) isMember(connID string) bool {
	if _, ok := r.Players[connID]; ok {
		return true
	}
	_, ok := r.GMs[connID]
	return ok
}

func (r *Room) isGM(connID string) bool {
	_, ok := r.GMs[connID]
	return ok
}

func (r *Room) addPlayer(p *Player) {
	r.Players[p.ConnID] = p
	r.playerOrder = append(r.playerOrder, p.ConnID)
}

func (r *Room) removePlayer(connID string) {
	delete(r.Players, connID)
	for i, id := range r.playerOrder {
		if id == connID {
			r.playerOrder = append(r.playerOrder[:i], r.playerOrder[i+1:]...)
			break
		}
	}
}

func (r *Room) addGM(connID string) {
	if _, ok := r.GMs[connID]; ok {
		return
	}
	r.GMs[connID] = struct{}{}
	r.gmOrder = append(r.gmOrder, connID)
}

func (r *Room) removeGM(connID string) {
	if _, ok := r.GMs[connID]; !ok {
		return
	}
	delete(r.GMs, connID)
	for i, id := range r.gmOrder {
		if id == connID {
			r.gmOrder = append(r.gmOrder[:i], r.gmOrder[i+1:]...)
			break
		}
	}
}

// publicPlayers lists sanitized players in join order.
func (r *Room) publicPlayers() []PublicPlayer {
	out := make([]PublicPlayer, 0, len(r.playerOrder))
	for _, id := range r.playerOrder {
		if p, ok := r.Players[id]; ok {
			out = append(out, p.public())
		}
	}
	return out
}

func (r *Room) gmList() []string {
	out := make([]string, len(r.gmOrder))
	copy(out, r.gmOrder)
	return out
}

// memberIDs lists every connection in the room, players before GMs.
func (r *Room) memberIDs() []string {
	out := make([]string, 0, len(r.playerOrder)+len(r.gmOrder))
	out = append(out, r.playerOrder...)
	out = append(out, r.gmOrder...)
	return out
}

// wizardCompact summarizes the battle for broadcast. The lock list is taken
// from the lock set itself: a player who submitted and then dropped stays
// visibly locked for the round.
func (r *Room) wizardCompact() WizardCompact {
	locked := make([]string, 0, len(r.Wizard.Locked))
	for id := range r.Wizard.Locked {
		locked = append(locked, id)
	}
	slices.Sort(locked)
	return WizardCompact{
		Active:      r.Wizard.Active,
		Round:       r.Wizard.Round,
		GroupsCount: len(r.Wizard.Groups),
		Locked:      locked,
	}
}

func (r *Room) appendDiceResult(res DiceRollResult) {
	r.DiceLog = append(r.DiceLog, res)
	if len(r.DiceLog) > DiceMaxHistory {
		r.DiceLog = r.DiceLog[len(r.DiceLog)-DiceMaxHistory:]
	}
}
