package game

import (
	"encoding/json"

	"github.com/houssamlaghzil/clainjo-horror/oracle"
)

// Inbound event names (client -> server).
const (
	EvtJoin           = "join"
	EvtZoneSet        = "zone:set"
	EvtGMPlayerUpdate = "gm:player:update"
	EvtChatMessage    = "chat:message"
	EvtHintSend       = "hint:send"
	EvtHintClaim      = "hint:claim"
	EvtHintOpen       = "hint:open"
	EvtPlayerUpdate   = "player:update"
	EvtDiceRoll       = "dice:roll"
	EvtScreamerSend   = "screamer:send"
	EvtHapticsStart   = "haptics:start"
	EvtHapticsStop    = "haptics:stop"
	EvtStateGet       = "state:get"
	EvtWizardToggle   = "wizard:toggle"
	EvtWizardSubmit   = "wizard:submit"
	EvtWizardForce    = "wizard:force"
	EvtWizardRetry    = "wizard:retry"
	EvtWizardManual   = "wizard:manual"
	EvtWizardPublish  = "wizard:publish"
	EvtWizardGet      = "wizard:get"
	EvtItemGenerate   = "item:generate"
	EvtItemReset      = "item:reset"
)

// Outbound event names (server -> client).
const (
	EvtServerMeta      = "server:meta"
	EvtPresenceUpdate  = "presence:update"
	EvtStateInit       = "state:init"
	EvtZoneUpdate      = "zone:update"
	EvtHintNotify      = "hint:notify"
	EvtHintContent     = "hint:content"
	EvtDiceResult      = "dice:result"
	EvtScreamerTrigger = "screamer:trigger"
	EvtScreamerNotice  = "screamer:notice"
	EvtWizardState     = "wizard:state"
	EvtWizardLocked    = "wizard:locked"
	EvtWizardResolving = "wizard:round:resolving"
	EvtWizardAIResult  = "wizard:aiResult"
	EvtWizardAIError   = "wizard:aiError"
	EvtWizardPublished = "wizard:published"
	EvtWizardResults   = "wizard:results"
	EvtWizardInfo      = "wizard:info"
	EvtItemGenerated   = "item:generated"
	EvtItemError       = "item:error"
	EvtItemNotice      = "item:notice"
	EvtItemUsesReset   = "item:usesReset"
	EvtItemResetOk     = "item:resetOk"
)

// Envelope frames every message on the wire: a named event plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Targets designates recipients for screamers and haptics: the string "all"
// (every player, never GMs), a single connection id, or a list of ids.
type Targets struct {
	All bool
	IDs []string
}

func (t Targets) MarshalJSON() ([]byte, error) {
	if t.All {
		return json.Marshal("all")
	}
	return json.Marshal(t.IDs)
}

func (t *Targets) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "all" || s == "" {
			t.All = true
			return nil
		}
		t.IDs = []string{s}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	t.IDs = ids
	return nil
}

// Recipients accepts a chat "to" field: absent/"all", one id, or a list.
type Recipients struct {
	All bool
	IDs []string
}

func (r Recipients) MarshalJSON() ([]byte, error) {
	return Targets{All: r.All, IDs: r.IDs}.MarshalJSON()
}

func (r *Recipients) UnmarshalJSON(data []byte) error {
	var t Targets
	if err := t.UnmarshalJSON(data); err != nil {
		return err
	}
	r.All, r.IDs = t.All, t.IDs
	return nil
}

// --- Inbound payloads, one struct per event name. Optional numeric fields
// use pointers so "field absent" and "zero" stay distinguishable, which the
// sheet-update semantics depend on.

type JoinPayload struct {
	RoomID       string  `json:"roomId"`
	Role         string  `json:"role"`
	Name         string  `json:"name"`
	HP           int     `json:"hp"`
	Money        int     `json:"money"`
	Inventory    []Item  `json:"inventory"`
	Strength     int     `json:"strength"`
	Intelligence int     `json:"intelligence"`
	Agility      int     `json:"agility"`
	Skills       []Skill `json:"skills"`
}

type ZoneSetPayload struct {
	RoomID string `json:"roomId"`
	Zone   string `json:"zone"`
}

type SheetUpdatePayload struct {
	RoomID       string   `json:"roomId"`
	Target       string   `json:"target,omitempty"` // gm:player:update only
	HP           *int     `json:"hp"`
	Money        *int     `json:"money"`
	Inventory    *[]Item  `json:"inventory"`
	Strength     *int     `json:"strength"`
	Intelligence *int     `json:"intelligence"`
	Agility      *int     `json:"agility"`
	Skills       *[]Skill `json:"skills"`
}

type ChatPayload struct {
	RoomID string     `json:"roomId"`
	Text   string     `json:"text"`
	From   string     `json:"from"`
	To     Recipients `json:"to"`
}

type HintSendPayload struct {
	RoomID     string       `json:"roomId"`
	Target     string       `json:"target"`
	Kind       string       `json:"kind"`
	Value      int          `json:"value"`
	DurationMs *int64       `json:"durationMs"`
	Content    *HintContent `json:"content"`
}

type HintRefPayload struct {
	RoomID string `json:"roomId"`
	HintID string `json:"hintId"`
}

type DiceRollPayload struct {
	RoomID string `json:"roomId"`
	Sides  int    `json:"sides"`
	Count  int    `json:"count"`
	Label  string `json:"label"`
}

type ScreamerSendPayload struct {
	RoomID     string   `json:"roomId"`
	Targets    Targets  `json:"targets"`
	ScreamerID string   `json:"screamerId"`
	Intensity  *float64 `json:"intensity"`
	ImageURL   string   `json:"imageUrl,omitempty"`
	SoundURL   string   `json:"soundUrl,omitempty"`
}

type HapticsPayload struct {
	RoomID  string  `json:"roomId"`
	Targets Targets `json:"targets"`
	Pattern string  `json:"pattern"`
	BPM     float64 `json:"bpm"`
}

type RoomRefPayload struct {
	RoomID string `json:"roomId"`
}

type WizardTogglePayload struct {
	RoomID string `json:"roomId"`
	Active bool   `json:"active"`
}

type WizardSubmitPayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

type WizardResultsPayload struct {
	RoomID  string                         `json:"roomId"`
	Results map[string]oracle.PlayerResult `json:"results"`
}

type ItemResetPayload struct {
	RoomID string `json:"roomId"`
	Target string `json:"targetSocketId"`
}

// --- Outbound payloads.

type ServerMetaPayload struct {
	Version string `json:"version"`
}

type PresencePayload struct {
	Players []PublicPlayer `json:"players"`
	GMs     []string       `json:"gms"`
}

type StateInitPayload struct {
	Players []PublicPlayer  `json:"players"`
	GMs     []string        `json:"gms"`
	DiceLog []DiceRollResult `json:"diceLog"`
	You     *Player         `json:"you,omitempty"`
	Wizard  *WizardCompact  `json:"wizard,omitempty"`
	Zone    string          `json:"zone"`
}

type ZoneUpdatePayload struct {
	Zone string `json:"zone"`
}

type ChatMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From string `json:"from"`
	To   string `json:"to"`
	TS   int64  `json:"ts"`
}

type HintNotifyPayload struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Value       int    `json:"value,omitempty"`
	DurationMs  int64  `json:"durationMs"`
	ContentType string `json:"contentType,omitempty"`
}

type HintContentPayload struct {
	ID          string `json:"id"`
	ContentType string `json:"contentType"`
	Text        string `json:"text,omitempty"`
	URL         string `json:"url,omitempty"`
}

type ScreamerTriggerPayload struct {
	ID        string  `json:"id"`
	Intensity float64 `json:"intensity"`
	ImageURL  string  `json:"imageUrl,omitempty"`
	SoundURL  string  `json:"soundUrl,omitempty"`
}

type ScreamerNoticePayload struct {
	Target string         `json:"target"`
	Reason string         `json:"reason"`
	Result DiceRollResult `json:"result"`
}

type HapticsStartPayload struct {
	Pattern string `json:"pattern"`
	BPM     int    `json:"bpm"`
}

type WizardCompact struct {
	Active      bool     `json:"active"`
	Round       int      `json:"round"`
	GroupsCount int      `json:"groupsCount"`
	Locked      []string `json:"locked"`
}

type WizardLockedPayload struct {
	Round int `json:"round"`
}

type WizardResolvingPayload struct {
	Round  int  `json:"round"`
	Forced bool `json:"forced,omitempty"`
}

type WizardAIResultPayload struct {
	Round       int                            `json:"round"`
	Groups      [][]string                     `json:"groups"`
	Submissions map[string]Submission          `json:"submissions"`
	Results     map[string]oracle.PlayerResult `json:"results"`
}

type WizardAIErrorPayload struct {
	Round    int    `json:"round"`
	Message  string `json:"message"`
	CanRetry bool   `json:"canRetry"`
}

type WizardPublishedPayload struct {
	Round int `json:"round"`
}

type WizardResultPayload struct {
	Round     int    `json:"round"`
	Inflicted string `json:"inflicted"`
	Suffered  string `json:"suffered"`
	DiceMod   int    `json:"diceMod"`
	HPDelta   int    `json:"hpDelta"`
	Narrative string `json:"narrative"`
}

type WizardInfoPayload struct {
	Round       int                   `json:"round"`
	Groups      [][]string            `json:"groups"`
	Submissions map[string]Submission `json:"submissions"`
	History     []ResolvedRound       `json:"history"`
}

type ItemGeneratedPayload struct {
	Roll             int    `json:"roll"`
	Item             Item   `json:"item"`
	UsesRemaining    int    `json:"usesRemaining"`
	UpdatedInventory []Item `json:"updatedInventory"`
}

type ItemErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type ItemNoticePayload struct {
	Player        string `json:"player"`
	Item          Item   `json:"item"`
	UsesRemaining int    `json:"usesRemaining"`
}

type ItemUsesResetPayload struct {
	Message string `json:"message"`
}

type ItemResetOkPayload struct {
	Player string `json:"player"`
}
