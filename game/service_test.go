package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houssamlaghzil/clainjo-horror/oracle"
)

// sentEvent is one delivery captured by the recorder.
type sentEvent struct {
	To    string
	Event string
	Data  any
}

// recorder is a Sender that captures every delivery so tests can assert on
// the full outbound event stream.
type recorder struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recorder) Send(connID, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{To: connID, Event: event, Data: data})
}

func (r *recorder) all() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) received(connID, event string) []sentEvent {
	var out []sentEvent
	for _, ev := range r.all() {
		if ev.To == connID && ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last(connID, event string) (sentEvent, bool) {
	evs := r.received(connID, event)
	if len(evs) == 0 {
		return sentEvent{}, false
	}
	return evs[len(evs)-1], true
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fakeArbiter struct {
	mu      sync.Mutex
	calls   int
	reqs    []oracle.Request
	results map[string]oracle.PlayerResult
	err     error
	release chan struct{} // when non-nil, Arbitrate blocks until closed
}

func (f *fakeArbiter) Arbitrate(_ context.Context, req oracle.Request) (map[string]oracle.PlayerResult, error) {
	f.mu.Lock()
	f.calls++
	f.reqs = append(f.reqs, req)
	results, err, release := f.results, f.err, f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return results, err
}

func (f *fakeArbiter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeArbiter) lastRequest() oracle.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func (f *fakeArbiter) setOutcome(results map[string]oracle.PlayerResult, err error) {
	f.mu.Lock()
	f.results, f.err = results, err
	f.mu.Unlock()
}

type fakeForge struct {
	url string
	err error
}

func (f *fakeForge) Generate(context.Context, string) (string, error) {
	return f.url, f.err
}

// fixture wires a Service to a recorder and deterministic randomness, time
// and id generation.
type fixture struct {
	svc   *Service
	rec   *recorder
	arb   *fakeArbiter
	forge *fakeForge

	clock time.Time
	rolls []int
	ids   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rec:   &recorder{},
		arb:   &fakeArbiter{},
		forge: &fakeForge{url: "https://img.example/relic.png"},
		clock: time.Unix(1_700_000_000, 0),
	}
	f.svc = NewService(NewStore(), f.rec, f.arb, f.forge, "test")
	f.svc.now = func() time.Time { return f.clock }
	f.svc.rollDie = func(sides int) int {
		if len(f.rolls) == 0 {
			return 1
		}
		v := f.rolls[0]
		f.rolls = f.rolls[1:]
		return v
	}
	f.svc.newID = func() string {
		f.ids++
		return fmt.Sprintf("id-%d", f.ids)
	}
	return f
}

func (f *fixture) dispatch(t *testing.T, connID, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	require.NoError(t, err)
	f.svc.Dispatch(connID, frame)
}

func (f *fixture) join(t *testing.T, connID, role, name string) {
	t.Helper()
	f.dispatch(t, connID, EvtJoin, JoinPayload{RoomID: "r1", Role: role, Name: name, HP: 10})
}

func (f *fixture) room() *Room {
	return f.svc.store.Get("r1")
}

func TestHandleConnectAnnouncesMeta(t *testing.T) {
	f := newFixture(t)

	f.svc.HandleConnect("c1")

	ev, ok := f.rec.last("c1", EvtServerMeta)
	require.True(t, ok)
	assert.Equal(t, ServerMetaPayload{Version: "test"}, ev.Data)
}

func TestJoinCreatesRoomAndAnnouncesState(t *testing.T) {
	f := newFixture(t)

	f.join(t, "gm1", RoleGM, "MJ")
	f.join(t, "p1", RolePlayer, "Alice")

	room := f.room()
	require.NotNil(t, room)
	assert.True(t, room.isGM("gm1"))
	assert.True(t, room.isMember("p1"))

	ev, ok := f.rec.last("p1", EvtStateInit)
	require.True(t, ok)
	init := ev.Data.(StateInitPayload)
	require.NotNil(t, init.You)
	assert.Equal(t, "Alice", init.You.Name)
	assert.Equal(t, 10, init.You.HP)
	assert.Equal(t, DefaultZone, init.Zone)
	assert.Equal(t, []string{"gm1"}, init.GMs)

	// both members see the presence update
	_, ok = f.rec.last("gm1", EvtPresenceUpdate)
	assert.True(t, ok)
	_, ok = f.rec.last("p1", EvtPresenceUpdate)
	assert.True(t, ok)
}

func TestJoinIgnoresIncompletePayload(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, "p1", EvtJoin, JoinPayload{RoomID: "r1", Role: RolePlayer})

	assert.Nil(t, f.room())
	assert.Empty(t, f.rec.received("p1", EvtStateInit))
}

func TestRejoinRestoresSnapshotOverClientSheet(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p1", RolePlayer, "Alice")

	f.svc.HandleDisconnect("p1")
	require.Nil(t, f.room().Players["p1"])

	// client claims hp 99 on rejoin; the server-held snapshot wins
	f.dispatch(t, "p2", EvtJoin, JoinPayload{RoomID: "r1", Role: RolePlayer, Name: "Alice", HP: 99})

	ev, ok := f.rec.last("p2", EvtStateInit)
	require.True(t, ok)
	assert.Equal(t, 10, ev.Data.(StateInitPayload).You.HP)
}

func TestRejoinAdoptsStaleLiveConnection(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p1", RolePlayer, "Alice")
	room := f.room()
	room.Players["p1"].HP = 7
	delete(room.Snapshots, "Alice")

	// same name, new socket, no disconnect in between
	f.dispatch(t, "p2", EvtJoin, JoinPayload{RoomID: "r1", Role: RolePlayer, Name: "Alice", HP: 99})

	assert.Nil(t, room.Players["p1"])
	require.NotNil(t, room.Players["p2"])
	assert.Equal(t, 7, room.Players["p2"].HP)
	assert.Equal(t, []string{"p2"}, room.playerOrder)
}

func TestDisconnectKeepsSnapshotForReconnect(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p1", RolePlayer, "Alice")

	hp := 3
	f.dispatch(t, "p1", EvtPlayerUpdate, SheetUpdatePayload{RoomID: "r1", HP: &hp})
	f.svc.HandleDisconnect("p1")

	f.join(t, "p2", RolePlayer, "Alice")
	ev, ok := f.rec.last("p2", EvtStateInit)
	require.True(t, ok)
	assert.Equal(t, 3, ev.Data.(StateInitPayload).You.HP)
}

func TestPlayerUpdatePreservesLockedEntries(t *testing.T) {
	f := newFixture(t)
	f.join(t, "gm1", RoleGM, "MJ")
	f.join(t, "p1", RolePlayer, "Alice")

	locked := Item{Name: "Lame scellée", Description: "forge", Locked: true}
	inv := []Item{locked, {Name: "Torche", Description: "simple"}}
	f.dispatch(t, "gm1", EvtGMPlayerUpdate, SheetUpdatePayload{RoomID: "r1", Target: "p1", Inventory: &inv})
	require.Len(t, f.room().Players["p1"].Inventory, 2)

	// self-update omits the locked item and tries to smuggle a new locked one
	next := []Item{
		{Name: "Corde", Description: "neuve"},
		{Name: "Faux artefact", Description: "triche", Locked: true},
	}
	f.dispatch(t, "p1", EvtPlayerUpdate, SheetUpdatePayload{RoomID: "r1", Inventory: &next})

	got := f.room().Players["p1"].Inventory
	require.Len(t, got, 2)
	assert.Equal(t, locked, got[0])
	assert.Equal(t, "Corde", got[1].Name)
	assert.False(t, got[1].Locked)
}

func TestGMPlayerUpdateBypassesLockRules(t *testing.T) {
	f := newFixture(t)
	f.join(t, "gm1", RoleGM, "MJ")
	f.join(t, "p1", RolePlayer, "Alice")

	inv := []Item{{Name: "Relique", Description: "offerte", Locked: true}}
	hp := 42
	f.dispatch(t, "gm1", EvtGMPlayerUpdate, SheetUpdatePayload{RoomID: "r1", Target: "p1", HP: &hp, Inventory: &inv})

	p := f.room().Players["p1"]
	assert.Equal(t, 42, p.HP)
	assert.Equal(t, inv, p.Inventory)
	// snapshot persisted under the player's name
	assert.Equal(t, 42, f.room().Snapshots["Alice"].HP)
}

func TestGMPlayerUpdateRequiresGM(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p1", RolePlayer, "Alice")
	f.join(t, "p2", RolePlayer, "Bob")

	hp := 0
	f.dispatch(t, "p1", EvtGMPlayerUpdate, SheetUpdatePayload{RoomID: "r1", Target: "p2", HP: &hp})

	assert.Equal(t, 10, f.room().Players["p2"].HP)
}

func TestChatBroadcastsToRoom(t *testing.T) {
	f := newFixture(t)
	f.join(t, "gm1", RoleGM, "MJ")
	f.join(t, "p1", RolePlayer, "Alice")
	f.join(t, "p2", RolePlayer, "Bob")
	f.rec.reset()

	f.dispatch(t, "p1", EvtChatMessage, ChatPayload{RoomID: "r1", Text: "il fait froid ici", From: "Alice"})

	for _, id := range []string{"p1", "p2", "gm1"} {
		ev, ok := f.rec.last(id, EvtChatMessage)
		require.True(t, ok, id)
		msg := ev.Data.(ChatMessage)
		assert.Equal(t, "il fait froid ici", msg.Text)
		assert.Equal(t, "all", msg.To)
	}
}

func TestChatDirectMessageEchoesToSender(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p1", RolePlayer, "Alice")
	f.join(t, "p2", RolePlayer, "Bob")
	f.join(t, "p3", RolePlayer, "Carol")
	f.rec.reset()

	f.dispatch(t, "p1", EvtChatMessage, ChatPayload{
		RoomID: "r1",
		Text:   "entre nous",
		From:   "Alice",
		To:     Recipients{IDs: []string{"p2"}},
	})

	_, ok := f.rec.last("p2", EvtChatMessage)
	assert.True(t, ok)
	_, ok = f.rec.last("p1", EvtChatMessage)
	assert.True(t, ok, "sender echo")
	_, ok = f.rec.last("p3", EvtChatMessage)
	assert.False(t, ok, "bystander must not receive a DM")
}

func TestChatDropsEmptyText(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p1", RolePlayer, "Alice")
	f.rec.reset()

	f.dispatch(t, "p1", EvtChatMessage, ChatPayload{RoomID: "r1"})

	assert.Empty(t, f.rec.received("p1", EvtChatMessage))
}

func TestZoneSetBroadcastsAndDefaults(t *testing.T) {
	f := newFixture(t)
	f.join(t, "gm1", RoleGM, "MJ")
	f.join(t, "p1", RolePlayer, "Alice")

	f.dispatch(t, "gm1", EvtZoneSet, ZoneSetPayload{RoomID: "r1", Zone: "manoir"})
	ev, ok := f.rec.last("p1", EvtZoneUpdate)
	require.True(t, ok)
	assert.Equal(t, ZoneUpdatePayload{Zone: "manoir"}, ev.Data)

	// blank resets to the default zone
	f.dispatch(t, "gm1", EvtZoneSet, ZoneSetPayload{RoomID: "r1", Zone: "   "})
	assert.Equal(t, DefaultZone, f.room().Zone)
}

func TestZoneSetRequiresGM(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p1", RolePlayer, "Alice")

	f.dispatch(t, "p1", EvtZoneSet, ZoneSetPayload{RoomID: "r1", Zone: "crypte"})

	assert.Equal(t, DefaultZone, f.room().Zone)
}

func TestScreamerSendTargetsPlayersOnly(t *testing.T) {
	f := newFixture(t)
	f.join(t, "gm1", RoleGM, "MJ")
	f.join(t, "p1", RolePlayer, "Alice")
	f.join(t, "p2", RolePlayer, "Bob")
	f.rec.reset()

	f.dispatch(t, "gm1", EvtScreamerSend, ScreamerSendPayload{RoomID: "r1", Targets: Targets{All: true}})

	for _, id := range []string{"p1", "p2"} {
		ev, ok := f.rec.last(id, EvtScreamerTrigger)
		require.True(t, ok, id)
		trig := ev.Data.(ScreamerTriggerPayload)
		assert.Equal(t, ScreamerDefaultID, trig.ID)
		assert.Equal(t, ScreamerDefaultIntensity, trig.Intensity)
	}
	assert.Empty(t, f.rec.received("gm1", EvtScreamerTrigger), "GMs never receive screamers")
}

func TestScreamerSendRequiresGM(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p1", RolePlayer, "Alice")
	f.join(t, "p2", RolePlayer, "Bob")
	f.rec.reset()

	f.dispatch(t, "p1", EvtScreamerSend, ScreamerSendPayload{RoomID: "r1", Targets: Targets{All: true}})

	assert.Empty(t, f.rec.received("p2", EvtScreamerTrigger))
}

func TestHapticsStartClampsBPM(t *testing.T) {
	f := newFixture(t)
	f.join(t, "gm1", RoleGM, "MJ")
	f.join(t, "p1", RolePlayer, "Alice")

	cases := []struct {
		in   float64
		want int
	}{
		{0, 60},
		{10, 50},
		{59.9, 60}, // rounds, not truncates
		{120, 120},
		{120.4, 120},
		{400, 160},
	}
	for _, tc := range cases {
		f.rec.reset()
		f.dispatch(t, "gm1", EvtHapticsStart, HapticsPayload{RoomID: "r1", Targets: Targets{All: true}, BPM: tc.in})

		ev, ok := f.rec.last("p1", EvtHapticsStart)
		require.True(t, ok)
		got := ev.Data.(HapticsStartPayload)
		assert.Equal(t, tc.want, got.BPM, "bpm %v", tc.in)
		assert.Equal(t, "heartbeat", got.Pattern)
	}
}

func TestHapticsStopReachesTargets(t *testing.T) {
	f := newFixture(t)
	f.join(t, "gm1", RoleGM, "MJ")
	f.join(t, "p1", RolePlayer, "Alice")
	f.join(t, "p2", RolePlayer, "Bob")
	f.rec.reset()

	f.dispatch(t, "gm1", EvtHapticsStop, HapticsPayload{RoomID: "r1", Targets: Targets{IDs: []string{"p2"}}})

	assert.Empty(t, f.rec.received("p1", EvtHapticsStop))
	assert.Len(t, f.rec.received("p2", EvtHapticsStop), 1)
}

func TestStateGetRequiresMembership(t *testing.T) {
	f := newFixture(t)
	f.join(t, "p1", RolePlayer, "Alice")
	f.rec.reset()

	f.dispatch(t, "stranger", EvtStateGet, RoomRefPayload{RoomID: "r1"})
	assert.Empty(t, f.rec.received("stranger", EvtStateInit))

	f.dispatch(t, "p1", EvtStateGet, RoomRefPayload{RoomID: "r1"})
	ev, ok := f.rec.last("p1", EvtStateInit)
	require.True(t, ok)
	init := ev.Data.(StateInitPayload)
	assert.Nil(t, init.You)
	require.NotNil(t, init.Wizard)
	assert.False(t, init.Wizard.Active)
}

func TestDispatchCountsMalformedFrames(t *testing.T) {
	f := newFixture(t)

	f.svc.Dispatch("c1", []byte("not json"))
	f.svc.Dispatch("c1", []byte(`{"data":{}}`))                              // missing event
	f.svc.Dispatch("c1", []byte(`{"event":"no:such:event","data":{}}`))      // unknown event
	f.svc.Dispatch("c1", []byte(`{"event":"dice:roll","data":{"sides":"6"}}`)) // bad payload type

	assert.Equal(t, 4, f.svc.Malformed())
	assert.Empty(t, f.rec.all())
}

func TestMergeItemsDeduplicatesByNameAndDescription(t *testing.T) {
	existing := []Item{
		{Name: "Relique", Description: "scellée", Locked: true},
		{Name: "Torche", Description: "simple"},
	}
	incoming := []Item{
		{Name: "Relique", Description: "scellée"}, // duplicate of the locked entry
		{Name: "Corde", Description: "neuve"},
		{Name: "Corde", Description: "neuve"},
	}

	got := mergeItems(existing, incoming)

	require.Len(t, got, 2)
	assert.True(t, got[0].Locked)
	assert.Equal(t, "Corde", got[1].Name)
}
