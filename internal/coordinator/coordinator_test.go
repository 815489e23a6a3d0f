package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Georgexzy/quest-tracker/internal/cache"
	"github.com/Georgexzy/quest-tracker/internal/clients"
	"github.com/Georgexzy/quest-tracker/internal/config"
	"github.com/Georgexzy/quest-tracker/internal/core"
	"github.com/Georgexzy/quest-tracker/internal/storage"
)

func testCoordinator(t *testing.T) *Coordinator {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cacheStore, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}

	cfg := config.Default()
	cfg.Assets.Dir = t.TempDir()

	return New(Config{
		Cfg:   cfg,
		DB:    db,
		Cache: cacheStore,
		Hub:   clients.NewHub(),
		Clock: core.FixedClock{T: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)},
	})
}

// wsClient connects one websocket client to the coordinator's hub.
func wsClient(t *testing.T, c *Coordinator) *websocket.Conn {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.WSHandler())
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.hub.Count() > 0 {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client never registered")
	return nil
}

func readMessage(t *testing.T, conn *websocket.Conn) clients.Message {
	t.Helper()
	var msg clients.Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

// --- Lifecycle ---

func TestInstall_PrecachesAndMigrates(t *testing.T) {
	c := testCoordinator(t)

	for _, name := range []string{"index.html", "app.js"} {
		path := filepath.Join(c.cfg.Assets.Dir, name)
		if err := os.WriteFile(path, []byte("asset "+name), 0644); err != nil {
			t.Fatalf("write asset: %v", err)
		}
	}
	c.cfg.Assets.Shell = []string{"/", "/index.html", "/app.js"}

	if c.Ready() {
		t.Fatal("core ready before install")
	}
	if err := c.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !c.Ready() {
		t.Error("core not ready after install")
	}

	for _, url := range []string{"/", "/index.html", "/app.js"} {
		if _, err := c.cache.Match(c.cfg.Cache.ShellGeneration, url); err != nil {
			t.Errorf("shell asset %s not precached: %v", url, err)
		}
	}

	// Migration ran: the stores are queryable.
	if _, err := c.steps.Count(); err != nil {
		t.Errorf("steps store unusable after install: %v", err)
	}
}

func TestActivate_EvictsStaleGenerations(t *testing.T) {
	c := testCoordinator(t)

	stale := "quest-tracker-shell-v1"
	for _, gen := range append(c.cfg.Cache.Current(), stale) {
		err := c.cache.Put(gen, "/marker", &cache.Entry{Status: 200, Body: []byte("x")})
		if err != nil {
			t.Fatalf("seed generation %s: %v", gen, err)
		}
	}

	if err := c.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	gens, err := c.cache.Generations()
	if err != nil {
		t.Fatalf("Generations: %v", err)
	}
	for _, gen := range gens {
		if gen == stale {
			t.Errorf("stale generation %s survived activation", stale)
		}
	}
	if len(gens) != len(c.cfg.Cache.Current()) {
		t.Errorf("generations after activate = %v", gens)
	}
}

// --- Deferred sync ---

func TestRunSync_ReconcilesSteps(t *testing.T) {
	c := testCoordinator(t)

	_, err := c.quests.Insert(&core.Quest{
		Category: "fitness",
		Target:   map[string]any{"steps": 5000},
	})
	if err != nil {
		t.Fatalf("insert quest: %v", err)
	}
	if _, err := c.steps.Insert(&core.StepsRecord{Date: "2024-06-15", Steps: 6200, Source: "test"}); err != nil {
		t.Fatalf("insert steps: %v", err)
	}

	if err := c.RunSync(core.SyncTagSteps); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	quests, _ := c.quests.GetAll()
	if len(quests) != 1 {
		t.Fatalf("quests = %d, want 1", len(quests))
	}
	if quests[0].Progress != 5000 || !quests[0].Completed {
		t.Errorf("quest = progress %d completed %v, want capped 5000 completed", quests[0].Progress, quests[0].Completed)
	}
}

func TestRunSync_HabitsIsANoOp(t *testing.T) {
	c := testCoordinator(t)
	if err := c.RunSync(core.SyncTagHabits); err != nil {
		t.Errorf("habit sync should succeed, got %v", err)
	}
}

func TestRunSync_HealthResync(t *testing.T) {
	c := testCoordinator(t)
	if _, err := c.health.Insert(&core.HealthRecord{Type: "sleep"}); err != nil {
		t.Fatalf("insert health: %v", err)
	}
	if err := c.RunSync(core.SyncTagHealth); err != nil {
		t.Errorf("health resync should succeed, got %v", err)
	}
}

func TestRunSync_UnknownTag(t *testing.T) {
	c := testCoordinator(t)
	if err := c.RunSync("sync-nonsense"); !errors.Is(err, core.ErrUnknownSyncTag) {
		t.Errorf("error = %v, want ErrUnknownSyncTag", err)
	}
}

func TestRunSync_BroadcastsCompletion(t *testing.T) {
	c := testCoordinator(t)
	conn := wsClient(t, c)

	if err := c.RunSync(core.SyncTagHabits); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != core.MsgBackgroundSyncComplete {
		t.Fatalf("type = %s, want %s", msg.Type, core.MsgBackgroundSyncComplete)
	}
	payload := msg.Payload.(map[string]any)
	if payload["type"] != core.SyncTagHabits || payload["success"] != true {
		t.Errorf("payload = %v", payload)
	}
}

// --- Control messages ---

func TestHandleMessage_SaveStepsTriggersRecompute(t *testing.T) {
	c := testCoordinator(t)

	if _, err := c.quests.Insert(&core.Quest{
		Category: "fitness",
		Target:   map[string]any{"steps": 1000},
	}); err != nil {
		t.Fatalf("insert quest: %v", err)
	}

	c.HandleMessage("client-1", clients.Inbound{
		Type:    core.MsgSaveStepsData,
		Payload: json.RawMessage(`{"date":"2024-06-15","steps":1500,"source":"watch"}`),
	})

	if n, _ := c.steps.Count(); n != 1 {
		t.Fatalf("steps stored = %d, want 1", n)
	}
	quests, _ := c.quests.GetAll()
	if quests[0].Progress != 1000 || !quests[0].Completed {
		t.Errorf("quest not reconciled after save: %+v", quests[0])
	}
}

func TestHandleMessage_SaveQuestInsertThenUpdate(t *testing.T) {
	c := testCoordinator(t)

	c.HandleMessage("client-1", clients.Inbound{
		Type:    core.MsgSaveQuestData,
		Payload: json.RawMessage(`{"category":"fitness","target":{"steps":3000}}`),
	})

	quests, _ := c.quests.GetAll()
	if len(quests) != 1 {
		t.Fatalf("quests = %d, want 1", len(quests))
	}

	c.HandleMessage("client-1", clients.Inbound{
		Type:    core.MsgSaveQuestData,
		Payload: json.RawMessage(`{"id":1,"category":"fitness","status":"paused","target":{"steps":3000}}`),
	})

	updated, err := c.quests.GetByID(1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != "paused" {
		t.Errorf("status = %q, want paused", updated.Status)
	}
	all, allErr := c.quests.GetAll()
	if n := len(mustAll(t, all, allErr)); n != 1 {
		t.Errorf("quests after update = %d, want 1", n)
	}
}

func mustAll(t *testing.T, quests []*core.Quest, err error) []*core.Quest {
	t.Helper()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	return quests
}

func TestHandleMessage_BadPayloadLeavesStateUnchanged(t *testing.T) {
	c := testCoordinator(t)

	c.HandleMessage("client-1", clients.Inbound{
		Type:    core.MsgSaveStepsData,
		Payload: json.RawMessage(`{broken`),
	})

	if n, _ := c.steps.Count(); n != 0 {
		t.Errorf("steps stored = %d, want 0", n)
	}
}

func TestHandleMessage_GetStepsRepliesWithRequestID(t *testing.T) {
	c := testCoordinator(t)
	conn := wsClient(t, c)

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.steps.Insert(&core.StepsRecord{Date: "2024-06-15", Steps: 800, Source: "test"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := conn.WriteJSON(map[string]any{"type": core.MsgGetStepsData, "requestId": "req-42"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != core.MsgStepsData {
		t.Fatalf("type = %s, want %s", msg.Type, core.MsgStepsData)
	}
	if msg.RequestID != "req-42" {
		t.Errorf("requestId = %q, want req-42", msg.RequestID)
	}
	records := msg.Payload.([]any)
	if len(records) != 1 {
		t.Errorf("payload records = %d, want 1", len(records))
	}
}

// --- Network status / notifications ---

func TestSetOnline_BroadcastsOnTransitionsOnly(t *testing.T) {
	c := testCoordinator(t)
	conn := wsClient(t, c)

	c.SetOnline(false)
	msg := readMessage(t, conn)
	if msg.Type != core.MsgNetworkStatusChange {
		t.Fatalf("type = %s, want %s", msg.Type, core.MsgNetworkStatusChange)
	}
	if msg.Payload.(map[string]any)["isOnline"] != false {
		t.Errorf("payload = %v, want isOnline false", msg.Payload)
	}

	// Same state again must stay silent.
	c.SetOnline(false)
	c.SetOnline(true)

	msg = readMessage(t, conn)
	if msg.Payload.(map[string]any)["isOnline"] != true {
		t.Errorf("second broadcast payload = %v, want isOnline true", msg.Payload)
	}
}

func TestScheduleNotification_FiresAndBroadcasts(t *testing.T) {
	c := testCoordinator(t)
	conn := wsClient(t, c)

	c.ScheduleNotification("Quest check", "Time to move", "daily-reminder", 20*time.Millisecond)

	msg := readMessage(t, conn)
	if msg.Type != core.MsgNotification {
		t.Fatalf("type = %s, want %s", msg.Type, core.MsgNotification)
	}
	payload := msg.Payload.(map[string]any)
	if payload["title"] != "Quest check" || payload["tag"] != "daily-reminder" {
		t.Errorf("payload = %v", payload)
	}
}
