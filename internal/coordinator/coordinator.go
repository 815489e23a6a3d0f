// Package coordinator owns the sync core's lifecycle: install-time
// precaching and migration, activation-time cache eviction, deferred sync
// work, scheduled notifications, and the control-message surface exposed to
// connected application instances.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Georgexzy/quest-tracker/internal/cache"
	"github.com/Georgexzy/quest-tracker/internal/clients"
	"github.com/Georgexzy/quest-tracker/internal/config"
	"github.com/Georgexzy/quest-tracker/internal/core"
	"github.com/Georgexzy/quest-tracker/internal/ingest"
	"github.com/Georgexzy/quest-tracker/internal/logging"
	"github.com/Georgexzy/quest-tracker/internal/quest"
	"github.com/Georgexzy/quest-tracker/internal/storage"
)

// Coordinator wires the store, cache, reconciler and client hub together and
// drives deferred work. Deferred-work failures are logged and swallowed;
// nothing that runs in the background may take the process down.
type Coordinator struct {
	cfg   *config.Config
	db    *storage.DB
	cache *cache.Store
	hub   *clients.Hub

	steps  *storage.StepsStore
	health *storage.HealthStore
	quests *storage.QuestStore
	habits *storage.HabitStore

	ingestor   *ingest.Ingestor
	reconciler *quest.Reconciler

	clock core.Clock
	cron  *cron.Cron
	log   *logging.Logger

	wg sync.WaitGroup

	mu          sync.Mutex
	ready       bool
	online      bool
	onlineKnown bool
}

// Config for the coordinator.
type Config struct {
	Cfg   *config.Config
	DB    *storage.DB
	Cache *cache.Store
	Hub   *clients.Hub
	Clock core.Clock // nil means the wall clock
}

// New creates a coordinator and its stores over the given database.
func New(cfg Config) *Coordinator {
	clock := cfg.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}

	steps := storage.NewStepsStore(cfg.DB)
	health := storage.NewHealthStore(cfg.DB)
	quests := storage.NewQuestStore(cfg.DB)
	habits := storage.NewHabitStore(cfg.DB)

	c := &Coordinator{
		cfg:        cfg.Cfg,
		db:         cfg.DB,
		cache:      cfg.Cache,
		hub:        cfg.Hub,
		steps:      steps,
		health:     health,
		quests:     quests,
		habits:     habits,
		reconciler: quest.NewReconciler(quests, steps, clock),
		clock:      clock,
		cron:       cron.New(),
		log:        logging.WithField("component", "coordinator"),
	}

	c.ingestor = ingest.NewIngestor(ingest.NewNormalizer(clock), steps, health)
	c.ingestor.AfterIngest = func() {
		if _, err := c.RecomputeAndBroadcast(); err != nil {
			c.log.Error("post-ingest recompute failed: %v", err)
		}
	}

	return c
}

// Ingestor returns the shared ingestion pipeline, wired to trigger
// reconciliation after step writes.
func (c *Coordinator) Ingestor() *ingest.Ingestor {
	return c.ingestor
}

// StepsStore returns the steps store.
func (c *Coordinator) StepsStore() *storage.StepsStore { return c.steps }

// HealthStore returns the health store.
func (c *Coordinator) HealthStore() *storage.HealthStore { return c.health }

// WSHandler returns the client hub's upgrade handler.
func (c *Coordinator) WSHandler() http.HandlerFunc {
	return c.hub.HandleWS
}

// --- Lifecycle ---

// Install precaches the shell assets and migrates the store, then marks the
// core ready without waiting for old instances to drain.
func (c *Coordinator) Install() error {
	if err := c.cache.Precache(c.cfg.Cache.ShellGeneration, c.cfg.Assets.Dir, c.cfg.Assets.Shell); err != nil {
		return fmt.Errorf("precache shell: %w", err)
	}
	if err := c.db.Migrate(); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()

	c.log.Info("install complete, core ready")
	return nil
}

// Activate deletes every cache generation that is not one of the current
// three. Generations are independently versioned, so bumping the shell never
// drops cached API responses.
func (c *Coordinator) Activate() error {
	removed, err := c.cache.EvictExcept(c.cfg.Cache.Current()...)
	if err != nil {
		return fmt.Errorf("evict stale generations: %w", err)
	}
	c.log.Info("activation complete, %d stale generation(s) evicted", len(removed))
	return nil
}

// Start binds the control-message handler and starts the periodic schedules.
func (c *Coordinator) Start() error {
	c.hub.OnMessage(c.HandleMessage)

	if _, err := c.cron.AddFunc(c.cfg.Sync.QuestCheckSchedule, c.dailyQuestCheck); err != nil {
		return fmt.Errorf("schedule quest check: %w", err)
	}
	if _, err := c.cron.AddFunc(c.cfg.Sync.HealthSyncSchedule, func() {
		c.runSyncAsync(core.SyncTagHealth)
	}); err != nil {
		return fmt.Errorf("schedule health sync: %w", err)
	}

	c.cron.Start()
	c.log.Info("periodic schedules started (quest check %q, health sync %q)",
		c.cfg.Sync.QuestCheckSchedule, c.cfg.Sync.HealthSyncSchedule)
	return nil
}

// Shutdown stops the schedules and waits for in-flight deferred work,
// bounded by ctx. Pending notification timers are dropped; clients
// re-register them on reconnect.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cron.Stop()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether install has completed.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// --- Broadcast surface ---

// Broadcast fans a typed message out to every connected client.
func (c *Coordinator) Broadcast(msgType string, payload any) {
	c.hub.Broadcast(msgType, payload)
}

// SetOnline records the latest upstream fetch outcome and broadcasts
// NETWORK_STATUS_CHANGE on every transition. The first report always counts
// as a transition.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	changed := !c.onlineKnown || c.online != online
	c.online = online
	c.onlineKnown = true
	c.mu.Unlock()

	if !changed {
		return
	}
	c.log.Info("network status changed: online=%v", online)
	c.hub.Broadcast(core.MsgNetworkStatusChange, map[string]any{"isOnline": online})
}

// --- Deferred work ---

// RunSync resolves a deferred-sync tag and reports the outcome to connected
// clients as BACKGROUND_SYNC_COMPLETE. Unknown tags are an error and are
// reported as a failed sync.
func (c *Coordinator) RunSync(tag string) error {
	var err error
	switch tag {
	case core.SyncTagSteps, core.SyncTagQuestCheck:
		_, err = c.RecomputeAndBroadcast()
	case core.SyncTagHabits:
		// Habit syncing has no remote counterpart yet; the tag resolves
		// to a successful no-op so registrations never wedge.
	case core.SyncTagHealth:
		err = c.resyncHealth()
	default:
		err = fmt.Errorf("%w: %s", core.ErrUnknownSyncTag, tag)
	}

	if err != nil {
		c.log.Error("sync %s failed: %v", tag, err)
	}
	c.hub.Broadcast(core.MsgBackgroundSyncComplete, map[string]any{
		"type":    tag,
		"success": err == nil,
	})
	return err
}

// runSyncAsync runs a sync on its own goroutine, tracked for shutdown.
func (c *Coordinator) runSyncAsync(tag string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.RunSync(tag)
	}()
}

// resyncHealth revalidates the stored health collection. Records are held
// locally until a consumer pulls them over the API, so the resync amounts to
// confirming the collection is readable and reporting its size.
func (c *Coordinator) resyncHealth() error {
	n, err := c.health.Count()
	if err != nil {
		return fmt.Errorf("health resync: %w", err)
	}
	c.log.Info("health resync complete, %d record(s) available", n)
	return nil
}

// RecomputeAndBroadcast runs quest reconciliation and pushes the result to
// every connected client.
func (c *Coordinator) RecomputeAndBroadcast() (*quest.Result, error) {
	result, err := c.reconciler.Recompute()
	if err != nil {
		return nil, err
	}
	c.hub.Broadcast(core.MsgQuestProgressUpdated, result)
	return result, nil
}

// dailyQuestCheck announces the daily check and reconciles.
func (c *Coordinator) dailyQuestCheck() {
	c.hub.Broadcast(core.MsgDailyQuestCheck, map[string]any{
		"timestamp": c.clock.Now().UTC().Format(time.RFC3339),
	})
	c.runSyncAsync(core.SyncTagQuestCheck)
}

// ScheduleNotification arms a best-effort delayed notification. The timer
// lives in process memory only; a restart drops it and clients re-register.
func (c *Coordinator) ScheduleNotification(title, body, tag string, delay time.Duration) {
	c.log.Info("notification %q scheduled in %s", tag, delay)
	time.AfterFunc(delay, func() {
		c.hub.Broadcast(core.MsgNotification, map[string]any{
			"title": title,
			"body":  body,
			"tag":   tag,
		})
	})
}

// --- Control messages ---

type syncRequest struct {
	Tag string `json:"tag"`
}

type notificationRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Tag     string `json:"tag"`
	DelayMs int64  `json:"delay"`
}

// HandleMessage maps one inbound control message to its store or
// reconciliation operation. Errors never propagate to the hub; a failed save
// leaves state unchanged until the next trigger.
func (c *Coordinator) HandleMessage(clientID string, msg clients.Inbound) {
	switch msg.Type {
	case core.MsgSkipWaiting:
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()

	case core.MsgSaveStepsData:
		var rec core.StepsRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			c.log.Error("bad steps payload from %s: %v", clientID, err)
			return
		}
		if _, err := c.ingestor.IngestSteps(&rec); err != nil {
			c.log.Error("save steps failed: %v", err)
		}

	case core.MsgSaveHealthData:
		var rec core.HealthRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			c.log.Error("bad health payload from %s: %v", clientID, err)
			return
		}
		var err error
		if rec.ID != 0 {
			err = c.health.Update(&rec)
		} else {
			_, err = c.health.Insert(&rec)
		}
		if err != nil {
			c.log.Error("save health failed: %v", err)
		}

	case core.MsgSaveQuestData:
		var q core.Quest
		if err := json.Unmarshal(msg.Payload, &q); err != nil {
			c.log.Error("bad quest payload from %s: %v", clientID, err)
			return
		}
		var err error
		if q.ID != 0 {
			err = c.quests.Update(&q)
		} else {
			_, err = c.quests.Insert(&q)
		}
		if err != nil {
			c.log.Error("save quest failed: %v", err)
		}

	case core.MsgGetStepsData:
		records, err := c.steps.GetAll()
		if err != nil {
			c.log.Error("get steps failed: %v", err)
			return
		}
		c.reply(clientID, clients.Message{
			Type:      core.MsgStepsData,
			Payload:   records,
			RequestID: msg.RequestID,
		})

	case core.MsgGetQuestData:
		records, err := c.quests.GetAll()
		if err != nil {
			c.log.Error("get quests failed: %v", err)
			return
		}
		c.reply(clientID, clients.Message{
			Type:      core.MsgQuestData,
			Payload:   records,
			RequestID: msg.RequestID,
		})

	case core.MsgSyncRequest:
		var req syncRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.log.Error("bad sync request from %s: %v", clientID, err)
			return
		}
		c.runSyncAsync(req.Tag)

	case core.MsgScheduleNotification:
		var req notificationRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.log.Error("bad notification request from %s: %v", clientID, err)
			return
		}
		c.ScheduleNotification(req.Title, req.Body, req.Tag, time.Duration(req.DelayMs)*time.Millisecond)

	case core.MsgUpdateQuestProgress:
		if _, err := c.RecomputeAndBroadcast(); err != nil {
			c.log.Error("forced recompute failed: %v", err)
		}

	default:
		c.log.Warn("unknown control message %q from %s", msg.Type, clientID)
	}
}

func (c *Coordinator) reply(clientID string, msg clients.Message) {
	if err := c.hub.Send(clientID, msg); err != nil {
		c.log.Warn("reply to %s failed: %v", clientID, err)
	}
}
