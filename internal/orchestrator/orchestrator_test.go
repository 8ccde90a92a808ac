package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/salonkit/campaignd/internal/campaign"
	"github.com/salonkit/campaignd/internal/dispatch"
	"github.com/salonkit/campaignd/internal/models"
	"github.com/salonkit/campaignd/internal/queue"
)

type fakeRepo struct {
	mu        sync.Mutex
	campaigns map[string]*models.Campaign
	nextID    int
}

func (f *fakeRepo) Create(_ context.Context, c *models.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		f.nextID++
		c.ID = fmt.Sprintf("camp-%d", f.nextID)
	}
	c.Version = 1
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f *fakeRepo) Update(_ context.Context, c *models.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.Version++
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.campaigns, id)
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepo) List(_ context.Context, _ string, _ models.CampaignFilter) (*models.CampaignPage, error) {
	return &models.CampaignPage{}, nil
}

func (f *fakeRepo) Stats(_ context.Context, _ string) (*models.CampaignStats, error) {
	return &models.CampaignStats{}, nil
}

type fakeTemplates struct{}

func (fakeTemplates) GetByID(_ context.Context, _ string) (*models.CampaignTemplate, error) {
	return nil, nil
}
func (fakeTemplates) List(_ context.Context, _ string, _ models.TemplateFilter) (*models.TemplatePage, error) {
	return &models.TemplatePage{}, nil
}
func (fakeTemplates) Save(_ context.Context, _ *models.CampaignTemplate) error { return nil }
func (fakeTemplates) Delete(_ context.Context, _ string) error                 { return nil }
func (fakeTemplates) IncrementUsage(_ context.Context, _ string) error         { return nil }

type fakeResolver struct {
	recipients []models.Recipient
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, _ models.CampaignType, _ models.AudienceConfig) ([]models.Recipient, error) {
	out := make([]models.Recipient, len(f.recipients))
	copy(out, f.recipients)
	return out, nil
}

type fakeLog struct {
	mu       sync.Mutex
	claimed  map[string]string // campaignID|occurrence|address -> variant
	outcomes map[string]string // campaignID|occurrence|address -> status
}

func newFakeLog() *fakeLog {
	return &fakeLog{claimed: map[string]string{}, outcomes: map[string]string{}}
}

func logKey(campaignID string, occurrence int, address string) string {
	return fmt.Sprintf("%s|%d|%s", campaignID, occurrence, address)
}

func (f *fakeLog) Claim(_ context.Context, campaignID string, occurrence int, variant string, recipients []models.Recipient) ([]models.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var won []models.Recipient
	for _, r := range recipients {
		key := logKey(campaignID, occurrence, r.Address)
		if _, taken := f.claimed[key]; taken {
			continue
		}
		f.claimed[key] = variant
		won = append(won, r)
	}
	return won, nil
}

func (f *fakeLog) MarkOutcome(_ context.Context, campaignID string, occurrence int, address, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[logKey(campaignID, occurrence, address)] = status
	return nil
}

func (f *fakeLog) Counts(_ context.Context, campaignID string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for key, status := range f.outcomes {
		if strings.HasPrefix(key, campaignID+"|") {
			counts[status]++
		}
	}
	return counts, nil
}

func (f *fakeLog) variantOf(campaignID string, occurrence int, address string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimed[logKey(campaignID, occurrence, address)]
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.EngagementEvent
}

func (f *fakeRecorder) RecordEvent(_ context.Context, e *models.EngagementEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

type fakeStats struct {
	counts map[string]int
}

func (f *fakeStats) VariantCounts(_ context.Context, _ string, _ models.EventKind) (map[string]int, error) {
	return f.counts, nil
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks []*queue.Task
}

func (f *fakeTasks) Enqueue(_ context.Context, task *queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *task
	cp.ID = fmt.Sprintf("task-%d", len(f.tasks)+1)
	f.tasks = append(f.tasks, &cp)
	return nil
}

func (f *fakeTasks) CancelCampaign(_ context.Context, campaignID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*queue.Task
	removed := 0
	for _, t := range f.tasks {
		if t.CampaignID == campaignID {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	f.tasks = kept
	return removed, nil
}

// pop removes and returns the first task for a campaign, the way a
// dequeue claims it out of the pending set.
func (f *fakeTasks) pop(campaignID string) *queue.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.tasks {
		if t.CampaignID == campaignID {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return t
		}
	}
	return nil
}

func (f *fakeTasks) PendingForCampaign(_ context.Context, campaignID string) ([]*queue.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*queue.Task
	for _, t := range f.tasks {
		if t.CampaignID == campaignID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []*dispatch.Message
	failFor map[string]bool
	failAll bool
}

func (f *fakeDispatcher) Send(_ context.Context, msg *dispatch.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failFor[msg.To.Address] {
		return errors.New("gateway unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

// cancellingDispatcher cancels the batch context on its first delivery and
// then keeps delivering, so deliveries are in flight while the batch loop
// observes the cancellation.
type cancellingDispatcher struct {
	inner  *fakeDispatcher
	cancel context.CancelFunc
	once   sync.Once
}

func (d *cancellingDispatcher) Send(ctx context.Context, msg *dispatch.Message) error {
	d.once.Do(d.cancel)
	return d.inner.Send(ctx, msg)
}

func (f *fakeDispatcher) sentTo() map[string]*dispatch.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]*dispatch.Message{}
	for _, m := range f.sent {
		out[m.To.Address] = m
	}
	return out
}

type rig struct {
	orch       *Orchestrator
	repo       *fakeRepo
	resolver   *fakeResolver
	log        *fakeLog
	recorder   *fakeRecorder
	stats      *fakeStats
	tasks      *fakeTasks
	dispatcher *fakeDispatcher
	actor      models.ActorContext
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := &fakeRepo{campaigns: map[string]*models.Campaign{}}
	svc := campaign.NewService(repo, fakeTemplates{}, logger, campaign.Defaults{})

	r := &rig{
		repo: repo,
		resolver: &fakeResolver{recipients: []models.Recipient{
			{CustomerID: "c1", Name: "Anna", Address: "anna@example.com"},
			{CustomerID: "c2", Name: "Boris", Address: "boris@example.com"},
			{CustomerID: "c3", Name: "Carla", Address: "carla@example.com"},
		}},
		log:        newFakeLog(),
		recorder:   &fakeRecorder{},
		stats:      &fakeStats{counts: map[string]int{}},
		tasks:      &fakeTasks{},
		dispatcher: &fakeDispatcher{failFor: map[string]bool{}},
		actor:      models.ActorContext{ActorID: "user-1", SalonID: "salon-1", Role: models.RoleManager, Email: "owner@salon.example"},
	}
	r.orch = New(svc, repo, r.resolver, dispatch.ByChannel{models.TypeEmail: r.dispatcher},
		r.log, r.recorder, r.stats, r.tasks,
		Config{MinContentLength: 5, DefaultTimezone: "UTC", Concurrency: 2}, logger)
	return r
}

func (r *rig) seedCampaign(t *testing.T, mutate func(*models.Campaign)) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		SalonID: "salon-1",
		Name:    "Spring promo",
		Type:    models.TypeEmail,
		Status:  models.StatusDraft,
		Subject: "Hello {{customer_name}}",
		Content: "Fresh cuts all spring, {{customer_name}}!",
		Audience: models.AudienceConfig{Type: models.AudienceAll},
		Schedule: models.ScheduleConfig{Type: models.ScheduleImmediate},
		Settings: models.CampaignSettings{
			TrackOpens:      true,
			TrackClicks:     true,
			UnsubscribeLink: true,
			FromEmail:       "promo@salon.example",
			FromName:        "The Salon",
		},
	}
	if mutate != nil {
		mutate(c)
	}
	if err := r.repo.Create(context.Background(), c); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return c
}

func TestOrchestrator_Send_Immediate(t *testing.T) {
	r := newRig(t)
	c := r.seedCampaign(t, nil)

	got, err := r.orch.Send(context.Background(), r.actor, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Status != models.StatusSent {
		t.Errorf("Send() status = %s, want sent", got.Status)
	}

	sent := r.dispatcher.sentTo()
	if len(sent) != 3 {
		t.Fatalf("dispatched %d messages, want 3", len(sent))
	}
	if msg := sent["anna@example.com"]; msg == nil || msg.Subject != "Hello Anna" {
		t.Errorf("anna's subject not personalized: %+v", msg)
	}

	counts, _ := r.log.Counts(context.Background(), c.ID)
	if counts[OutcomeDispatched] != 3 {
		t.Errorf("dispatch log counts = %v, want 3 dispatched", counts)
	}
	if len(r.recorder.events) != 3 {
		t.Errorf("recorded %d sent events, want 3", len(r.recorder.events))
	}
}

func TestOrchestrator_Send_Idempotency(t *testing.T) {
	r := newRig(t)

	sending := r.seedCampaign(t, func(c *models.Campaign) { c.Status = models.StatusSending })
	if _, err := r.orch.Send(context.Background(), r.actor, sending.ID); !errors.Is(err, campaign.ErrAlreadySending) {
		t.Errorf("Send(sending) error = %v, want ErrAlreadySending", err)
	}

	done := r.seedCampaign(t, func(c *models.Campaign) { c.Status = models.StatusSent })
	if _, err := r.orch.Send(context.Background(), r.actor, done.ID); !errors.Is(err, campaign.ErrAlreadySent) {
		t.Errorf("Send(sent) error = %v, want ErrAlreadySent", err)
	}

	if len(r.dispatcher.sent) != 0 {
		t.Errorf("idempotency violations dispatched %d messages", len(r.dispatcher.sent))
	}
}

func TestOrchestrator_Send_RequiresManageRole(t *testing.T) {
	r := newRig(t)
	c := r.seedCampaign(t, nil)

	staff := r.actor
	staff.Role = models.RoleStaff
	if _, err := r.orch.Send(context.Background(), staff, c.ID); !errors.Is(err, campaign.ErrInsufficientPermissions) {
		t.Errorf("Send() as staff error = %v, want ErrInsufficientPermissions", err)
	}
}

func TestOrchestrator_Send_BlockedByValidation(t *testing.T) {
	r := newRig(t)
	r.resolver.recipients = nil
	c := r.seedCampaign(t, nil)

	_, err := r.orch.Send(context.Background(), r.actor, c.ID)

	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Send() error = %v, want BlockedError", err)
	}
	found := false
	for _, b := range blocked.Report.Blockers {
		if strings.Contains(b, "no contactable recipients") {
			found = true
		}
	}
	if !found {
		t.Errorf("blockers = %v, want empty-audience blocker", blocked.Report.Blockers)
	}

	stored, _ := r.repo.GetByID(context.Background(), c.ID)
	if stored.Status != models.StatusDraft {
		t.Errorf("blocked send moved status to %s, want draft", stored.Status)
	}
}

func TestOrchestrator_Send_TestMode(t *testing.T) {
	r := newRig(t)
	c := r.seedCampaign(t, func(c *models.Campaign) {
		c.Settings.TestMode = true
		c.Settings.TestRecipients = []string{"qa@salon.example"}
	})

	got, err := r.orch.Send(context.Background(), r.actor, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Status != models.StatusDraft {
		t.Errorf("test-mode send moved status to %s, want draft", got.Status)
	}

	sent := r.dispatcher.sentTo()
	if len(sent) != 1 {
		t.Fatalf("test mode dispatched %d messages, want 1", len(sent))
	}
	msg := sent["qa@salon.example"]
	if msg == nil || !strings.HasPrefix(msg.Subject, "[TEST] ") {
		t.Errorf("test message not marked: %+v", msg)
	}

	counts, _ := r.log.Counts(context.Background(), c.ID)
	if len(counts) != 0 {
		t.Errorf("test mode touched the dispatch log: %v", counts)
	}
}

func TestOrchestrator_Test_FallsBackToActorEmail(t *testing.T) {
	r := newRig(t)
	c := r.seedCampaign(t, nil)

	result, err := r.orch.Test(context.Background(), r.actor, c.ID, nil)
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if result.Sent != 1 || result.Failed != 0 {
		t.Errorf("Test() = %+v, want 1 sent", result)
	}
	if _, ok := r.dispatcher.sentTo()["owner@salon.example"]; !ok {
		t.Error("test send did not fall back to the actor's address")
	}
}

func TestOrchestrator_Send_Scheduled(t *testing.T) {
	r := newRig(t)
	sendAt := time.Now().Add(24 * time.Hour).UTC()
	c := r.seedCampaign(t, func(c *models.Campaign) {
		c.Schedule = models.ScheduleConfig{
			Type:     models.ScheduleAt,
			SendAt:   &sendAt,
			Timezone: "UTC",
		}
	})

	got, err := r.orch.Send(context.Background(), r.actor, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Status != models.StatusScheduled {
		t.Errorf("Send() status = %s, want scheduled", got.Status)
	}
	if len(r.dispatcher.sent) != 0 {
		t.Errorf("scheduled send dispatched %d messages immediately", len(r.dispatcher.sent))
	}

	pending, _ := r.tasks.PendingForCampaign(context.Background(), c.ID)
	if len(pending) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(pending))
	}
	task := pending[0]
	if task.Kind != queue.TaskWindow || !task.RunAt.Equal(sendAt) {
		t.Errorf("task = %+v, want window at %v", task, sendAt)
	}
}

func TestOrchestrator_Pause_CancelsPendingWindows(t *testing.T) {
	r := newRig(t)
	c := r.seedCampaign(t, func(c *models.Campaign) { c.Status = models.StatusScheduled })
	for i := 0; i < 3; i++ {
		r.tasks.Enqueue(context.Background(), &queue.Task{Kind: queue.TaskWindow, CampaignID: c.ID})
	}
	r.tasks.Enqueue(context.Background(), &queue.Task{Kind: queue.TaskWindow, CampaignID: "other"})

	got, err := r.orch.Pause(context.Background(), r.actor, c.ID)
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if got.Status != models.StatusPaused {
		t.Errorf("Pause() status = %s, want paused", got.Status)
	}

	pending, _ := r.tasks.PendingForCampaign(context.Background(), c.ID)
	if len(pending) != 0 {
		t.Errorf("%d windows survived the pause", len(pending))
	}
	other, _ := r.tasks.PendingForCampaign(context.Background(), "other")
	if len(other) != 1 {
		t.Error("pause cancelled another campaign's window")
	}
}

func TestOrchestrator_ExecuteTask_Window(t *testing.T) {
	r := newRig(t)
	c := r.seedCampaign(t, func(c *models.Campaign) { c.Status = models.StatusScheduled })

	err := r.orch.ExecuteTask(context.Background(), &queue.Task{
		Kind: queue.TaskWindow, CampaignID: c.ID, From: 0, To: 2,
	})
	if err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	if len(r.dispatcher.sent) != 2 {
		t.Errorf("window dispatched %d messages, want 2", len(r.dispatcher.sent))
	}
	stored, _ := r.repo.GetByID(context.Background(), c.ID)
	if stored.Status != models.StatusSent {
		t.Errorf("status after final window = %s, want sent", stored.Status)
	}
}

func TestOrchestrator_ExecuteTask_SkipsPausedCampaign(t *testing.T) {
	r := newRig(t)
	c := r.seedCampaign(t, func(c *models.Campaign) { c.Status = models.StatusPaused })

	err := r.orch.ExecuteTask(context.Background(), &queue.Task{
		Kind: queue.TaskWindow, CampaignID: c.ID, From: 0, To: 3,
	})
	if err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}
	if len(r.dispatcher.sent) != 0 {
		t.Errorf("paused campaign dispatched %d messages", len(r.dispatcher.sent))
	}
}

func TestOrchestrator_Send_AllFailures(t *testing.T) {
	r := newRig(t)
	r.dispatcher.failAll = true
	c := r.seedCampaign(t, nil)

	got, err := r.orch.Send(context.Background(), r.actor, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Errorf("Send() status = %s, want failed", got.Status)
	}
	counts, _ := r.log.Counts(context.Background(), c.ID)
	if counts[OutcomeRejected] != 3 {
		t.Errorf("counts = %v, want 3 rejected", counts)
	}
}

func TestOrchestrator_Send_PartialFailureStillSent(t *testing.T) {
	r := newRig(t)
	r.dispatcher.failFor["boris@example.com"] = true
	c := r.seedCampaign(t, nil)

	got, err := r.orch.Send(context.Background(), r.actor, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Status != models.StatusSent {
		t.Errorf("Send() status = %s, want sent despite one failure", got.Status)
	}
	counts, _ := r.log.Counts(context.Background(), c.ID)
	if counts[OutcomeDispatched] != 2 || counts[OutcomeRejected] != 1 {
		t.Errorf("counts = %v, want 2 dispatched 1 rejected", counts)
	}
}

func abCampaign(c *models.Campaign) {
	c.Settings.ABTest = &models.ABTestConfig{
		Enabled: true,
		Variants: []models.ABVariant{
			{Name: "A", Subject: "Subject A", Content: "Variant A content here"},
			{Name: "B", Subject: "Subject B", Content: "Variant B content here"},
		},
		TestSizePercent:   40,
		WinningMetric:     models.WinByOpens,
		TestDurationHours: 4,
	}
}

func TestOrchestrator_Send_ABTestPhase(t *testing.T) {
	r := newRig(t)
	r.resolver.recipients = tenRecipients()
	c := r.seedCampaign(t, abCampaign)

	got, err := r.orch.Send(context.Background(), r.actor, c.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Status != models.StatusSending {
		t.Errorf("A/B send status = %s, want sending during the test phase", got.Status)
	}
	if got.ABPhase != models.ABPhaseTesting {
		t.Errorf("ABPhase = %s, want testing", got.ABPhase)
	}

	// 40% of 10 recipients, split evenly across two variants.
	if len(r.dispatcher.sent) != 4 {
		t.Fatalf("test cohort dispatched %d, want 4", len(r.dispatcher.sent))
	}
	variants := map[string]int{}
	for _, msg := range r.dispatcher.sent {
		variants[r.log.variantOf(c.ID, 0, msg.To.Address)]++
	}
	if variants["A"] != 2 || variants["B"] != 2 {
		t.Errorf("variant split = %v, want 2/2", variants)
	}

	pending, _ := r.tasks.PendingForCampaign(context.Background(), c.ID)
	if len(pending) != 1 || pending[0].Kind != queue.TaskWinner {
		t.Fatalf("pending tasks = %+v, want one winner task", pending)
	}
}

func TestOrchestrator_ExecuteTask_WinnerGoesToRemainder(t *testing.T) {
	r := newRig(t)
	r.resolver.recipients = tenRecipients()
	r.stats.counts = map[string]int{"A": 1, "B": 5}
	c := r.seedCampaign(t, abCampaign)

	if _, err := r.orch.Send(context.Background(), r.actor, c.ID); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	cohortSize := len(r.dispatcher.sent)

	task := r.tasks.pop(c.ID)
	if task == nil || task.Kind != queue.TaskWinner {
		t.Fatalf("expected a pending winner task, got %+v", task)
	}
	if err := r.orch.ExecuteTask(context.Background(), task); err != nil {
		t.Fatalf("ExecuteTask(winner) error = %v", err)
	}

	// Remainder is everyone the cohort did not cover.
	if got := len(r.dispatcher.sent) - cohortSize; got != 10-cohortSize {
		t.Errorf("winner phase dispatched %d, want %d", got, 10-cohortSize)
	}
	for _, msg := range r.dispatcher.sent[cohortSize:] {
		if msg.Subject != "Subject B" {
			t.Errorf("remainder got subject %q, want winning variant B", msg.Subject)
		}
		if v := r.log.variantOf(c.ID, 0, msg.To.Address); v != "B" {
			t.Errorf("remainder claim variant = %q, want B", v)
		}
	}

	stored, _ := r.repo.GetByID(context.Background(), c.ID)
	if stored.ABPhase != models.ABPhaseDecided {
		t.Errorf("ABPhase = %s, want decided", stored.ABPhase)
	}
	if stored.Status != models.StatusSent {
		t.Errorf("status = %s, want sent", stored.Status)
	}
}

func TestOrchestrator_ExecuteTask_RecurringOccurrencesRedispatch(t *testing.T) {
	r := newRig(t)
	c := r.seedCampaign(t, func(c *models.Campaign) { c.Status = models.StatusScheduled })

	base := time.Now()
	for occ := 0; occ < 2; occ++ {
		r.tasks.Enqueue(context.Background(), &queue.Task{
			Kind: queue.TaskWindow, CampaignID: c.ID,
			Occurrence: occ, From: 0, To: 3,
			RunAt: base.AddDate(0, 0, 7*occ),
		})
	}

	if err := r.orch.ExecuteTask(context.Background(), r.tasks.pop(c.ID)); err != nil {
		t.Fatalf("ExecuteTask(occurrence 0) error = %v", err)
	}
	if len(r.dispatcher.sent) != 3 {
		t.Fatalf("first occurrence dispatched %d messages, want 3", len(r.dispatcher.sent))
	}
	stored, _ := r.repo.GetByID(context.Background(), c.ID)
	if stored.Status != models.StatusSending {
		t.Fatalf("status between occurrences = %s, want sending", stored.Status)
	}

	// The audience is claimed afresh per occurrence, so the second weekly
	// window reaches everyone again.
	if err := r.orch.ExecuteTask(context.Background(), r.tasks.pop(c.ID)); err != nil {
		t.Fatalf("ExecuteTask(occurrence 1) error = %v", err)
	}
	if got := len(r.dispatcher.sent) - 3; got != 3 {
		t.Errorf("second occurrence dispatched %d messages, want 3", got)
	}

	stored, _ = r.repo.GetByID(context.Background(), c.ID)
	if stored.Status != models.StatusSent {
		t.Errorf("status after final occurrence = %s, want sent", stored.Status)
	}
}

func TestOrchestrator_Test_ReportsPerRecipientFailures(t *testing.T) {
	r := newRig(t)
	r.dispatcher.failFor["down@salon.example"] = true
	c := r.seedCampaign(t, nil)

	result, err := r.orch.Test(context.Background(), r.actor, c.ID,
		[]string{"qa@salon.example", "down@salon.example"})
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if result.Sent != 1 || result.Failed != 1 {
		t.Fatalf("Test() = %+v, want 1 sent 1 failed", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "dispatch to down@salon.example failed") {
		t.Errorf("Errors = %v, want the failed recipient's dispatch error", result.Errors)
	}
}

func TestOrchestrator_DispatchBatch_CancelDrainsInflight(t *testing.T) {
	r := newRig(t)
	c := r.seedCampaign(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.orch.dispatchers[models.TypeEmail] = &cancellingDispatcher{inner: r.dispatcher, cancel: cancel}

	sent, failed := r.orch.dispatchBatch(ctx, c, tenRecipients(), 0, "", c.Subject, c.Content, c.HTMLContent)

	if sent+failed > 10 {
		t.Fatalf("dispatched %d recipients, want at most 10", sent+failed)
	}
	counts, _ := r.log.Counts(context.Background(), c.ID)
	if got := counts[OutcomeDispatched] + counts[OutcomeRejected]; got != sent+failed {
		t.Errorf("counters = %d, ledger outcomes = %d, want them equal", sent+failed, got)
	}
}

func tenRecipients() []models.Recipient {
	out := make([]models.Recipient, 10)
	for i := range out {
		out[i] = models.Recipient{
			CustomerID: fmt.Sprintf("c%d", i+1),
			Address:    fmt.Sprintf("customer%d@example.com", i+1),
		}
	}
	return out
}
