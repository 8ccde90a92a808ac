// Package orchestrator drives campaign sends: precondition checks, the
// pre-send validation gate, audience resolution, dispatch planning, batch
// delivery and the two-phase A/B flow. Deferred work (future windows,
// winner selection) is enqueued as durable tasks and executed by the
// Runner.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/salonkit/campaignd/internal/analytics"
	"github.com/salonkit/campaignd/internal/audience"
	"github.com/salonkit/campaignd/internal/campaign"
	"github.com/salonkit/campaignd/internal/dispatch"
	"github.com/salonkit/campaignd/internal/metrics"
	"github.com/salonkit/campaignd/internal/models"
	"github.com/salonkit/campaignd/internal/queue"
	"github.com/salonkit/campaignd/internal/repository"
	"github.com/salonkit/campaignd/internal/schedule"
	"github.com/salonkit/campaignd/internal/validate"
)

var (
	_ Resolver      = (*audience.Resolver)(nil)
	_ DispatchLog   = (*repository.DispatchRepository)(nil)
	_ EventRecorder = (*analytics.Aggregator)(nil)
	_ VariantStats  = (*repository.EventRepository)(nil)
	_ TaskStore     = (*queue.Store)(nil)
)

// Dispatch log outcomes.
const (
	OutcomeDispatched = "dispatched"
	OutcomeRejected   = "rejected"
)

// Resolver materializes campaign audiences.
type Resolver interface {
	Resolve(ctx context.Context, salonID string, channel models.CampaignType, cfg models.AudienceConfig) ([]models.Recipient, error)
}

// DispatchLog is the at-most-once claim ledger, scoped per dispatch
// occurrence so every recurrence instance claims its recipients afresh.
type DispatchLog interface {
	Claim(ctx context.Context, campaignID string, occurrence int, variant string, recipients []models.Recipient) ([]models.Recipient, error)
	MarkOutcome(ctx context.Context, campaignID string, occurrence int, address, status, errMsg string) error
	Counts(ctx context.Context, campaignID string) (map[string]int, error)
}

// EventRecorder stores engagement events raised by dispatching.
type EventRecorder interface {
	RecordEvent(ctx context.Context, e *models.EngagementEvent) error
}

// VariantStats reports per-variant engagement for winner selection.
type VariantStats interface {
	VariantCounts(ctx context.Context, campaignID string, kind models.EventKind) (map[string]int, error)
}

// TaskStore holds deferred dispatch work.
type TaskStore interface {
	Enqueue(ctx context.Context, task *queue.Task) error
	CancelCampaign(ctx context.Context, campaignID string) (int, error)
	PendingForCampaign(ctx context.Context, campaignID string) ([]*queue.Task, error)
}

// Config tunes the orchestrator.
type Config struct {
	MinContentLength  int
	DefaultTimezone   string
	RecurrenceHorizon int
	Concurrency       int
	BatchSize         int
	BatchDelayMinutes int
}

// TestResult summarizes a test send.
type TestResult struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// BlockedError carries the pre-send report when blockers stop a send.
type BlockedError struct {
	Report validate.Report
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("send blocked by %d validation issue(s)", len(e.Report.Blockers))
}

// Orchestrator coordinates the send pipeline.
type Orchestrator struct {
	service     *campaign.Service
	repo        campaign.Repository
	resolver    Resolver
	dispatchers dispatch.ByChannel
	log         DispatchLog
	recorder    EventRecorder
	stats       VariantStats
	tasks       TaskStore
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

func New(
	service *campaign.Service,
	repo campaign.Repository,
	resolver Resolver,
	dispatchers dispatch.ByChannel,
	log DispatchLog,
	recorder EventRecorder,
	stats VariantStats,
	tasks TaskStore,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 5
	}
	if cfg.RecurrenceHorizon < 1 {
		cfg.RecurrenceHorizon = 26
	}
	return &Orchestrator{
		service:     service,
		repo:        repo,
		resolver:    resolver,
		dispatchers: dispatchers,
		log:         log,
		recorder:    recorder,
		stats:       stats,
		tasks:       tasks,
		cfg:         cfg,
		logger:      logger.With("component", "orchestrator"),
		now:         time.Now,
	}
}

// Send starts (or schedules) a campaign send. Campaigns already in sending
// or sent fail instead of re-dispatching. When test mode is on, the send
// routes exclusively to the configured test recipients and the lifecycle
// does not advance.
func (o *Orchestrator) Send(ctx context.Context, actor models.ActorContext, id string) (*models.Campaign, error) {
	c, err := o.service.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageCampaigns() {
		return nil, campaign.ErrInsufficientPermissions
	}

	switch c.Status {
	case models.StatusSending:
		return nil, campaign.ErrAlreadySending
	case models.StatusSent:
		return nil, campaign.ErrAlreadySent
	}
	if err := campaign.ValidateTransition(c.Status, models.StatusSending); err != nil {
		// draft and paused go straight to sending; scheduled and failed
		// reach it through scheduled. Anything else is a dead end.
		if campaign.CanTransition(c.Status, models.StatusScheduled) {
			err = nil
		}
		if err != nil {
			return nil, err
		}
	}

	recipients, err := o.resolver.Resolve(ctx, c.SalonID, c.Type, c.Audience)
	if err != nil {
		return nil, err
	}

	rep := validate.PreSend(dataOf(c), len(recipients), o.cfg.MinContentLength)
	if !rep.OK() {
		metrics.IncSendsBlocked()
		return nil, &BlockedError{Report: rep}
	}
	for _, w := range rep.Warnings {
		o.logger.Info("pre-send warning", "campaign_id", c.ID, "warning", w)
	}

	if c.Settings.TestMode {
		result := o.testDispatch(ctx, c, c.Settings.TestRecipients, actor)
		o.logger.Info("test-mode send complete",
			"campaign_id", c.ID, "sent", result.Sent, "failed", result.Failed)
		return c, nil
	}

	now := o.now()
	plan, err := schedule.Build(c.Schedule, len(recipients), now, schedule.Options{
		Horizon:                  o.cfg.RecurrenceHorizon,
		DefaultTimezone:          o.cfg.DefaultTimezone,
		DefaultBatchSize:         o.cfg.BatchSize,
		DefaultBatchDelayMinutes: o.cfg.BatchDelayMinutes,
	})
	if err != nil {
		return nil, err
	}

	if c.Schedule.Type != models.ScheduleImmediate {
		c, err = o.service.ApplyTransition(ctx, c, models.StatusScheduled)
		if err != nil {
			return nil, err
		}
		metrics.IncTransitions(string(models.StatusScheduled))
		if err := o.enqueueWindows(ctx, c, actor, plan.Windows); err != nil {
			return nil, err
		}
		o.logger.Info("campaign scheduled",
			"campaign_id", c.ID, "windows", len(plan.Windows))
		return c, nil
	}

	// Immediate send. The CAS inside the transition is what makes two
	// concurrent send calls mutually exclusive. A failed campaign being
	// retried cannot enter sending directly and hops through scheduled.
	if !campaign.CanTransition(c.Status, models.StatusSending) {
		c, err = o.service.ApplyTransition(ctx, c, models.StatusScheduled)
		if err != nil {
			return nil, err
		}
	}
	c, err = o.service.ApplyTransition(ctx, c, models.StatusSending)
	if err != nil {
		return nil, err
	}
	metrics.IncTransitions(string(models.StatusSending))

	if ab := c.Settings.ABTest; ab != nil && ab.Enabled {
		if err := o.startABTest(ctx, c, actor, recipients); err != nil {
			return nil, err
		}
		return c, nil
	}

	var future []schedule.Window
	for _, w := range plan.Windows {
		if w.At.After(now) {
			future = append(future, w)
			continue
		}
		o.dispatchBatch(ctx, c, sliceRecipients(recipients, w.From, w.To), w.Occurrence, "", c.Subject, c.Content, c.HTMLContent)
	}
	if err := o.enqueueWindows(ctx, c, actor, future); err != nil {
		return nil, err
	}

	return o.finalize(ctx, c)
}

// Test sends the campaign content to explicit test recipients without
// claiming the dispatch log or advancing the lifecycle.
func (o *Orchestrator) Test(ctx context.Context, actor models.ActorContext, id string, recipients []string) (*TestResult, error) {
	c, err := o.service.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageCampaigns() {
		return nil, campaign.ErrInsufficientPermissions
	}
	if len(recipients) == 0 {
		recipients = c.Settings.TestRecipients
	}
	result := o.testDispatch(ctx, c, recipients, actor)
	return result, nil
}

// Pause stops a campaign and cancels every not-yet-fired dispatch window.
// Already-dispatched windows are not rolled back.
func (o *Orchestrator) Pause(ctx context.Context, actor models.ActorContext, id string) (*models.Campaign, error) {
	c, err := o.service.Transition(ctx, actor, id, models.StatusPaused)
	if err != nil {
		return nil, err
	}
	metrics.IncTransitions(string(models.StatusPaused))
	removed, err := o.tasks.CancelCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cancel pending windows for %s: %w", id, err)
	}
	o.logger.Info("campaign paused", "campaign_id", id, "cancelled_windows", removed)
	return c, nil
}

// ExecuteTask runs one due task. Called by the Runner; errors bubble up so
// the Runner can retry.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task *queue.Task) error {
	c, err := o.repo.GetByID(ctx, task.CampaignID)
	if err != nil {
		return fmt.Errorf("load campaign %s: %w", task.CampaignID, err)
	}
	if c == nil {
		// Campaign deleted after scheduling; nothing to do.
		return nil
	}

	switch task.Kind {
	case queue.TaskWindow:
		return o.executeWindow(ctx, c, task)
	case queue.TaskWinner:
		return o.executeWinner(ctx, c)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (o *Orchestrator) executeWindow(ctx context.Context, c *models.Campaign, task *queue.Task) error {
	switch c.Status {
	case models.StatusScheduled:
		var err error
		c, err = o.service.ApplyTransition(ctx, c, models.StatusSending)
		if err != nil {
			return err
		}
		metrics.IncTransitions(string(models.StatusSending))
	case models.StatusSending:
	default:
		// Paused, deleted back to draft, or already finished. The window
		// was cancelled in spirit; drop it.
		o.logger.Info("skipping window for inactive campaign",
			"campaign_id", c.ID, "status", c.Status)
		return nil
	}

	recipients, err := o.resolver.Resolve(ctx, c.SalonID, c.Type, c.Audience)
	if err != nil {
		return err
	}
	o.dispatchBatch(ctx, c, sliceRecipients(recipients, task.From, task.To), task.Occurrence, "", c.Subject, c.Content, c.HTMLContent)

	_, err = o.finalize(ctx, c)
	return err
}

// executeWinner closes the A/B test: picks the best variant from recorded
// engagement and dispatches its content to every recipient the test cohort
// did not cover.
func (o *Orchestrator) executeWinner(ctx context.Context, c *models.Campaign) error {
	if c.Status != models.StatusSending || c.ABPhase != models.ABPhaseTesting {
		o.logger.Info("skipping winner selection for inactive test",
			"campaign_id", c.ID, "status", c.Status, "ab_phase", c.ABPhase)
		return nil
	}
	ab := c.Settings.ABTest
	if ab == nil || len(ab.Variants) == 0 {
		return fmt.Errorf("campaign %s has no A/B variants", c.ID)
	}

	winner, err := o.selectWinner(ctx, c, ab)
	if err != nil {
		return err
	}
	o.logger.Info("A/B winner selected",
		"campaign_id", c.ID, "variant", winner.Name, "metric", ab.WinningMetric)

	recipients, err := o.resolver.Resolve(ctx, c.SalonID, c.Type, c.Audience)
	if err != nil {
		return err
	}
	// Both A/B phases share occurrence zero, so the ledger already contains
	// the test cohort and this batch reaches exactly the remainder.
	subject := winner.Subject
	if subject == "" {
		subject = c.Subject
	}
	o.dispatchBatch(ctx, c, recipients, 0, winner.Name, subject, winner.Content, c.HTMLContent)

	c.ABPhase = models.ABPhaseDecided
	if err := o.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("record A/B decision for %s: %w", c.ID, err)
	}

	_, err = o.finalize(ctx, c)
	return err
}

// selectWinner picks the variant with the most events of the winning
// metric. Ties and zero engagement fall back to the first variant.
func (o *Orchestrator) selectWinner(ctx context.Context, c *models.Campaign, ab *models.ABTestConfig) (models.ABVariant, error) {
	kind := models.EventOpened
	switch ab.WinningMetric {
	case models.WinByClicks:
		kind = models.EventClicked
	case models.WinByConversions:
		kind = models.EventConverted
	}

	counts, err := o.stats.VariantCounts(ctx, c.ID, kind)
	if err != nil {
		return models.ABVariant{}, fmt.Errorf("variant counts for %s: %w", c.ID, err)
	}

	winner := ab.Variants[0]
	best := counts[winner.Name]
	for _, v := range ab.Variants[1:] {
		if counts[v.Name] > best {
			winner = v
			best = counts[v.Name]
		}
	}
	return winner, nil
}

// startABTest dispatches the test cohort and schedules winner selection.
func (o *Orchestrator) startABTest(ctx context.Context, c *models.Campaign, actor models.ActorContext, recipients []models.Recipient) error {
	ab := c.Settings.ABTest

	cohort := len(recipients) * ab.TestSizePercent / 100
	if cohort < len(ab.Variants) {
		cohort = len(ab.Variants)
	}
	if cohort > len(recipients) {
		cohort = len(recipients)
	}

	// Even split of the cohort across variants; the first variants absorb
	// the remainder.
	per := cohort / len(ab.Variants)
	extra := cohort % len(ab.Variants)
	offset := 0
	for i, v := range ab.Variants {
		n := per
		if i < extra {
			n++
		}
		slice := sliceRecipients(recipients, offset, offset+n)
		offset += n

		subject := v.Subject
		if subject == "" {
			subject = c.Subject
		}
		o.dispatchBatch(ctx, c, slice, 0, v.Name, subject, v.Content, c.HTMLContent)
	}

	c.ABPhase = models.ABPhaseTesting
	if err := o.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("record A/B test phase for %s: %w", c.ID, err)
	}

	task := &queue.Task{
		Kind:       queue.TaskWinner,
		CampaignID: c.ID,
		SalonID:    c.SalonID,
		ActorID:    actor.ActorID,
		RunAt:      o.now().Add(time.Duration(ab.TestDurationHours) * time.Hour),
	}
	if err := o.tasks.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("schedule winner selection for %s: %w", c.ID, err)
	}

	o.logger.Info("A/B test started",
		"campaign_id", c.ID, "cohort", cohort, "variants", len(ab.Variants),
		"decision_at", task.RunAt)
	return nil
}

// dispatchBatch claims recipients and delivers to each claimed one
// concurrently. Failures affect only their recipient.
func (o *Orchestrator) dispatchBatch(ctx context.Context, c *models.Campaign, recipients []models.Recipient, occurrence int, variant, subject, content, htmlContent string) (sent, failed int) {
	if len(recipients) == 0 {
		return 0, 0
	}

	claimed, err := o.log.Claim(ctx, c.ID, occurrence, variant, recipients)
	if err != nil {
		o.logger.Error("failed to claim recipients", "campaign_id", c.ID, "error", err)
		return 0, 0
	}

	dispatcher, ok := o.dispatchers[c.Type]
	if !ok {
		for _, r := range claimed {
			o.markOutcome(ctx, c.ID, occurrence, r.Address, OutcomeRejected, "no dispatcher for channel "+string(c.Type))
		}
		return 0, len(claimed)
	}

	var mu sync.Mutex
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, r := range claimed {
		select {
		case <-ctx.Done():
			// In-flight deliveries still update the counters; wait for
			// them before reading.
			wg.Wait()
			return sent, failed
		default:
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(r models.Recipient) {
			defer func() {
				<-sem
				wg.Done()
			}()

			vars := dispatch.RecipientVars(r.Name, r.Address)
			msg := &dispatch.Message{
				To:        r,
				Subject:   dispatch.Render(subject, vars),
				Body:      dispatch.Render(content, vars),
				HTMLBody:  dispatch.Render(htmlContent, vars),
				FromName:  c.Settings.FromName,
				FromEmail: c.Settings.FromEmail,
				ReplyTo:   c.Settings.ReplyTo,
			}

			if err := dispatcher.Send(ctx, msg); err != nil {
				derr := &campaign.DispatchError{Recipient: r.Address, Reason: err.Error()}
				o.markOutcome(ctx, c.ID, occurrence, r.Address, OutcomeRejected, derr.Reason)
				metrics.IncDispatchFailures(string(c.Type))
				o.logger.Warn("dispatch failed", "campaign_id", c.ID, "error", derr)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			o.markOutcome(ctx, c.ID, occurrence, r.Address, OutcomeDispatched, "")
			metrics.IncDispatches(string(c.Type))

			recipientID := r.CustomerID
			if recipientID == "" {
				recipientID = r.Address
			}
			if err := o.recorder.RecordEvent(ctx, &models.EngagementEvent{
				CampaignID:  c.ID,
				RecipientID: recipientID,
				Kind:        models.EventSent,
				Timestamp:   o.now(),
			}); err != nil {
				o.logger.Warn("failed to record sent event",
					"campaign_id", c.ID, "recipient", r.Address, "error", err)
			}

			mu.Lock()
			sent++
			mu.Unlock()
		}(r)
	}

	wg.Wait()
	return sent, failed
}

// testDispatch delivers to test recipients directly, bypassing the claim
// ledger so a later real send still reaches everyone.
func (o *Orchestrator) testDispatch(ctx context.Context, c *models.Campaign, recipients []string, actor models.ActorContext) *TestResult {
	if len(recipients) == 0 && actor.Email != "" {
		recipients = []string{actor.Email}
	}

	result := &TestResult{}
	dispatcher, ok := o.dispatchers[c.Type]
	if !ok {
		result.Failed = len(recipients)
		result.Errors = append(result.Errors, "no dispatcher for channel "+string(c.Type))
		return result
	}

	for _, addr := range recipients {
		vars := dispatch.RecipientVars("", addr)
		msg := &dispatch.Message{
			To:        models.Recipient{Address: addr},
			Subject:   "[TEST] " + dispatch.Render(c.Subject, vars),
			Body:      dispatch.Render(c.Content, vars),
			HTMLBody:  dispatch.Render(c.HTMLContent, vars),
			FromName:  c.Settings.FromName,
			FromEmail: c.Settings.FromEmail,
			ReplyTo:   c.Settings.ReplyTo,
		}
		if err := dispatcher.Send(ctx, msg); err != nil {
			derr := &campaign.DispatchError{Recipient: addr, Reason: err.Error()}
			result.Failed++
			result.Errors = append(result.Errors, derr.Error())
			continue
		}
		result.Sent++
	}
	return result
}

// finalize closes out a campaign once no deferred work remains: sent when
// anything was delivered, failed when every dispatch was rejected.
func (o *Orchestrator) finalize(ctx context.Context, c *models.Campaign) (*models.Campaign, error) {
	pending, err := o.tasks.PendingForCampaign(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("pending tasks for %s: %w", c.ID, err)
	}
	if len(pending) > 0 || c.ABPhase == models.ABPhaseTesting {
		return c, nil
	}

	counts, err := o.log.Counts(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("dispatch counts for %s: %w", c.ID, err)
	}

	to := models.StatusSent
	if counts[OutcomeDispatched] == 0 && counts[OutcomeRejected] > 0 {
		to = models.StatusFailed
	}

	c, err = o.service.ApplyTransition(ctx, c, to)
	if err != nil {
		// A concurrent pause between dispatch and finalize wins.
		var invalid *campaign.InvalidTransitionError
		if errors.As(err, &invalid) {
			return c, nil
		}
		return nil, err
	}
	metrics.IncTransitions(string(to))
	o.logger.Info("campaign finished",
		"campaign_id", c.ID, "status", to,
		"dispatched", counts[OutcomeDispatched], "rejected", counts[OutcomeRejected])
	return c, nil
}

func (o *Orchestrator) enqueueWindows(ctx context.Context, c *models.Campaign, actor models.ActorContext, windows []schedule.Window) error {
	for _, w := range windows {
		task := &queue.Task{
			Kind:       queue.TaskWindow,
			CampaignID: c.ID,
			SalonID:    c.SalonID,
			ActorID:    actor.ActorID,
			Occurrence: w.Occurrence,
			Batch:      w.Batch,
			From:       w.From,
			To:         w.To,
			RunAt:      w.At,
		}
		if err := o.tasks.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("enqueue window for %s: %w", c.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) markOutcome(ctx context.Context, campaignID string, occurrence int, address, status, errMsg string) {
	if err := o.log.MarkOutcome(ctx, campaignID, occurrence, address, status, errMsg); err != nil {
		o.logger.Error("failed to mark dispatch outcome",
			"campaign_id", campaignID, "recipient", address, "error", err)
	}
}

func sliceRecipients(recipients []models.Recipient, from, to int) []models.Recipient {
	if from < 0 {
		from = 0
	}
	if to > len(recipients) || to == 0 {
		to = len(recipients)
	}
	if from >= to {
		return nil
	}
	return recipients[from:to]
}

func dataOf(c *models.Campaign) models.CampaignData {
	return models.CampaignData{
		Name:        c.Name,
		Description: c.Description,
		Type:        c.Type,
		Subject:     c.Subject,
		Content:     c.Content,
		HTMLContent: c.HTMLContent,
		TemplateID:  c.TemplateID,
		Audience:    c.Audience,
		Schedule:    c.Schedule,
		Settings:    c.Settings,
	}
}
