package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/salonkit/campaignd/internal/models"
	"github.com/salonkit/campaignd/internal/validate"
)

// Repository is the persistence collaborator for campaigns. GetByID returns
// nil, nil when the id does not resolve. Update is a compare-and-swap on
// the campaign version and returns ErrConcurrentModification when it loses.
type Repository interface {
	Create(ctx context.Context, c *models.Campaign) error
	Update(ctx context.Context, c *models.Campaign) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	List(ctx context.Context, salonID string, f models.CampaignFilter) (*models.CampaignPage, error)
	Stats(ctx context.Context, salonID string) (*models.CampaignStats, error)
}

// TemplateRepository is the read/write catalog of campaign templates.
type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*models.CampaignTemplate, error)
	List(ctx context.Context, salonID string, f models.TemplateFilter) (*models.TemplatePage, error)
	Save(ctx context.Context, t *models.CampaignTemplate) error
	Delete(ctx context.Context, id string) error
	IncrementUsage(ctx context.Context, id string) error
}

// Defaults carries the tenant-level configuration the service consumes.
type Defaults struct {
	Page     int
	PageSize int
}

// Service owns the campaign aggregate: identity, mutation rules and
// lifecycle transitions. Audience resolution, scheduling and dispatch live
// in their own packages and operate through this service.
type Service struct {
	repo      Repository
	templates TemplateRepository
	logger    *slog.Logger
	defaults  Defaults
	now       func() time.Time
}

// NewService creates a campaign service.
func NewService(repo Repository, templates TemplateRepository, logger *slog.Logger, defaults Defaults) *Service {
	if defaults.Page == 0 {
		defaults.Page = 1
	}
	if defaults.PageSize == 0 {
		defaults.PageSize = 20
	}
	return &Service{
		repo:      repo,
		templates: templates,
		logger:    logger.With("component", "campaign"),
		defaults:  defaults,
		now:       time.Now,
	}
}

func (s *Service) authorize(actor models.ActorContext) error {
	if actor.ActorID == "" {
		return ErrAuthenticationRequired
	}
	if actor.SalonID == "" {
		return ErrNoTenantContext
	}
	return nil
}

func (s *Service) authorizeManage(actor models.ActorContext) error {
	if err := s.authorize(actor); err != nil {
		return err
	}
	if !actor.CanManageCampaigns() {
		return ErrInsufficientPermissions
	}
	return nil
}

// load fetches a campaign and enforces tenant ownership. A campaign owned
// by another salon yields ErrCrossTenantAccess, not ErrNotFound.
func (s *Service) load(ctx context.Context, actor models.ActorContext, id string) (*models.Campaign, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if c.SalonID != actor.SalonID {
		return nil, ErrCrossTenantAccess
	}
	return c, nil
}

// checkDraftInput enforces the structural invariants every stored campaign
// must satisfy: name, known type, non-empty content, subject for email.
// Audience/schedule/settings completeness is a pre-send concern.
func checkDraftInput(data models.CampaignData) error {
	errs := validate.CheckStep(validate.StepBasics, data)
	for k, v := range validate.CheckStep(validate.StepContent, data) {
		errs[k] = v
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// Create persists a new draft campaign for the actor's salon.
func (s *Service) Create(ctx context.Context, actor models.ActorContext, data models.CampaignData) (*models.Campaign, error) {
	if err := s.authorizeManage(actor); err != nil {
		return nil, err
	}
	if err := checkDraftInput(data); err != nil {
		return nil, err
	}

	c := &models.Campaign{
		SalonID:     actor.SalonID,
		Name:        data.Name,
		Description: data.Description,
		Type:        data.Type,
		Status:      models.StatusDraft,
		Subject:     data.Subject,
		Content:     data.Content,
		HTMLContent: data.HTMLContent,
		TemplateID:  data.TemplateID,
		Audience:    data.Audience,
		Schedule:    data.Schedule,
		Settings:    data.Settings,
		CreatedBy:   actor.ActorID,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	if c.TemplateID != "" {
		if err := s.templates.IncrementUsage(ctx, c.TemplateID); err != nil {
			s.logger.Warn("failed to count template usage", "template_id", c.TemplateID, "error", err)
		}
	}

	s.logger.Info("campaign created", "campaign_id", c.ID, "salon_id", c.SalonID, "type", c.Type)
	return c, nil
}

// Update replaces the mutable portion of a campaign. Sent campaigns are
// immutable.
func (s *Service) Update(ctx context.Context, actor models.ActorContext, id string, data models.CampaignData) (*models.Campaign, error) {
	if err := s.authorizeManage(actor); err != nil {
		return nil, err
	}
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if c.Status == models.StatusSent {
		return nil, fmt.Errorf("cannot update campaign %s: %w", id, ErrAlreadySent)
	}
	if err := checkDraftInput(data); err != nil {
		return nil, err
	}

	c.Name = data.Name
	c.Description = data.Description
	c.Type = data.Type
	c.Subject = data.Subject
	c.Content = data.Content
	c.HTMLContent = data.HTMLContent
	c.TemplateID = data.TemplateID
	c.Audience = data.Audience
	c.Schedule = data.Schedule
	c.Settings = data.Settings

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update campaign %s: %w", id, err)
	}
	return c, nil
}

// Delete removes a campaign. A campaign mid-send cannot be deleted; pause
// it first.
func (s *Service) Delete(ctx context.Context, actor models.ActorContext, id string) error {
	if err := s.authorize(actor); err != nil {
		return err
	}
	if !actor.CanDeleteCampaigns() {
		return ErrInsufficientPermissions
	}
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if c.Status == models.StatusSending {
		return ErrDeleteWhileSending
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete campaign %s: %w", id, err)
	}
	s.logger.Info("campaign deleted", "campaign_id", id, "salon_id", actor.SalonID)
	return nil
}

// Transition moves a campaign to a new lifecycle status after validating
// the move against the state machine. Entering sent stamps SentAt; every
// other state leaves it untouched.
func (s *Service) Transition(ctx context.Context, actor models.ActorContext, id string, to models.CampaignStatus) (*models.Campaign, error) {
	if err := s.authorizeManage(actor); err != nil {
		return nil, err
	}
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, c, to)
}

// ApplyTransition performs a status change on an already-loaded campaign.
// The orchestrator and the schedule runner use this for lifecycle moves
// that happen on behalf of the system (window firing, winner selection)
// where tenant ownership was established when the operation began.
func (s *Service) ApplyTransition(ctx context.Context, c *models.Campaign, to models.CampaignStatus) (*models.Campaign, error) {
	return s.transition(ctx, c, to)
}

// transition applies a validated status change with the tenant check
// already done.
func (s *Service) transition(ctx context.Context, c *models.Campaign, to models.CampaignStatus) (*models.Campaign, error) {
	if err := ValidateTransition(c.Status, to); err != nil {
		return nil, err
	}

	from := c.Status
	c.Status = to
	if to == models.StatusSent {
		now := s.now()
		c.SentAt = &now
	}
	if to == models.StatusScheduled && c.Schedule.SendAt != nil {
		c.ScheduledAt = c.Schedule.SendAt
	}

	if err := s.repo.Update(ctx, c); err != nil {
		c.Status = from
		return nil, fmt.Errorf("transition campaign %s to %s: %w", c.ID, to, err)
	}
	s.logger.Info("campaign transitioned", "campaign_id", c.ID, "from", from, "to", to)
	return c, nil
}

// Get returns a campaign owned by the actor's salon.
func (s *Service) Get(ctx context.Context, actor models.ActorContext, id string) (*models.Campaign, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	return s.load(ctx, actor, id)
}

// List returns a filtered, paginated page of the salon's campaigns.
func (s *Service) List(ctx context.Context, actor models.ActorContext, f models.CampaignFilter) (*models.CampaignPage, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if f.Page < 1 {
		f.Page = s.defaults.Page
	}
	if f.PageSize < 1 {
		f.PageSize = s.defaults.PageSize
	}
	if f.SortBy == "" {
		f.SortBy = models.SortByCreatedAt
		f.SortDesc = true
	}
	page, err := s.repo.List(ctx, actor.SalonID, f)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return page, nil
}

// Stats returns the salon's dashboard rollup.
func (s *Service) Stats(ctx context.Context, actor models.ActorContext) (*models.CampaignStats, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	st, err := s.repo.Stats(ctx, actor.SalonID)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	return st, nil
}

// Duplicate clones a campaign's creative content into a fresh draft.
// Targeting and timing are intentionally reset so they get re-reviewed
// before the copy is sent.
func (s *Service) Duplicate(ctx context.Context, actor models.ActorContext, id string) (*models.Campaign, error) {
	if err := s.authorizeManage(actor); err != nil {
		return nil, err
	}
	src, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	data := models.CampaignData{
		Name:        src.Name + " (Copy)",
		Description: src.Description,
		Type:        src.Type,
		Subject:     src.Subject,
		Content:     src.Content,
		HTMLContent: src.HTMLContent,
		TemplateID:  src.TemplateID,
		Audience:    models.AudienceConfig{Type: models.AudienceAll},
		Schedule:    models.ScheduleConfig{Type: models.ScheduleImmediate},
		Settings: models.CampaignSettings{
			TrackOpens:      true,
			TrackClicks:     true,
			UnsubscribeLink: true,
		},
	}
	return s.Create(ctx, actor, data)
}

// ListTemplates returns templates visible to the salon: its own plus the
// system catalog.
func (s *Service) ListTemplates(ctx context.Context, actor models.ActorContext, f models.TemplateFilter) (*models.TemplatePage, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if f.Page < 1 {
		f.Page = s.defaults.Page
	}
	if f.PageSize < 1 {
		f.PageSize = s.defaults.PageSize
	}
	page, err := s.templates.List(ctx, actor.SalonID, f)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return page, nil
}

// GetTemplate returns one template if it is a system template or belongs
// to the actor's salon.
func (s *Service) GetTemplate(ctx context.Context, actor models.ActorContext, id string) (*models.CampaignTemplate, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	if t == nil {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if !t.IsSystem && t.SalonID != actor.SalonID {
		return nil, ErrCrossTenantAccess
	}
	return t, nil
}

// SaveTemplate creates or updates a salon-owned template. System templates
// are read-only to tenants.
func (s *Service) SaveTemplate(ctx context.Context, actor models.ActorContext, t *models.CampaignTemplate) (*models.CampaignTemplate, error) {
	if err := s.authorizeManage(actor); err != nil {
		return nil, err
	}
	if t.ID != "" {
		existing, err := s.GetTemplate(ctx, actor, t.ID)
		if err != nil {
			return nil, err
		}
		if existing.IsSystem {
			return nil, ErrInsufficientPermissions
		}
	}
	if t.Name == "" {
		return nil, &ValidationError{Fields: map[string]string{"name": "template name is required"}}
	}
	t.SalonID = actor.SalonID
	t.IsSystem = false
	if t.Category == "" {
		t.Category = "Custom"
	}
	t.IsActive = true
	if err := s.templates.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return t, nil
}

// DeleteTemplate removes a salon-owned template.
func (s *Service) DeleteTemplate(ctx context.Context, actor models.ActorContext, id string) error {
	if err := s.authorize(actor); err != nil {
		return err
	}
	if !actor.CanDeleteCampaigns() {
		return ErrInsufficientPermissions
	}
	t, err := s.GetTemplate(ctx, actor, id)
	if err != nil {
		return err
	}
	if t.IsSystem {
		return ErrInsufficientPermissions
	}
	if err := s.templates.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	return nil
}
