package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/salonkit/campaignd/internal/models"
)

type memRepo struct {
	campaigns  map[string]*models.Campaign
	nextID     int
	updateErr  error
	deletedIDs []string
}

func newMemRepo() *memRepo {
	return &memRepo{campaigns: map[string]*models.Campaign{}}
}

func (m *memRepo) Create(_ context.Context, c *models.Campaign) error {
	m.nextID++
	c.ID = fmt.Sprintf("camp-%d", m.nextID)
	c.Version = 1
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memRepo) Update(_ context.Context, c *models.Campaign) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	c.Version++
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	delete(m.campaigns, id)
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*models.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, _ string, _ models.CampaignFilter) (*models.CampaignPage, error) {
	return &models.CampaignPage{}, nil
}

func (m *memRepo) Stats(_ context.Context, _ string) (*models.CampaignStats, error) {
	return &models.CampaignStats{}, nil
}

type memTemplates struct {
	templates map[string]*models.CampaignTemplate
	usage     map[string]int
}

func newMemTemplates() *memTemplates {
	return &memTemplates{
		templates: map[string]*models.CampaignTemplate{},
		usage:     map[string]int{},
	}
}

func (m *memTemplates) GetByID(_ context.Context, id string) (*models.CampaignTemplate, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memTemplates) List(_ context.Context, _ string, _ models.TemplateFilter) (*models.TemplatePage, error) {
	return &models.TemplatePage{}, nil
}

func (m *memTemplates) Save(_ context.Context, t *models.CampaignTemplate) error {
	if t.ID == "" {
		t.ID = fmt.Sprintf("tmpl-%d", len(m.templates)+1)
	}
	cp := *t
	m.templates[t.ID] = &cp
	return nil
}

func (m *memTemplates) Delete(_ context.Context, id string) error {
	delete(m.templates, id)
	return nil
}

func (m *memTemplates) IncrementUsage(_ context.Context, id string) error {
	m.usage[id]++
	return nil
}

func newTestService(t *testing.T) (*Service, *memRepo, *memTemplates) {
	t.Helper()
	repo := newMemRepo()
	templates := newMemTemplates()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, templates, logger, Defaults{}), repo, templates
}

func manager() models.ActorContext {
	return models.ActorContext{ActorID: "user-1", SalonID: "salon-1", Role: models.RoleManager}
}

func validData() models.CampaignData {
	return models.CampaignData{
		Name:     "Spring promo",
		Type:     models.TypeEmail,
		Subject:  "Fresh looks for spring",
		Content:  "Book your appointment now!",
		Audience: models.AudienceConfig{Type: models.AudienceAll},
		Schedule: models.ScheduleConfig{Type: models.ScheduleImmediate},
	}
}

func TestService_Create(t *testing.T) {
	svc, _, _ := newTestService(t)

	c, err := svc.Create(context.Background(), manager(), validData())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.ID == "" {
		t.Error("Create() did not assign an id")
	}
	if c.Status != models.StatusDraft {
		t.Errorf("Create() status = %s, want draft", c.Status)
	}
	if c.SalonID != "salon-1" || c.CreatedBy != "user-1" {
		t.Errorf("Create() ownership = %s/%s, want salon-1/user-1", c.SalonID, c.CreatedBy)
	}
}

func TestService_Create_RequiresManageRole(t *testing.T) {
	svc, _, _ := newTestService(t)

	staff := manager()
	staff.Role = models.RoleStaff
	if _, err := svc.Create(context.Background(), staff, validData()); !errors.Is(err, ErrInsufficientPermissions) {
		t.Errorf("Create() as staff error = %v, want ErrInsufficientPermissions", err)
	}

	anon := models.ActorContext{SalonID: "salon-1", Role: models.RoleOwner}
	if _, err := svc.Create(context.Background(), anon, validData()); !errors.Is(err, ErrAuthenticationRequired) {
		t.Errorf("Create() without actor error = %v, want ErrAuthenticationRequired", err)
	}
}

func TestService_Create_ValidatesDraftInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	data := validData()
	data.Name = ""
	data.Subject = ""

	_, err := svc.Create(context.Background(), manager(), data)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Create() error = %v, want ValidationError", err)
	}
	if _, ok := verr.Fields["name"]; !ok {
		t.Errorf("fields = %v, want a name error", verr.Fields)
	}
	if _, ok := verr.Fields["subject"]; !ok {
		t.Errorf("fields = %v, want a subject error for email", verr.Fields)
	}
}

func TestService_Create_CountsTemplateUsage(t *testing.T) {
	svc, _, templates := newTestService(t)
	templates.templates["tmpl-1"] = &models.CampaignTemplate{ID: "tmpl-1", Name: "Base"}

	data := validData()
	data.TemplateID = "tmpl-1"
	if _, err := svc.Create(context.Background(), manager(), data); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if templates.usage["tmpl-1"] != 1 {
		t.Errorf("template usage = %d, want 1", templates.usage["tmpl-1"])
	}
}

func TestService_Update_SentIsImmutable(t *testing.T) {
	svc, repo, _ := newTestService(t)
	c, _ := svc.Create(context.Background(), manager(), validData())
	repo.campaigns[c.ID].Status = models.StatusSent

	if _, err := svc.Update(context.Background(), manager(), c.ID, validData()); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("Update() on sent campaign error = %v, want ErrAlreadySent", err)
	}
}

func TestService_Get_CrossTenant(t *testing.T) {
	svc, _, _ := newTestService(t)
	c, _ := svc.Create(context.Background(), manager(), validData())

	intruder := manager()
	intruder.SalonID = "salon-2"
	if _, err := svc.Get(context.Background(), intruder, c.ID); !errors.Is(err, ErrCrossTenantAccess) {
		t.Errorf("Get() cross-tenant error = %v, want ErrCrossTenantAccess", err)
	}

	if _, err := svc.Get(context.Background(), manager(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() missing error = %v, want ErrNotFound", err)
	}
}

func TestService_Delete_WhileSending(t *testing.T) {
	svc, repo, _ := newTestService(t)
	c, _ := svc.Create(context.Background(), manager(), validData())
	repo.campaigns[c.ID].Status = models.StatusSending

	if err := svc.Delete(context.Background(), manager(), c.ID); !errors.Is(err, ErrDeleteWhileSending) {
		t.Errorf("Delete() while sending error = %v, want ErrDeleteWhileSending", err)
	}
}

func TestService_Delete_AdminCannotDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	c, _ := svc.Create(context.Background(), manager(), validData())

	admin := manager()
	admin.Role = models.RoleAdmin
	if err := svc.Delete(context.Background(), admin, c.ID); !errors.Is(err, ErrInsufficientPermissions) {
		t.Errorf("Delete() as admin error = %v, want ErrInsufficientPermissions", err)
	}
}

func TestService_Transition(t *testing.T) {
	svc, _, _ := newTestService(t)
	sendAt := time.Now().Add(time.Hour)

	data := validData()
	data.Schedule = models.ScheduleConfig{Type: models.ScheduleAt, SendAt: &sendAt, Timezone: "UTC"}
	c, _ := svc.Create(context.Background(), manager(), data)

	got, err := svc.Transition(context.Background(), manager(), c.ID, models.StatusScheduled)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if got.Status != models.StatusScheduled {
		t.Errorf("Transition() status = %s, want scheduled", got.Status)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(sendAt) {
		t.Errorf("Transition() ScheduledAt = %v, want %v", got.ScheduledAt, sendAt)
	}
}

func TestService_Transition_Invalid(t *testing.T) {
	svc, _, _ := newTestService(t)
	c, _ := svc.Create(context.Background(), manager(), validData())

	_, err := svc.Transition(context.Background(), manager(), c.ID, models.StatusSent)

	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("Transition(draft, sent) error = %v, want InvalidTransitionError", err)
	}
}

func TestService_Transition_RestoresStatusOnUpdateFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	c, _ := svc.Create(context.Background(), manager(), validData())
	repo.updateErr = ErrConcurrentModification

	_, err := svc.Transition(context.Background(), manager(), c.ID, models.StatusSending)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("Transition() error = %v, want ErrConcurrentModification", err)
	}
	stored, _ := repo.GetByID(context.Background(), c.ID)
	if stored.Status != models.StatusDraft {
		t.Errorf("status after failed update = %s, want draft", stored.Status)
	}
}

func TestService_Transition_SentStampsSentAt(t *testing.T) {
	svc, repo, _ := newTestService(t)
	c, _ := svc.Create(context.Background(), manager(), validData())
	repo.campaigns[c.ID].Status = models.StatusSending

	got, err := svc.Transition(context.Background(), manager(), c.ID, models.StatusSent)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if got.SentAt == nil {
		t.Error("Transition() to sent did not stamp SentAt")
	}
}

func TestService_Duplicate(t *testing.T) {
	svc, repo, _ := newTestService(t)
	sendAt := time.Now().Add(time.Hour)

	data := validData()
	data.Schedule = models.ScheduleConfig{Type: models.ScheduleAt, SendAt: &sendAt, Timezone: "UTC"}
	data.Audience = models.AudienceConfig{Type: models.AudienceCustom, CustomList: []string{"a@b.c"}}
	src, _ := svc.Create(context.Background(), manager(), data)
	repo.campaigns[src.ID].Status = models.StatusSent

	dup, err := svc.Duplicate(context.Background(), manager(), src.ID)
	if err != nil {
		t.Fatalf("Duplicate() error = %v", err)
	}
	if dup.Name != "Spring promo (Copy)" {
		t.Errorf("Duplicate() name = %q", dup.Name)
	}
	if dup.Status != models.StatusDraft {
		t.Errorf("Duplicate() status = %s, want draft", dup.Status)
	}
	// Targeting and timing reset so the copy gets re-reviewed.
	if dup.Audience.Type != models.AudienceAll {
		t.Errorf("Duplicate() audience = %s, want all", dup.Audience.Type)
	}
	if dup.Schedule.Type != models.ScheduleImmediate {
		t.Errorf("Duplicate() schedule = %s, want immediate", dup.Schedule.Type)
	}
}

func TestService_SaveTemplate_SystemIsReadOnly(t *testing.T) {
	svc, _, templates := newTestService(t)
	templates.templates["sys-1"] = &models.CampaignTemplate{
		ID: "sys-1", Name: "Welcome", IsSystem: true, IsActive: true,
	}

	_, err := svc.SaveTemplate(context.Background(), manager(), &models.CampaignTemplate{
		ID: "sys-1", Name: "Hijacked",
	})
	if !errors.Is(err, ErrInsufficientPermissions) {
		t.Errorf("SaveTemplate() on system template error = %v, want ErrInsufficientPermissions", err)
	}
}

func TestService_SaveTemplate_DefaultsForNew(t *testing.T) {
	svc, _, _ := newTestService(t)

	saved, err := svc.SaveTemplate(context.Background(), manager(), &models.CampaignTemplate{
		Name:    "Birthday",
		Type:    models.TypeEmail,
		Content: "Happy birthday!",
	})
	if err != nil {
		t.Fatalf("SaveTemplate() error = %v", err)
	}
	if saved.SalonID != "salon-1" || saved.IsSystem {
		t.Errorf("SaveTemplate() ownership = %+v, want salon-owned non-system", saved)
	}
	if saved.Category != "Custom" || !saved.IsActive {
		t.Errorf("SaveTemplate() defaults = category %q active %v", saved.Category, saved.IsActive)
	}
}
