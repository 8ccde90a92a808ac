package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	for _, m := range Migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Migrations is the full schema, exported so tests can apply it to
// in-memory databases.
var Migrations = []string{
	migrationCampaigns,
	migrationCampaignTemplates,
	migrationCustomers,
	migrationSegments,
	migrationSegmentMembers,
	migrationCampaignEvents,
	migrationDispatchLog,
}

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    subject TEXT,
    content TEXT NOT NULL,
    html_content TEXT,
    template_id TEXT,
    audience JSON NOT NULL,
    schedule JSON NOT NULL,
    settings JSON NOT NULL,
    ab_phase TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL,
    scheduled_at TIMESTAMP,
    sent_at TIMESTAMP,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_campaigns_salon ON campaigns(salon_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(salon_id, status);
`

const migrationCampaignTemplates = `
CREATE TABLE IF NOT EXISTS campaign_templates (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    description TEXT,
    type TEXT NOT NULL,
    category TEXT NOT NULL,
    subject TEXT,
    content TEXT NOT NULL,
    html_content TEXT,
    variables JSON,
    is_active INTEGER NOT NULL DEFAULT 1,
    is_system INTEGER NOT NULL DEFAULT 0,
    usage_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_templates_salon ON campaign_templates(salon_id);
`

const migrationCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL,
    name TEXT NOT NULL,
    email TEXT,
    phone TEXT,
    gender TEXT,
    age INTEGER,
    location TEXT,
    tags JSON,
    loyalty_tier TEXT,
    visit_count INTEGER NOT NULL DEFAULT 0,
    total_spent REAL NOT NULL DEFAULT 0,
    last_visit TIMESTAMP,
    email_opt_in INTEGER NOT NULL DEFAULT 1,
    sms_opt_in INTEGER NOT NULL DEFAULT 1,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_customers_salon ON customers(salon_id);
`

const migrationSegments = `
CREATE TABLE IF NOT EXISTS segments (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_segments_salon ON segments(salon_id);
`

const migrationSegmentMembers = `
CREATE TABLE IF NOT EXISTS segment_members (
    segment_id TEXT NOT NULL REFERENCES segments(id) ON DELETE CASCADE,
    customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
    PRIMARY KEY (segment_id, customer_id)
);
`

const migrationCampaignEvents = `
CREATE TABLE IF NOT EXISTS campaign_events (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    recipient_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    device TEXT,
    location TEXT,
    link_url TEXT,
    conversion_value REAL NOT NULL DEFAULT 0,
    service_id TEXT,
    timestamp TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_campaign ON campaign_events(campaign_id, kind);
CREATE INDEX IF NOT EXISTS idx_events_campaign_time ON campaign_events(campaign_id, timestamp);
`

// dispatch_log records one row per recipient per dispatch occurrence. The
// unique constraint is the at-most-once guard within one occurrence:
// retried batches insert-or-ignore and only dispatch recipients they
// actually claimed, while each recurrence instance claims afresh.
const migrationDispatchLog = `
CREATE TABLE IF NOT EXISTS dispatch_log (
    campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    occurrence INTEGER NOT NULL DEFAULT 0,
    address TEXT NOT NULL,
    recipient_id TEXT NOT NULL,
    variant TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (campaign_id, occurrence, address)
);
CREATE INDEX IF NOT EXISTS idx_dispatch_recipient ON dispatch_log(campaign_id, recipient_id);
`
