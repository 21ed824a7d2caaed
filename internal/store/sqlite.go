package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/adoption-trajectory/internal/health"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

// SQLiteStore persists registrations, signals, the tag cache and analysis
// snapshots. A single connection serializes writers.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS registrations (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	vendor_name  TEXT NOT NULL,
	product_name TEXT NOT NULL,
	intended_use TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'active',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_registrations_product ON registrations (vendor_name, product_name, status);

CREATE TABLE IF NOT EXISTS categories (
	vendor_name  TEXT NOT NULL,
	product_name TEXT NOT NULL,
	category     TEXT NOT NULL,
	PRIMARY KEY (vendor_name, product_name)
);
CREATE INDEX IF NOT EXISTS idx_categories_category ON categories (category);

CREATE TABLE IF NOT EXISTS signals (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	product_id  TEXT NOT NULL,
	source_type TEXT NOT NULL,
	source_id   TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL,
	severity    TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	metadata    TEXT,
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_product ON signals (tenant_id, product_id, occurred_at);

CREATE TABLE IF NOT EXISTS tag_cache (
	signal_id TEXT NOT NULL,
	field     TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (signal_id, field)
);

CREATE TABLE IF NOT EXISTS health_scores (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	product_id         TEXT NOT NULL,
	score              INTEGER NOT NULL DEFAULT 0,
	category_breakdown TEXT NOT NULL DEFAULT '{}',
	confidence_tier    TEXT NOT NULL DEFAULT '',
	signal_count       INTEGER NOT NULL DEFAULT 0,
	health_data        TEXT,
	trajectory_data    TEXT,
	summaries          TEXT,
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_health_scores_product ON health_scores (tenant_id, product_id, created_at);

CREATE TABLE IF NOT EXISTS review_drafts (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	product_id      TEXT NOT NULL,
	subject         TEXT NOT NULL,
	body            TEXT NOT NULL,
	confidence_tier TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'draft',
	edited_body     TEXT,
	reviewed_at     TEXT,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_drafts_tenant ON review_drafts (tenant_id, created_at);
`

// Fixed width keeps text ordering equal to time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite caps bound parameters per statement; batched inserts stay below it.
const batchRows = 200

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func nullableJSON(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// --- registrations and categories ---

type registrationRow struct {
	ID          string `db:"id"`
	TenantID    string `db:"tenant_id"`
	VendorName  string `db:"vendor_name"`
	ProductName string `db:"product_name"`
	IntendedUse string `db:"intended_use"`
	Status      string `db:"status"`
	CreatedAt   string `db:"created_at"`
}

func (r registrationRow) registration() signal.Registration {
	return signal.Registration{
		ID:          r.ID,
		TenantID:    r.TenantID,
		VendorName:  r.VendorName,
		ProductName: r.ProductName,
		IntendedUse: r.IntendedUse,
		Status:      r.Status,
		CreatedAt:   parseTime(r.CreatedAt),
	}
}

func toRegistrations(rows []registrationRow) []signal.Registration {
	out := make([]signal.Registration, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.registration())
	}
	return out
}

const registrationColumns = "id, tenant_id, vendor_name, product_name, intended_use, status, created_at"

func (s *SQLiteStore) CreateRegistration(ctx context.Context, reg signal.Registration) (signal.Registration, error) {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.Status == "" {
		reg.Status = signal.RegistrationActive
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = s.now()
	}
	reg.CreatedAt = signal.UTC(reg.CreatedAt)
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO registrations (`+registrationColumns+`)
		VALUES (:id, :tenant_id, :vendor_name, :product_name, :intended_use, :status, :created_at)
		ON CONFLICT(id) DO NOTHING`,
		registrationRow{
			ID:          reg.ID,
			TenantID:    reg.TenantID,
			VendorName:  reg.VendorName,
			ProductName: reg.ProductName,
			IntendedUse: reg.IntendedUse,
			Status:      reg.Status,
			CreatedAt:   timeToString(reg.CreatedAt),
		})
	if err != nil {
		return signal.Registration{}, fmt.Errorf("save registration: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return signal.Registration{}, fmt.Errorf("registration %s: %w", reg.ID, ErrConflict)
	}
	return reg, nil
}

func (s *SQLiteStore) Registration(ctx context.Context, tenantID, productID string) (signal.Registration, error) {
	var row registrationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+registrationColumns+` FROM registrations WHERE id = ? AND tenant_id = ?`, productID, tenantID)
	if err != nil {
		return signal.Registration{}, notFound(err, "registration "+productID)
	}
	return row.registration(), nil
}

func (s *SQLiteStore) ListRegistrations(ctx context.Context, tenantID string) ([]signal.Registration, error) {
	var rows []registrationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+registrationColumns+` FROM registrations WHERE tenant_id = ? ORDER BY created_at, id`, tenantID); err != nil {
		return nil, err
	}
	return toRegistrations(rows), nil
}

func (s *SQLiteStore) SetCategory(ctx context.Context, product signal.Product, category string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO categories (vendor_name, product_name, category) VALUES (?, ?, ?)`,
		product.VendorName, product.ProductName, category)
	return err
}

func (s *SQLiteStore) CategoryFor(ctx context.Context, product signal.Product) (string, error) {
	var category string
	err := s.db.GetContext(ctx, &category, `SELECT category FROM categories WHERE vendor_name = ? AND product_name = ?`,
		product.VendorName, product.ProductName)
	if err != nil {
		return "", notFound(err, "category")
	}
	return category, nil
}

func (s *SQLiteStore) ProductsInCategory(ctx context.Context, category string, exclude signal.Product, limit int) ([]signal.Product, error) {
	var rows []struct {
		VendorName  string `db:"vendor_name"`
		ProductName string `db:"product_name"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT vendor_name, product_name FROM categories
		WHERE category = ? AND (vendor_name != ? OR product_name != ?)
		ORDER BY vendor_name, product_name LIMIT ?`,
		category, exclude.VendorName, exclude.ProductName, limit)
	if err != nil {
		return nil, err
	}
	out := make([]signal.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, signal.Product{VendorName: r.VendorName, ProductName: r.ProductName})
	}
	return out, nil
}

func (s *SQLiteStore) ActiveRegistrationsFor(ctx context.Context, products []signal.Product) ([]signal.Registration, error) {
	if len(products) == 0 {
		return nil, nil
	}
	conds := make([]string, 0, len(products))
	args := []any{signal.RegistrationActive}
	for _, p := range products {
		conds = append(conds, "(vendor_name = ? AND product_name = ?)")
		args = append(args, p.VendorName, p.ProductName)
	}
	var rows []registrationRow
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE status = ? AND (` + strings.Join(conds, " OR ") + `) ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toRegistrations(rows), nil
}

func (s *SQLiteStore) ActiveRegistrationsWithUse(ctx context.Context, exclude signal.Product, limit int) ([]signal.Registration, error) {
	var rows []registrationRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+registrationColumns+` FROM registrations
		WHERE status = ? AND intended_use != '' AND (vendor_name != ? OR product_name != ?)
		ORDER BY created_at, id LIMIT ?`,
		signal.RegistrationActive, exclude.VendorName, exclude.ProductName, limit)
	if err != nil {
		return nil, err
	}
	return toRegistrations(rows), nil
}

// --- signals and the tag cache ---

type signalRow struct {
	ID         string         `db:"id"`
	TenantID   string         `db:"tenant_id"`
	ProductID  string         `db:"product_id"`
	SourceType string         `db:"source_type"`
	SourceID   string         `db:"source_id"`
	EventType  string         `db:"event_type"`
	Severity   string         `db:"severity"`
	Title      string         `db:"title"`
	Body       string         `db:"body"`
	Metadata   sql.NullString `db:"metadata"`
	OccurredAt string         `db:"occurred_at"`
}

type tagRow struct {
	SignalID string `db:"signal_id"`
	Field    string `db:"field"`
	Value    string `db:"value"`
}

// InsertSignals stores a batch in one transaction. Missing ids are assigned
// in place. Stored signals are never rewritten: an id already held by the
// same tenant and product is skipped, and one held by anyone else fails the
// whole batch with ErrConflict.
func (s *SQLiteStore) InsertSignals(ctx context.Context, events []*signal.Event) error {
	if len(events) == 0 {
		return nil
	}
	owners := make(map[string]signalOwner, len(events))
	rows := make([]signalRow, 0, len(events))
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		owner := signalOwner{TenantID: e.TenantID, ProductID: e.ProductID}
		if prev, ok := owners[e.ID]; ok && prev != owner {
			return fmt.Errorf("signal %s: %w", e.ID, ErrConflict)
		}
		owners[e.ID] = owner
		var meta sql.NullString
		if len(e.Metadata) > 0 {
			meta = nullableJSON(e.Metadata)
		}
		rows = append(rows, signalRow{
			ID:         e.ID,
			TenantID:   e.TenantID,
			ProductID:  e.ProductID,
			SourceType: e.SourceType,
			SourceID:   e.SourceID,
			EventType:  e.EventType,
			Severity:   e.Severity,
			Title:      e.Title,
			Body:       e.Body,
			Metadata:   meta,
			OccurredAt: timeToString(e.OccurredAt),
		})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for start := 0; start < len(rows); start += batchRows {
		end := min(start+batchRows, len(rows))
		if err := checkSignalOwners(ctx, tx, rows[start:end]); err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO signals (id, tenant_id, product_id, source_type, source_id, event_type, severity, title, body, metadata, occurred_at)
			VALUES (:id, :tenant_id, :product_id, :source_type, :source_id, :event_type, :severity, :title, :body, :metadata, :occurred_at)
			ON CONFLICT(id) DO NOTHING`,
			rows[start:end]); err != nil {
			return fmt.Errorf("insert signals: %w", err)
		}
	}
	return tx.Commit()
}

type signalOwner struct {
	TenantID  string `db:"tenant_id"`
	ProductID string `db:"product_id"`
}

// checkSignalOwners fails when an id in rows is already stored for another
// tenant or product.
func checkSignalOwners(ctx context.Context, tx *sqlx.Tx, rows []signalRow) error {
	ids := make([]string, 0, len(rows))
	want := make(map[string]signalOwner, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		want[r.ID] = signalOwner{TenantID: r.TenantID, ProductID: r.ProductID}
	}
	query, args, err := sqlx.In(`SELECT id, tenant_id, product_id FROM signals WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	var existing []struct {
		ID string `db:"id"`
		signalOwner
	}
	if err := tx.SelectContext(ctx, &existing, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("check signal ids: %w", err)
	}
	for _, e := range existing {
		if want[e.ID] != e.signalOwner {
			return fmt.Errorf("signal %s: %w", e.ID, ErrConflict)
		}
	}
	return nil
}

func (s *SQLiteStore) Signals(ctx context.Context, tenantID, productID string) ([]*signal.Event, error) {
	var rows []signalRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, tenant_id, product_id, source_type, source_id, event_type, severity, title, body, metadata, occurred_at
		FROM signals WHERE tenant_id = ? AND product_id = ? ORDER BY occurred_at, rowid`, tenantID, productID); err != nil {
		return nil, err
	}
	var tags []tagRow
	if err := s.db.SelectContext(ctx, &tags, `SELECT t.signal_id, t.field, t.value FROM tag_cache t
		JOIN signals s ON s.id = t.signal_id
		WHERE s.tenant_id = ? AND s.product_id = ?`, tenantID, productID); err != nil {
		return nil, err
	}
	cached := make(map[string][]tagRow)
	for _, t := range tags {
		cached[t.SignalID] = append(cached[t.SignalID], t)
	}

	events := make([]*signal.Event, 0, len(rows))
	for _, r := range rows {
		e := &signal.Event{
			ID:         r.ID,
			TenantID:   r.TenantID,
			ProductID:  r.ProductID,
			SourceType: r.SourceType,
			SourceID:   r.SourceID,
			EventType:  r.EventType,
			Severity:   r.Severity,
			Title:      r.Title,
			Body:       r.Body,
			Metadata:   signal.Metadata{},
			OccurredAt: parseTime(r.OccurredAt),
		}
		if r.Metadata.Valid && r.Metadata.String != "" {
			_ = json.Unmarshal([]byte(r.Metadata.String), &e.Metadata)
		}
		for _, t := range cached[r.ID] {
			var v any
			if err := json.Unmarshal([]byte(t.Value), &v); err == nil {
				e.Metadata[t.Field] = v
			}
		}
		events = append(events, e)
	}
	return events, nil
}

// SaveTags writes every classification in a single transaction; a failure
// leaves the cache untouched.
func (s *SQLiteStore) SaveTags(ctx context.Context, writes []TagWrite) error {
	if len(writes) == 0 {
		return nil
	}
	rows := make([]tagRow, 0, len(writes)*len(signal.TagFields))
	for _, w := range writes {
		m := signal.Metadata{}
		m.Apply(w.Tags, w.Classifier, w.ClassifiedAt)
		for _, field := range signal.TagFields {
			rows = append(rows, tagRow{SignalID: w.SignalID, Field: field, Value: marshalJSON(m[field])})
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for start := 0; start < len(rows); start += batchRows {
		end := min(start+batchRows, len(rows))
		if _, err := tx.NamedExecContext(ctx, `INSERT OR REPLACE INTO tag_cache (signal_id, field, value) VALUES (:signal_id, :field, :value)`,
			rows[start:end]); err != nil {
			return fmt.Errorf("save tags: %w", err)
		}
	}
	return tx.Commit()
}

// --- snapshots and drafts ---

type snapshotRow struct {
	ID                string         `db:"id"`
	TenantID          string         `db:"tenant_id"`
	ProductID         string         `db:"product_id"`
	Score             int            `db:"score"`
	CategoryBreakdown string         `db:"category_breakdown"`
	ConfidenceTier    string         `db:"confidence_tier"`
	SignalCount       int            `db:"signal_count"`
	HealthData        sql.NullString `db:"health_data"`
	TrajectoryData    sql.NullString `db:"trajectory_data"`
	Summaries         sql.NullString `db:"summaries"`
	CreatedAt         string         `db:"created_at"`
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now()
	}
	snap.CreatedAt = signal.UTC(snap.CreatedAt)

	row := snapshotRow{
		ID:                snap.ID,
		TenantID:          snap.TenantID,
		ProductID:         snap.ProductID,
		CategoryBreakdown: "{}",
		CreatedAt:         timeToString(snap.CreatedAt),
	}
	if snap.Health != nil {
		row.Score = snap.Health.Score
		row.CategoryBreakdown = marshalJSON(snap.Health.Breakdown)
		row.ConfidenceTier = snap.Health.ConfidenceTier
		row.SignalCount = snap.Health.SignalCount
		row.HealthData = nullableJSON(snap.Health)
	}
	if snap.Trajectory != nil {
		row.TrajectoryData = nullableJSON(snap.Trajectory)
	}
	if len(snap.Summaries) > 0 {
		row.Summaries = nullableJSON(snap.Summaries)
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO health_scores (id, tenant_id, product_id, score, category_breakdown, confidence_tier, signal_count, health_data, trajectory_data, summaries, created_at)
		VALUES (:id, :tenant_id, :product_id, :score, :category_breakdown, :confidence_tier, :signal_count, :health_data, :trajectory_data, :summaries, :created_at)`, row)
	if err != nil {
		return Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, tenantID, productID string) (Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT id, tenant_id, product_id, score, category_breakdown, confidence_tier, signal_count, health_data, trajectory_data, summaries, created_at
		FROM health_scores WHERE tenant_id = ? AND product_id = ? ORDER BY created_at DESC LIMIT 1`, tenantID, productID)
	if err != nil {
		return Snapshot{}, notFound(err, "snapshot "+productID)
	}

	snap := Snapshot{
		ID:        row.ID,
		TenantID:  row.TenantID,
		ProductID: row.ProductID,
		CreatedAt: parseTime(row.CreatedAt),
	}
	if row.HealthData.Valid && row.HealthData.String != "" {
		snap.Health = new(health.Score)
		if err := json.Unmarshal([]byte(row.HealthData.String), snap.Health); err != nil {
			return Snapshot{}, fmt.Errorf("decode health data: %w", err)
		}
	}
	if row.TrajectoryData.Valid && row.TrajectoryData.String != "" {
		snap.Trajectory = new(trajectory.Trajectory)
		if err := json.Unmarshal([]byte(row.TrajectoryData.String), snap.Trajectory); err != nil {
			return Snapshot{}, fmt.Errorf("decode trajectory data: %w", err)
		}
	}
	if row.Summaries.Valid && row.Summaries.String != "" {
		_ = json.Unmarshal([]byte(row.Summaries.String), &snap.Summaries)
	}
	return snap, nil
}

type draftRow struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	ProductID      string         `db:"product_id"`
	Subject        string         `db:"subject"`
	Body           string         `db:"body"`
	ConfidenceTier string         `db:"confidence_tier"`
	Status         string         `db:"status"`
	EditedBody     sql.NullString `db:"edited_body"`
	ReviewedAt     sql.NullString `db:"reviewed_at"`
	CreatedAt      string         `db:"created_at"`
}

const draftColumns = `id, tenant_id, product_id, subject, body, confidence_tier, status, edited_body, reviewed_at, created_at`

func (r draftRow) draft() Draft {
	d := Draft{
		ID:        r.ID,
		TenantID:  r.TenantID,
		ProductID: r.ProductID,
		Review: health.ReviewDraft{
			Subject:        r.Subject,
			Body:           r.Body,
			ConfidenceTier: r.ConfidenceTier,
		},
		Status:    r.Status,
		CreatedAt: parseTime(r.CreatedAt),
	}
	if r.EditedBody.Valid {
		body := r.EditedBody.String
		d.EditedBody = &body
	}
	if r.ReviewedAt.Valid && r.ReviewedAt.String != "" {
		at := parseTime(r.ReviewedAt.String)
		d.ReviewedAt = &at
	}
	return d
}

func (s *SQLiteStore) SaveDraft(ctx context.Context, d Draft) (Draft, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DraftStatusPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	d.CreatedAt = signal.UTC(d.CreatedAt)
	row := draftRow{
		ID:             d.ID,
		TenantID:       d.TenantID,
		ProductID:      d.ProductID,
		Subject:        d.Review.Subject,
		Body:           d.Review.Body,
		ConfidenceTier: d.Review.ConfidenceTier,
		Status:         d.Status,
		CreatedAt:      timeToString(d.CreatedAt),
	}
	if d.EditedBody != nil {
		row.EditedBody = sql.NullString{String: *d.EditedBody, Valid: true}
	}
	if d.ReviewedAt != nil {
		row.ReviewedAt = sql.NullString{String: timeToString(*d.ReviewedAt), Valid: true}
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO review_drafts (`+draftColumns+`)
		VALUES (:id, :tenant_id, :product_id, :subject, :body, :confidence_tier, :status, :edited_body, :reviewed_at, :created_at)`, row)
	if err != nil {
		return Draft{}, fmt.Errorf("save draft: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) LatestDraft(ctx context.Context, tenantID, productID string) (Draft, error) {
	var row draftRow
	err := s.db.GetContext(ctx, &row, `SELECT `+draftColumns+`
		FROM review_drafts WHERE tenant_id = ? AND product_id = ? ORDER BY created_at DESC LIMIT 1`, tenantID, productID)
	if err != nil {
		return Draft{}, notFound(err, "draft "+productID)
	}
	return row.draft(), nil
}

// ListDrafts returns a tenant's drafts, newest first. An empty status lists
// every draft.
func (s *SQLiteStore) ListDrafts(ctx context.Context, tenantID, status string) ([]Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM review_drafts WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`

	var rows []draftRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	out := make([]Draft, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.draft())
	}
	return out, nil
}

func (s *SQLiteStore) Draft(ctx context.Context, tenantID, draftID string) (Draft, error) {
	var row draftRow
	err := s.db.GetContext(ctx, &row, `SELECT `+draftColumns+`
		FROM review_drafts WHERE tenant_id = ? AND id = ?`, tenantID, draftID)
	if err != nil {
		return Draft{}, notFound(err, "draft "+draftID)
	}
	return row.draft(), nil
}

// UpdateDraft records a review decision. A nil editedBody keeps whatever
// edit is already stored.
func (s *SQLiteStore) UpdateDraft(ctx context.Context, tenantID, draftID, status string, editedBody *string, reviewedAt time.Time) (Draft, error) {
	var body sql.NullString
	if editedBody != nil {
		body = sql.NullString{String: *editedBody, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE review_drafts
		SET status = ?, edited_body = COALESCE(?, edited_body), reviewed_at = ?
		WHERE tenant_id = ? AND id = ?`,
		status, body, timeToString(reviewedAt), tenantID, draftID)
	if err != nil {
		return Draft{}, fmt.Errorf("update draft: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Draft{}, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	return s.Draft(ctx, tenantID, draftID)
}

var _ Store = (*SQLiteStore)(nil)
