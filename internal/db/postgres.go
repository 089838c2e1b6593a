package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS campaigns (
    id SERIAL PRIMARY KEY,
    advertiser_id INT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    budget_total DOUBLE PRECISION NOT NULL DEFAULT 0,
    budget_spent DOUBLE PRECISION NOT NULL DEFAULT 0,
    budget_daily DOUBLE PRECISION NOT NULL DEFAULT 0,
    start_at TIMESTAMP NULL,
    end_at TIMESTAMP NULL,
    timezone TEXT,
    targeting JSONB,
    caps JSONB,
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS creatives (
    id SERIAL PRIMARY KEY,
    campaign_id INT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    format TEXT NOT NULL,
    placements TEXT[],
    title TEXT,
    media_url TEXT NOT NULL,
    click_url TEXT,
    duration_seconds INT NOT NULL DEFAULT 0,
    skippable BOOLEAN NOT NULL DEFAULT TRUE,
    skip_after_seconds INT NOT NULL DEFAULT 0,
    approved BOOLEAN NOT NULL DEFAULT FALSE,
    keywords TEXT[],
    flags TEXT[]
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns (status);
CREATE INDEX IF NOT EXISTS idx_creatives_campaign_id ON creatives (campaign_id);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LoadCampaigns retrieves every non-draft campaign with its creatives.
// Liveness (schedule, budget) is evaluated per request, not here.
func (p *Postgres) LoadCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT id, advertiser_id, name, status, budget_total, budget_spent, budget_daily, start_at, end_at, timezone, targeting, caps FROM campaigns WHERE status <> 'draft' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var cs []models.Campaign
	index := make(map[int]int)
	for rows.Next() {
		var c models.Campaign
		var status string
		var start, end sql.NullTime
		var tz sql.NullString
		var targeting, caps []byte
		if err := rows.Scan(&c.ID, &c.AdvertiserID, &c.Name, &status, &c.Budget.Total, &c.Budget.Spent, &c.Budget.DailyLimit,
			&start, &end, &tz, &targeting, &caps); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.Status = models.CampaignStatus(status)
		c.Schedule = scheduleFrom(start, end, tz)
		if err := decodeJSONB(targeting, &c.Targeting); err != nil {
			return nil, fmt.Errorf("parse targeting for campaign %d: %w", c.ID, err)
		}
		if len(caps) > 0 && string(caps) != "null" {
			c.Caps = &models.FrequencyCaps{}
			if err := json.Unmarshal(caps, c.Caps); err != nil {
				return nil, fmt.Errorf("parse caps for campaign %d: %w", c.ID, err)
			}
		}
		index[c.ID] = len(cs)
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	creatives, err := p.loadCreatives(ctx)
	if err != nil {
		return nil, err
	}
	for _, cr := range creatives {
		if i, ok := index[cr.CampaignID]; ok {
			cs[i].Creatives = append(cs[i].Creatives, cr)
		}
	}
	return cs, nil
}

func (p *Postgres) loadCreatives(ctx context.Context) ([]models.Creative, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT id, campaign_id, format, placements, title, media_url, click_url, duration_seconds, skippable, skip_after_seconds, approved, keywords, flags FROM creatives ORDER BY campaign_id, id`)
	if err != nil {
		return nil, fmt.Errorf("query creatives: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.Creative
	for rows.Next() {
		var cr models.Creative
		var format string
		var placements, keywords, flags pq.StringArray
		var title, clickURL sql.NullString
		if err := rows.Scan(&cr.ID, &cr.CampaignID, &format, &placements, &title, &cr.MediaURL, &clickURL,
			&cr.DurationSeconds, &cr.Skippable, &cr.SkipAfterSeconds, &cr.Compliance.Approved, &keywords, &flags); err != nil {
			return nil, fmt.Errorf("scan creative: %w", err)
		}
		cr.Format = models.CreativeFormat(format)
		cr.Placements = placementKinds(placements)
		cr.Title = title.String
		cr.ClickThroughURL = clickURL.String
		cr.Compliance.Keywords = []string(keywords)
		cr.Compliance.Flags = []string(flags)
		out = append(out, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// UpsertCampaign writes a campaign and replaces its creatives in one
// transaction. A zero ID inserts and assigns the generated ID.
func (p *Postgres) UpsertCampaign(ctx context.Context, c *models.Campaign) (err error) {
	targeting, err := json.Marshal(c.Targeting)
	if err != nil {
		return fmt.Errorf("encode targeting: %w", err)
	}
	var caps []byte
	if c.Caps != nil {
		if caps, err = json.Marshal(c.Caps); err != nil {
			return fmt.Errorf("encode caps: %w", err)
		}
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	args := []any{c.AdvertiserID, c.Name, string(c.Status), c.Budget.Total, c.Budget.Spent, c.Budget.DailyLimit,
		nullTime(c.Schedule.Start), nullTime(c.Schedule.End), nullString(c.Schedule.Timezone), targeting, caps}
	if c.ID == 0 {
		err = tx.QueryRowContext(ctx, `INSERT INTO campaigns (advertiser_id, name, status, budget_total, budget_spent, budget_daily, start_at, end_at, timezone, targeting, caps) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`, args...).Scan(&c.ID)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO campaigns (id, advertiser_id, name, status, budget_total, budget_spent, budget_daily, start_at, end_at, timezone, targeting, caps) VALUES ($12,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET advertiser_id=EXCLUDED.advertiser_id, name=EXCLUDED.name, status=EXCLUDED.status, budget_total=EXCLUDED.budget_total, budget_spent=EXCLUDED.budget_spent, budget_daily=EXCLUDED.budget_daily, start_at=EXCLUDED.start_at, end_at=EXCLUDED.end_at, timezone=EXCLUDED.timezone, targeting=EXCLUDED.targeting, caps=EXCLUDED.caps, updated_at=NOW()`, append(args, c.ID)...)
	}
	if err != nil {
		return fmt.Errorf("upsert campaign: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM creatives WHERE campaign_id=$1`, c.ID); err != nil {
		return fmt.Errorf("clear creatives: %w", err)
	}
	for i := range c.Creatives {
		cr := &c.Creatives[i]
		cr.CampaignID = c.ID
		err = tx.QueryRowContext(ctx, `INSERT INTO creatives (campaign_id, format, placements, title, media_url, click_url, duration_seconds, skippable, skip_after_seconds, approved, keywords, flags) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
			cr.CampaignID, string(cr.Format), pq.Array(placementNames(cr.Placements)), cr.Title, cr.MediaURL, cr.ClickThroughURL,
			cr.DurationSeconds, cr.Skippable, cr.SkipAfterSeconds, cr.Compliance.Approved,
			pq.Array(cr.Compliance.Keywords), pq.Array(cr.Compliance.Flags)).Scan(&cr.ID)
		if err != nil {
			return fmt.Errorf("insert creative: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// DeleteCampaign removes a campaign and, by cascade, its creatives.
func (p *Postgres) DeleteCampaign(ctx context.Context, id int) error {
	if _, err := p.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	return nil
}

// UpdateCampaignStatus changes a campaign's lifecycle state.
func (p *Postgres) UpdateCampaignStatus(ctx context.Context, id int, status models.CampaignStatus) error {
	_, err := p.DB.ExecContext(ctx, `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	return nil
}

func scheduleFrom(start, end sql.NullTime, tz sql.NullString) models.Schedule {
	var s models.Schedule
	if start.Valid {
		t := start.Time
		s.Start = &t
	}
	if end.Valid {
		t := end.Time
		s.End = &t
	}
	s.Timezone = tz.String
	return s
}

func decodeJSONB(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

// placementKinds parses stored slot names, skipping unknown values.
func placementKinds(names []string) []models.PlacementKind {
	if len(names) == 0 {
		return nil
	}
	out := make([]models.PlacementKind, 0, len(names))
	for _, n := range names {
		k, err := models.ParsePlacementKind(n)
		if err != nil {
			zap.L().Warn("ignoring unknown creative placement", zap.String("placement", n))
			continue
		}
		out = append(out, k)
	}
	return out
}

func placementNames(kinds []models.PlacementKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
