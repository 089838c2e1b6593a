package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
	"github.com/patrickwarner/videoadserve/internal/telemetry"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable: %w", telemetry.ErrTransportUnavailable)

// ClickHouse stores interaction events in the ad_events table and answers
// reporting queries over them. It implements telemetry.Transport.
type ClickHouse struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

// EventRecord mirrors a row in the ad_events table.
type EventRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	EventID        string    `json:"event_id"`
	BatchID        string    `json:"batch_id"`
	DecisionID     string    `json:"decision_id"`
	Kind           string    `json:"kind"`
	CampaignID     *int32    `json:"campaign_id"`
	CreativeID     int32     `json:"creative_id"`
	Placement      *string   `json:"placement"`
	WatchedSeconds *float64  `json:"watched_seconds"`
	SessionID      string    `json:"session_id"`
	ViewerID       *string   `json:"viewer_id"`
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS ad_events (
       timestamp       DateTime64(3),
       event_id        String,
       batch_id        String,
       decision_id     String,
       kind            LowCardinality(String),
       campaign_id     Nullable(Int32),
       creative_id     Int32,
       placement       Nullable(String),
       watched_seconds Nullable(Float64),
       session_id      String,
       viewer_id       Nullable(String)
   ) ENGINE=ReplacingMergeTree() ORDER BY (kind, timestamp, event_id)`

const insertEvent = `INSERT INTO ad_events (timestamp, event_id, batch_id, decision_id, kind, campaign_id, creative_id, placement, watched_seconds, session_id, viewer_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InitClickHouse connects to ClickHouse and ensures the ad_events table
// exists. Duplicate deliveries collapse on event_id.
func InitClickHouse(ctx context.Context, dsn string, metrics observability.MetricsRegistry) (*ClickHouse, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}

	zap.L().Info("Connected to ClickHouse")
	return &ClickHouse{DB: db, Metrics: metrics}, nil
}

// eventArgs converts an event to insert arguments in column order.
func eventArgs(ev models.InteractionEvent, batchID string) []any {
	var cmp sql.NullInt32
	if ev.CampaignID > 0 {
		cmp = sql.NullInt32{Int32: int32(ev.CampaignID), Valid: true}
	}
	var pl sql.NullString
	if ev.Placement != "" {
		pl = sql.NullString{String: string(ev.Placement), Valid: true}
	}
	var watched sql.NullFloat64
	if ev.WatchedSeconds != nil {
		watched = sql.NullFloat64{Float64: *ev.WatchedSeconds, Valid: true}
	}
	var viewer sql.NullString
	if ev.ViewerID != "" {
		viewer = sql.NullString{String: ev.ViewerID, Valid: true}
	}
	return []any{
		ev.Timestamp.UTC(), ev.ID, batchID, ev.DecisionID, string(ev.Kind),
		cmp, int32(ev.CreativeID), pl, watched, ev.SessionID, viewer,
	}
}

// SendEvent inserts a single event row.
func (c *ClickHouse) SendEvent(ctx context.Context, ev models.InteractionEvent) error {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	if _, err := c.DB.ExecContext(ctx, insertEvent, eventArgs(ev, "")...); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("kind", string(ev.Kind)))
		return fmt.Errorf("insert %s event: %w", ev.Kind, err)
	}
	return nil
}

// SendBatch inserts every event of a batch in one transaction, which the
// ClickHouse driver sends as a single block.
func (c *ClickHouse) SendBatch(ctx context.Context, batch models.EventBatch) (err error) {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	if len(batch.Events) == 0 {
		return nil
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch %s: %w", batch.ID, err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
				zap.L().Warn("clickhouse rollback", zap.Error(rerr))
			}
		}
	}()
	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("prepare batch %s: %w", batch.ID, err)
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			zap.L().Debug("clickhouse stmt close", zap.Error(cerr))
		}
	}()
	for _, ev := range batch.Events {
		if _, err = stmt.ExecContext(ctx, eventArgs(ev, batch.ID)...); err != nil {
			return fmt.Errorf("append event %s: %w", ev.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %s: %w", batch.ID, err)
	}
	return nil
}

// Close terminates the ClickHouse connection.
func (c *ClickHouse) Close() {
	if c != nil && c.DB != nil {
		if err := c.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// EventsByDecision returns all events for a decision ordered by timestamp.
func (c *ClickHouse) EventsByDecision(ctx context.Context, decisionID string) ([]EventRecord, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, event_id, batch_id, decision_id, kind, campaign_id, creative_id, placement, watched_seconds, session_id, viewer_id FROM ad_events FINAL WHERE decision_id=? ORDER BY timestamp`
	rows, err := c.DB.QueryContext(ctx, query, decisionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.EventID, &ev.BatchID, &ev.DecisionID, &ev.Kind, &ev.CampaignID,
			&ev.CreativeID, &ev.Placement, &ev.WatchedSeconds, &ev.SessionID, &ev.ViewerID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// CampaignFunnel counts a campaign's events by kind since the given time.
func (c *ClickHouse) CampaignFunnel(ctx context.Context, campaignID int, since time.Time) (map[models.EventKind]int64, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT kind, count() FROM ad_events FINAL WHERE campaign_id=? AND timestamp >= ? GROUP BY kind`
	rows, err := c.DB.QueryContext(ctx, query, int32(campaignID), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query funnel: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	out := make(map[models.EventKind]int64)
	for rows.Next() {
		var kind string
		var n uint64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan funnel: %w", err)
		}
		out[models.EventKind(kind)] = int64(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// CompletionRate is completes divided by impressions, or 0 with no
// impressions.
func CompletionRate(funnel map[models.EventKind]int64) float64 {
	imps := funnel[models.EventImpression]
	if imps == 0 {
		return 0
	}
	return float64(funnel[models.EventComplete]) / float64(imps)
}

var _ telemetry.Transport = (*ClickHouse)(nil)
