package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

// Postgres backs both the source registry and the dedup ledger. Watermark
// movement and record insertion use compare-and-set shapes so that even
// two processes sharing the database cannot regress a watermark or write
// a duplicate record.
type Postgres struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var (
	_ ports.SourceStore = (*Postgres)(nil)
	_ ports.DedupStore  = (*Postgres)(nil)
)

// NewPostgres wires a sql.DB implementation.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Migrate creates the schema when absent.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id   TEXT PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			url          TEXT UNIQUE NOT NULL,
			last_checked TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS video_summaries (
			video_id     TEXT PRIMARY KEY,
			channel_id   TEXT NOT NULL REFERENCES channels(channel_id),
			title        TEXT NOT NULL,
			summary      TEXT NOT NULL DEFAULT '',
			skip_reason  TEXT NOT NULL DEFAULT '',
			link         TEXT NOT NULL,
			published_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_video_summaries_processed_at
			ON video_summaries (processed_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ListActive returns all monitored channels in registration order.
func (p *Postgres) ListActive(ctx context.Context) ([]domain.Source, error) {
	query, args, err := p.builder.
		Select("channel_id", "name", "url", "last_checked").
		From("channels").
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var (
			src         domain.Source
			lastChecked sql.NullTime
		)
		if err := rows.Scan(&src.ChannelID, &src.Name, &src.URL, &lastChecked); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		src.ID = src.ChannelID
		if lastChecked.Valid {
			src.Watermark = lastChecked.Time.UTC()
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return sources, nil
}

// GetWatermark returns the stored watermark for a channel.
func (p *Postgres) GetWatermark(ctx context.Context, sourceID string) (time.Time, error) {
	query, args, err := p.builder.
		Select("last_checked").
		From("channels").
		Where(sq.Eq{"channel_id": sourceID}).
		ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("build watermark query: %w", err)
	}

	var lastChecked sql.NullTime
	err = p.db.QueryRowContext(ctx, query, args...).Scan(&lastChecked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, domain.ErrNotFound
	case err != nil:
		return time.Time{}, fmt.Errorf("get watermark: %w", err)
	}
	if !lastChecked.Valid {
		return time.Time{}, nil
	}
	return lastChecked.Time.UTC(), nil
}

// SetWatermark advances last_checked with max-merge semantics. The guard
// in the WHERE clause makes the update a no-op for any timestamp that is
// not strictly newer, so concurrent writers cannot move it backwards.
func (p *Postgres) SetWatermark(ctx context.Context, sourceID string, ts time.Time) error {
	query, args, err := p.builder.
		Update("channels").
		Set("last_checked", ts.UTC()).
		Where(sq.Eq{"channel_id": sourceID}).
		Where(sq.Or{
			sq.Eq{"last_checked": nil},
			sq.Lt{"last_checked": ts.UTC()},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build watermark update: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set watermark result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Either the channel is unknown or the stored value already won the
	// merge; only the former is an error.
	if _, err := p.GetWatermark(ctx, sourceID); err != nil {
		return err
	}
	return nil
}

// AddSource registers a new channel.
func (p *Postgres) AddSource(ctx context.Context, src domain.Source) error {
	query, args, err := p.builder.
		Insert("channels").
		Columns("channel_id", "name", "url").
		Values(src.ChannelID, src.Name, src.URL).
		ToSql()
	if err != nil {
		return fmt.Errorf("build channel insert: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

// GetSourceByChannel returns a monitored channel by its channel id.
func (p *Postgres) GetSourceByChannel(ctx context.Context, channelID string) (domain.Source, error) {
	query, args, err := p.builder.
		Select("channel_id", "name", "url", "last_checked").
		From("channels").
		Where(sq.Eq{"channel_id": channelID}).
		ToSql()
	if err != nil {
		return domain.Source{}, fmt.Errorf("build channel query: %w", err)
	}

	var (
		src         domain.Source
		lastChecked sql.NullTime
	)
	err = p.db.QueryRowContext(ctx, query, args...).Scan(&src.ChannelID, &src.Name, &src.URL, &lastChecked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Source{}, domain.ErrNotFound
	case err != nil:
		return domain.Source{}, fmt.Errorf("get channel: %w", err)
	}
	src.ID = src.ChannelID
	if lastChecked.Valid {
		src.Watermark = lastChecked.Time.UTC()
	}
	return src, nil
}

// Exists reports whether a processed record for videoID is present.
func (p *Postgres) Exists(ctx context.Context, videoID string) (bool, error) {
	query, args, err := p.builder.
		Select("1").
		From("video_summaries").
		Where(sq.Eq{"video_id": videoID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = p.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("dedup exists: %w", err)
	}
	return true, nil
}

// Insert writes a processed record once. The primary key on video_id turns
// a racing duplicate into domain.ErrAlreadyExists for the caller.
func (p *Postgres) Insert(ctx context.Context, rec domain.ProcessedRecord) error {
	query, args, err := p.builder.
		Insert("video_summaries").
		Columns("video_id", "channel_id", "title", "summary", "skip_reason", "link", "published_at", "processed_at").
		Values(rec.VideoID, rec.SourceID, rec.Title, rec.Summary, string(rec.SkipReason), rec.Link, rec.PublishedAt.UTC(), rec.ProcessedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record insert: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Latest returns the most recently processed records, newest first.
func (p *Postgres) Latest(ctx context.Context, limit int) ([]domain.ProcessedRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := p.builder.
		Select("video_id", "channel_id", "title", "summary", "skip_reason", "link", "published_at", "processed_at").
		From("video_summaries").
		OrderBy("processed_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latest records: %w", err)
	}
	defer rows.Close()

	var recs []domain.ProcessedRecord
	for rows.Next() {
		var (
			rec    domain.ProcessedRecord
			reason string
		)
		if err := rows.Scan(&rec.VideoID, &rec.SourceID, &rec.Title, &rec.Summary, &reason, &rec.Link, &rec.PublishedAt, &rec.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.SkipReason = domain.SkipReason(reason)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
