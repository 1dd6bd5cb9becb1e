// Package store is the Postgres persistence layer of the warehouse: raw
// landing tables written by the loaders, and the star schema marts written
// atomically by the pipeline.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"medwarehouse/internal/keys"
	"medwarehouse/internal/store/schema"
	"medwarehouse/pkg/database"
	"medwarehouse/pkg/logging"
	"medwarehouse/pkg/models"
	"medwarehouse/pkg/monitoring"
)

// Metrics groups the store's Prometheus instruments.
type Metrics struct {
	Queries     *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Connections *prometheus.GaugeVec
}

// NewMetrics registers database metrics on the shared collector.
func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	queries, duration, connections := mc.CreateDatabaseMetrics()
	return &Metrics{Queries: queries, Duration: duration, Connections: connections}
}

// Store wraps the warehouse database connection.
type Store struct {
	db      database.PostgresConn
	logger  logging.Logger
	metrics *Metrics
}

// NewStore creates a Store around an open connection.
func NewStore(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// SetMetrics enables query instrumentation.
func (s *Store) SetMetrics(m *Metrics) {
	s.metrics = m
}

// observe records one store operation's outcome and refreshes the
// connection gauge.
func (s *Store) observe(queryType string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.Queries.WithLabelValues(queryType, status).Inc()
	s.metrics.Duration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
	s.metrics.Connections.WithLabelValues("warehouse").Set(float64(s.db.Stats().OpenConnections))
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() database.PostgresConn {
	return s.db
}

// EnsureSchema applies the embedded DDL files in lexical order. Every
// statement is idempotent, so running it on every start is safe.
func (s *Store) EnsureSchema(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ensure_schema", start, err) }(time.Now())

	names, err := fs.Glob(schema.Content, "*.sql")
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		ddl, err := schema.Content.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
			return fmt.Errorf("apply schema file %s: %w", name, err)
		}
		s.logger.WithField("file", name).Info("Applied schema file")
	}
	return nil
}

// InsertRawMessages upserts scraped messages into the raw landing table.
// Re-loading a partition overwrites the previous copy of each message.
func (s *Store) InsertRawMessages(ctx context.Context, msgs []models.RawMessage) (err error) {
	defer func(start time.Time) { s.observe("insert_raw_messages", start, err) }(time.Now())

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO raw.telegram_messages
			(message_id, channel_name, message_date, message_text, has_media,
			 image_path, views, forwards, is_reply, reply_to_msg_id, source_file)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (message_id, channel_name) DO UPDATE SET
			message_date = EXCLUDED.message_date,
			message_text = EXCLUDED.message_text,
			has_media = EXCLUDED.has_media,
			image_path = EXCLUDED.image_path,
			views = EXCLUDED.views,
			forwards = EXCLUDED.forwards,
			is_reply = EXCLUDED.is_reply,
			reply_to_msg_id = EXCLUDED.reply_to_msg_id,
			source_file = EXCLUDED.source_file,
			loaded_at = now()`)
	if err != nil {
		return fmt.Errorf("prepare raw message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.MessageID == nil {
			continue
		}
		_, err := stmt.ExecContext(ctx,
			*m.MessageID, m.ChannelName, m.MessageDate, m.MessageText, m.HasMedia,
			m.ImagePath, m.Views, m.Forwards, m.IsReply, m.ReplyToMsgID, m.SourceFile)
		if err != nil {
			return fmt.Errorf("insert raw message %d/%s: %w", *m.MessageID, m.ChannelName, err)
		}
	}
	return nil
}

// InsertDetections upserts object detection results into the raw landing table.
func (s *Store) InsertDetections(ctx context.Context, dets []models.Detection) (err error) {
	defer func(start time.Time) { s.observe("insert_detections", start, err) }(time.Now())

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO raw.yolo_detections
			(message_id, channel_name, image_path, category, detected_objects,
			 num_detections, max_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id, channel_name) DO UPDATE SET
			image_path = EXCLUDED.image_path,
			category = EXCLUDED.category,
			detected_objects = EXCLUDED.detected_objects,
			num_detections = EXCLUDED.num_detections,
			max_confidence = EXCLUDED.max_confidence,
			loaded_at = now()`)
	if err != nil {
		return fmt.Errorf("prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range dets {
		_, err := stmt.ExecContext(ctx,
			d.MessageID, d.ChannelName, d.ImagePath, d.Category, d.DetectedObjects,
			d.NumDetections, d.MaxConfidence)
		if err != nil {
			return fmt.Errorf("insert detection %d/%s: %w", d.MessageID, d.ChannelName, err)
		}
	}
	return nil
}

// LoadRawMessages reads every landed message for a rebuild.
func (s *Store) LoadRawMessages(ctx context.Context) (msgs []models.RawMessage, err error) {
	defer func(start time.Time) { s.observe("load_raw_messages", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, channel_name, message_date, message_text, has_media,
		       image_path, views, forwards, is_reply, reply_to_msg_id, source_file
		FROM raw.telegram_messages
		ORDER BY channel_name, message_id`)
	if err != nil {
		return nil, fmt.Errorf("query raw messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m          models.RawMessage
			messageID  int64
			text       sql.NullString
			imagePath  sql.NullString
			sourceFile sql.NullString
		)
		err := rows.Scan(&messageID, &m.ChannelName, &m.MessageDate, &text, &m.HasMedia,
			&imagePath, &m.Views, &m.Forwards, &m.IsReply, &m.ReplyToMsgID, &sourceFile)
		if err != nil {
			return nil, fmt.Errorf("scan raw message: %w", err)
		}
		m.MessageID = &messageID
		m.MessageText = text.String
		m.ImagePath = imagePath.String
		m.SourceFile = sourceFile.String
		msgs = append(msgs, m)
	}
	err = rows.Err()
	return msgs, err
}

// LoadDetections reads every landed detection for a rebuild.
func (s *Store) LoadDetections(ctx context.Context) (dets []models.Detection, err error) {
	defer func(start time.Time) { s.observe("load_detections", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, channel_name, image_path, category, detected_objects,
		       num_detections, max_confidence
		FROM raw.yolo_detections
		ORDER BY channel_name, message_id`)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d         models.Detection
			imagePath sql.NullString
			category  sql.NullString
			objects   sql.NullString
		)
		err := rows.Scan(&d.MessageID, &d.ChannelName, &imagePath, &category, &objects,
			&d.NumDetections, &d.MaxConfidence)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.ImagePath = imagePath.String
		d.Category = category.String
		d.DetectedObjects = objects.String
		dets = append(dets, d)
	}
	err = rows.Err()
	return dets, err
}

// Warehouse is everything one pipeline run publishes.
type Warehouse struct {
	RunID      string
	RunAt      time.Time
	Channels   []models.ChannelDimension
	Dates      []models.DateDimension
	Messages   []models.MessageFact
	Detections []models.ImageDetectionFact
	Failures   []models.ValidationFailure
}

// PublishWarehouse replaces every marts table with the run's output in a
// single transaction. Readers see either the previous complete build or the
// new one, never a mix. Validation failures are recorded alongside the data
// they describe.
func (s *Store) PublishWarehouse(ctx context.Context, w Warehouse) (err error) {
	defer func(start time.Time) { s.observe("publish", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish transaction: %w", err)
	}
	defer tx.Rollback()

	deletes := []string{
		"DELETE FROM marts.fct_image_detections",
		"DELETE FROM marts.fct_messages",
		"DELETE FROM marts.dim_dates",
		"DELETE FROM marts.dim_channels",
	}
	for _, q := range deletes {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear marts: %w", err)
		}
	}

	if err := insertChannels(ctx, tx, w.Channels); err != nil {
		return err
	}
	if err := insertDates(ctx, tx, w.Dates); err != nil {
		return err
	}
	if err := insertMessageFacts(ctx, tx, w.Messages); err != nil {
		return err
	}
	if err := insertDetectionFacts(ctx, tx, w.Detections); err != nil {
		return err
	}
	if err := insertFailures(ctx, tx, w.RunID, w.RunAt, w.Failures); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish transaction: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"run_id":     w.RunID,
		"channels":   len(w.Channels),
		"dates":      len(w.Dates),
		"messages":   len(w.Messages),
		"detections": len(w.Detections),
		"failures":   len(w.Failures),
	}).Info("Published warehouse build")
	return nil
}

func insertChannels(ctx context.Context, tx *sql.Tx, channels []models.ChannelDimension) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO marts.dim_channels
			(channel_key, channel_name, channel_type, first_post_date, last_post_date,
			 days_active, total_posts, posts_with_image, avg_posts_per_day, avg_views,
			 total_views, avg_forwards, total_forwards, avg_message_length,
			 engagement_rate, image_content_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`)
	if err != nil {
		return fmt.Errorf("prepare channel insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range channels {
		_, err := stmt.ExecContext(ctx,
			c.ChannelKey, c.ChannelName, c.ChannelType, c.FirstPostDate, c.LastPostDate,
			c.DaysActive, c.TotalPosts, c.PostsWithImage, c.AvgPostsPerDay, c.AvgViews,
			c.TotalViews, c.AvgForwards, c.TotalForwards, c.AvgMessageLength,
			c.EngagementRate, c.ImageContentPct)
		if err != nil {
			return fmt.Errorf("insert channel %s: %w", c.ChannelName, err)
		}
	}
	return nil
}

func insertDates(ctx context.Context, tx *sql.Tx, dates []models.DateDimension) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO marts.dim_dates
			(date_key, full_date, year, quarter, month, month_name, week_of_year,
			 day_of_month, day_of_week, day_name, is_weekend, is_today, is_this_week,
			 is_this_month, is_this_year, holiday_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`)
	if err != nil {
		return fmt.Errorf("prepare date insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range dates {
		_, err := stmt.ExecContext(ctx,
			d.DateKey, d.FullDate, d.Year, d.Quarter, d.Month, d.MonthName, d.WeekOfYear,
			d.DayOfMonth, d.DayOfWeek, d.DayName, d.IsWeekend, d.IsToday, d.IsThisWeek,
			d.IsThisMonth, d.IsThisYear, d.HolidayName)
		if err != nil {
			return fmt.Errorf("insert date %d: %w", d.DateKey, err)
		}
	}
	return nil
}

func insertMessageFacts(ctx context.Context, tx *sql.Tx, facts []models.MessageFact) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO marts.fct_messages
			(message_key, message_id, channel_name, channel_key, date_key,
			 message_timestamp, message_text, message_length, hour_of_day, has_image,
			 view_count, forward_count, forward_rate, mentions_price,
			 mentions_availability, mentions_delivery, content_type, engagement_category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`)
	if err != nil {
		return fmt.Errorf("prepare message fact insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		_, err := stmt.ExecContext(ctx,
			f.MessageKey, f.MessageID, f.ChannelName, f.ChannelKey, f.DateKey,
			f.MessageTimestamp, f.MessageText, f.MessageLength, f.HourOfDay, f.HasImage,
			f.ViewCount, f.ForwardCount, f.ForwardRate, f.MentionsPrice,
			f.MentionsAvailability, f.MentionsDelivery, f.ContentType, f.EngagementCategory)
		if err != nil {
			return fmt.Errorf("insert message fact %s: %w", f.MessageKey, err)
		}
	}
	return nil
}

func insertDetectionFacts(ctx context.Context, tx *sql.Tx, facts []models.ImageDetectionFact) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO marts.fct_image_detections
			(detection_key, message_key, message_id, channel_name, channel_key,
			 image_path, image_category, detected_objects, num_detections,
			 detection_confidence, view_count, forward_count, is_promotional,
			 is_product_only, detail_level, confidence_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`)
	if err != nil {
		return fmt.Errorf("prepare detection fact insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		_, err := stmt.ExecContext(ctx,
			f.DetectionKey, keys.Message(f.MessageID, f.ChannelName), f.MessageID,
			f.ChannelName, f.ChannelKey, f.ImagePath, f.ImageCategory, f.DetectedObjects,
			f.NumDetections, f.DetectionConfidence, f.ViewCount, f.ForwardCount,
			f.IsPromotional, f.IsProductOnly, f.DetailLevel, f.ConfidenceLevel)
		if err != nil {
			return fmt.Errorf("insert detection fact %s: %w", f.DetectionKey, err)
		}
	}
	return nil
}

func insertFailures(ctx context.Context, tx *sql.Tx, runID string, runAt time.Time, failures []models.ValidationFailure) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO marts.validation_failures
			(run_id, run_at, check_name, table_name, column_name, row_key, row_count, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("prepare validation failure insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range failures {
		_, err := stmt.ExecContext(ctx,
			runID, runAt, f.Check, f.Table, f.Column, f.Key, f.Count, f.Message)
		if err != nil {
			return fmt.Errorf("insert validation failure: %w", err)
		}
	}
	return nil
}

// LastRunFailureCount reports how many validation failures the most recent
// published run recorded. A warehouse with no recorded runs counts as zero.
// Used by the health endpoint.
func (s *Store) LastRunFailureCount(ctx context.Context) (count int64, err error) {
	defer func(start time.Time) { s.observe("last_run_failures", start, err) }(time.Now())

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM marts.validation_failures
		GROUP BY run_id
		ORDER BY MAX(run_at) DESC
		LIMIT 1`).Scan(&count)
	if errors.Is(err, database.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count validation failures: %w", err)
	}
	return count, nil
}
