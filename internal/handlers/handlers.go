// Package handlers exposes the read-side HTTP API over the published marts
// plus a manual pipeline trigger.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"medwarehouse/internal/pipeline"
	"medwarehouse/pkg/database"
	"medwarehouse/pkg/logging"
	"medwarehouse/pkg/models"
)

// Trigger starts a warehouse rebuild on demand. *scheduler.Scheduler
// satisfies it.
type Trigger interface {
	RunNow() (*pipeline.Result, error)
}

var (
	db      database.PostgresConn
	logger  logging.Logger
	trigger Trigger
)

// Init initializes the handlers package with the warehouse connection and
// the pipeline trigger.
func Init(conn database.PostgresConn, log logging.Logger, t Trigger) {
	db = conn
	logger = log
	trigger = t
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChannelActivity is one day of posting activity for a channel.
type ChannelActivity struct {
	Date         string  `json:"date"`
	MessageCount int64   `json:"message_count"`
	AvgViews     float64 `json:"avg_views"`
	ImageCount   int64   `json:"image_count"`
}

// MessageSearchResult is one matched message with its channel context.
type MessageSearchResult struct {
	MessageID          int64     `json:"message_id"`
	ChannelName        string    `json:"channel_name"`
	MessageTimestamp   time.Time `json:"message_timestamp"`
	MessageText        string    `json:"message_text"`
	ViewCount          int64     `json:"view_count"`
	ForwardCount       int64     `json:"forward_count"`
	HasImage           bool      `json:"has_image"`
	EngagementCategory string    `json:"engagement_category"`
}

// VisualContentStats summarizes image usage per channel.
type VisualContentStats struct {
	ChannelName     string  `json:"channel_name"`
	TotalMessages   int64   `json:"total_messages"`
	ImageMessages   int64   `json:"image_messages"`
	ImageContentPct float64 `json:"image_content_pct"`
	AvgImageViews   float64 `json:"avg_image_views"`
}

// TopProduct is one frequently mentioned term across message text.
type TopProduct struct {
	Term      string  `json:"term"`
	Frequency int64   `json:"frequency"`
	AvgViews  float64 `json:"avg_views"`
	Channels  int64   `json:"channels"`
}

// ImageCategoryStats summarizes detection outcomes per image category.
type ImageCategoryStats struct {
	ImageCategory string  `json:"image_category"`
	Detections    int64   `json:"detections"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgViews      float64 `json:"avg_views"`
	AvgForwards   float64 `json:"avg_forwards"`
}

// ListChannels returns every channel dimension row.
func ListChannels(c *gin.Context) {
	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT channel_key, channel_name, channel_type, first_post_date, last_post_date,
		       days_active, total_posts, posts_with_image, avg_posts_per_day, avg_views,
		       total_views, avg_forwards, total_forwards, avg_message_length,
		       engagement_rate, image_content_pct
		FROM marts.dim_channels
		ORDER BY channel_name`)
	if err != nil {
		logger.WithError(err).Error("Failed to query channels")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to query channels"})
		return
	}
	defer rows.Close()

	channels := []models.ChannelDimension{}
	for rows.Next() {
		var ch models.ChannelDimension
		err := rows.Scan(&ch.ChannelKey, &ch.ChannelName, &ch.ChannelType, &ch.FirstPostDate,
			&ch.LastPostDate, &ch.DaysActive, &ch.TotalPosts, &ch.PostsWithImage,
			&ch.AvgPostsPerDay, &ch.AvgViews, &ch.TotalViews, &ch.AvgForwards,
			&ch.TotalForwards, &ch.AvgMessageLength, &ch.EngagementRate, &ch.ImageContentPct)
		if err != nil {
			logger.WithError(err).Error("Failed to scan channel row")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read channels"})
			return
		}
		channels = append(channels, ch)
	}

	c.JSON(http.StatusOK, gin.H{"channels": channels, "count": len(channels)})
}

// GetChannelActivity returns daily posting activity for one channel.
func GetChannelActivity(c *gin.Context) {
	channelName := c.Param("name")

	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT to_char(d.full_date, 'YYYY-MM-DD'),
		       COUNT(*),
		       COALESCE(AVG(f.view_count), 0),
		       COUNT(*) FILTER (WHERE f.has_image)
		FROM marts.fct_messages f
		JOIN marts.dim_dates d ON d.date_key = f.date_key
		WHERE f.channel_name = $1
		GROUP BY d.full_date
		ORDER BY d.full_date`, channelName)
	if err != nil {
		logger.WithError(err).Error("Failed to query channel activity")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to query channel activity"})
		return
	}
	defer rows.Close()

	activity := []ChannelActivity{}
	for rows.Next() {
		var a ChannelActivity
		if err := rows.Scan(&a.Date, &a.MessageCount, &a.AvgViews, &a.ImageCount); err != nil {
			logger.WithError(err).Error("Failed to scan activity row")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read channel activity"})
			return
		}
		activity = append(activity, a)
	}

	if len(activity) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No activity for channel " + channelName})
		return
	}

	c.JSON(http.StatusOK, gin.H{"channel_name": channelName, "activity": activity})
}

// SearchMessages returns messages whose text matches the query parameter,
// most viewed first.
func SearchMessages(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "query parameter is required"})
		return
	}
	limit := parseLimit(c.DefaultQuery("limit", "50"), 50, 500)

	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT message_id, channel_name, message_timestamp, message_text,
		       view_count, forward_count, has_image, engagement_category
		FROM marts.fct_messages
		WHERE message_text ILIKE '%' || $1 || '%'
		ORDER BY view_count DESC
		LIMIT $2`, query, limit)
	if err != nil {
		logger.WithError(err).Error("Failed to search messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to search messages"})
		return
	}
	defer rows.Close()

	results := []MessageSearchResult{}
	for rows.Next() {
		var r MessageSearchResult
		err := rows.Scan(&r.MessageID, &r.ChannelName, &r.MessageTimestamp, &r.MessageText,
			&r.ViewCount, &r.ForwardCount, &r.HasImage, &r.EngagementCategory)
		if err != nil {
			logger.WithError(err).Error("Failed to scan search row")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read search results"})
			return
		}
		results = append(results, r)
	}

	c.JSON(http.StatusOK, gin.H{"query": query, "results": results, "count": len(results)})
}

// GetTopProducts returns the most frequently mentioned terms in message
// text by simple word frequency. Words of four characters or fewer are
// ignored and a term must appear at least three times to rank.
func GetTopProducts(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "10"), 10, 100)

	rows, err := db.QueryContext(c.Request.Context(), `
		WITH words AS (
			SELECT LOWER(TRIM(word)) AS term, channel_name, view_count
			FROM marts.fct_messages,
			     LATERAL UNNEST(STRING_TO_ARRAY(message_text, ' ')) AS word
			WHERE LENGTH(TRIM(word)) > 3
			  AND message_text <> ''
		)
		SELECT term,
		       COUNT(*),
		       COALESCE(AVG(view_count), 0),
		       COUNT(DISTINCT channel_name)
		FROM words
		GROUP BY term
		HAVING COUNT(*) > 2
		ORDER BY COUNT(*) DESC
		LIMIT $1`, limit)
	if err != nil {
		logger.WithError(err).Error("Failed to query top products")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to query top products"})
		return
	}
	defer rows.Close()

	products := []TopProduct{}
	for rows.Next() {
		var p TopProduct
		if err := rows.Scan(&p.Term, &p.Frequency, &p.AvgViews, &p.Channels); err != nil {
			logger.WithError(err).Error("Failed to scan product row")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read top products"})
			return
		}
		products = append(products, p)
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

// GetVisualContentStats returns image usage per channel.
func GetVisualContentStats(c *gin.Context) {
	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT channel_name,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE has_image),
		       COALESCE(100.0 * COUNT(*) FILTER (WHERE has_image) / NULLIF(COUNT(*), 0), 0),
		       COALESCE(AVG(view_count) FILTER (WHERE has_image), 0)
		FROM marts.fct_messages
		GROUP BY channel_name
		ORDER BY channel_name`)
	if err != nil {
		logger.WithError(err).Error("Failed to query visual content stats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to query visual content stats"})
		return
	}
	defer rows.Close()

	stats := []VisualContentStats{}
	for rows.Next() {
		var s VisualContentStats
		err := rows.Scan(&s.ChannelName, &s.TotalMessages, &s.ImageMessages,
			&s.ImageContentPct, &s.AvgImageViews)
		if err != nil {
			logger.WithError(err).Error("Failed to scan visual content row")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read visual content stats"})
			return
		}
		stats = append(stats, s)
	}

	c.JSON(http.StatusOK, gin.H{"channels": stats})
}

// GetImageCategoryStats returns detection outcomes per image category.
func GetImageCategoryStats(c *gin.Context) {
	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT image_category,
		       COUNT(*),
		       COALESCE(AVG(detection_confidence), 0),
		       COALESCE(AVG(view_count), 0),
		       COALESCE(AVG(forward_count), 0)
		FROM marts.fct_image_detections
		GROUP BY image_category
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		logger.WithError(err).Error("Failed to query image category stats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to query image category stats"})
		return
	}
	defer rows.Close()

	stats := []ImageCategoryStats{}
	for rows.Next() {
		var s ImageCategoryStats
		err := rows.Scan(&s.ImageCategory, &s.Detections, &s.AvgConfidence,
			&s.AvgViews, &s.AvgForwards)
		if err != nil {
			logger.WithError(err).Error("Failed to scan category row")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read image category stats"})
			return
		}
		stats = append(stats, s)
	}

	c.JSON(http.StatusOK, gin.H{"categories": stats})
}

// TriggerPipelineRun starts a rebuild and reports its outcome. A build that
// published with validation failures returns 200 with the failures attached.
func TriggerPipelineRun(c *gin.Context) {
	result, err := trigger.RunNow()
	if err != nil && (result == nil || len(result.Failures) == 0) {
		logger.WithError(err).Error("Manual pipeline run failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	status := "success"
	if result != nil && len(result.Failures) > 0 {
		status = "published_with_failures"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "result": result})
}

func parseLimit(raw string, fallback, max int) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > max {
		return fallback
	}
	return limit
}

// SetupRoutes registers the API routes on a router group.
func SetupRoutes(router gin.IRouter) {
	api := router.Group("/api")
	{
		api.GET("/channels", ListChannels)
		api.GET("/channels/:name/activity", GetChannelActivity)
		api.GET("/search/messages", SearchMessages)
		api.GET("/reports/top-products", GetTopProducts)
		api.GET("/reports/visual-content", GetVisualContentStats)
		api.GET("/reports/image-categories", GetImageCategoryStats)
		api.POST("/pipeline/run", TriggerPipelineRun)
	}
}
