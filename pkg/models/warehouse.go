package models

import "time"

// RawMessage represents a scraped message record as it arrives from the
// collection layer. Nothing here is guaranteed well-formed; optional fields
// are pointers so that "absent" and "zero" stay distinguishable until staging.
type RawMessage struct {
	MessageID    *int64     `json:"message_id" validate:"required"`
	ChannelName  string     `json:"channel_name" validate:"required"`
	MessageDate  *time.Time `json:"message_date" validate:"required"`
	MessageText  string     `json:"message_text"`
	HasMedia     *bool      `json:"has_media"`
	ImagePath    string     `json:"image_path"`
	Views        *int64     `json:"views"`
	Forwards     *int64     `json:"forwards"`
	IsReply      *bool      `json:"is_reply"`
	ReplyToMsgID *int64     `json:"reply_to_msg_id"`
	SourceFile   string     `json:"source_file"`
}

// StagedMessage is a RawMessage after validation, coalescing and derivation.
// Records that survive staging always carry an identifier, a channel and a
// non-future timestamp.
type StagedMessage struct {
	MessageID     int64     `json:"message_id"`
	ChannelName   string    `json:"channel_name"`
	MessageDate   time.Time `json:"message_date"`
	MessageText   string    `json:"message_text"`
	HasMedia      bool      `json:"has_media"`
	HasImage      bool      `json:"has_image"`
	ImagePath     string    `json:"image_path"`
	Views         int64     `json:"views"`
	Forwards      int64     `json:"forwards"`
	IsReply       bool      `json:"is_reply"`
	ReplyToMsgID  *int64    `json:"reply_to_msg_id"`
	SourceFile    string    `json:"source_file"`
	MessageLength int       `json:"message_length"`
	IsEmpty       bool      `json:"is_empty"`
	HourOfDay     int       `json:"hour_of_day"`
	DayOfWeek     string    `json:"day_of_week"`
	ChannelType   string    `json:"channel_type"`
}

// Detection represents one object-detection record produced by the external
// image analysis stage, keyed by the (message_id, channel_name) natural key.
type Detection struct {
	MessageID       int64   `json:"message_id" validate:"required"`
	ChannelName     string  `json:"channel_name" validate:"required"`
	ImagePath       string  `json:"image_path"`
	Category        string  `json:"category"`
	DetectedObjects string  `json:"detected_objects"`
	NumDetections   int     `json:"num_detections" validate:"gte=0"`
	MaxConfidence   float64 `json:"max_confidence" validate:"gte=0,lte=1"`
}

// ChannelDimension is one row per distinct channel, fully recomputed per run.
type ChannelDimension struct {
	ChannelKey       string    `json:"channel_key"`
	ChannelName      string    `json:"channel_name"`
	ChannelType      string    `json:"channel_type"`
	FirstPostDate    time.Time `json:"first_post_date"`
	LastPostDate     time.Time `json:"last_post_date"`
	DaysActive       int       `json:"days_active"`
	TotalPosts       int64     `json:"total_posts"`
	PostsWithImage   int64     `json:"posts_with_image"`
	AvgPostsPerDay   *float64  `json:"avg_posts_per_day"` // nil when DaysActive is 0
	AvgViews         float64   `json:"avg_views"`
	TotalViews       int64     `json:"total_views"`
	AvgForwards      float64   `json:"avg_forwards"`
	TotalForwards    int64     `json:"total_forwards"`
	AvgMessageLength float64   `json:"avg_message_length"`
	EngagementRate   float64   `json:"engagement_rate"`
	ImageContentPct  float64   `json:"image_content_pct"`
}

// DateDimension is one row per calendar day of the date spine.
type DateDimension struct {
	DateKey     int       `json:"date_key"` // YYYYMMDD
	FullDate    time.Time `json:"full_date"`
	Year        int       `json:"year"`
	Quarter     int       `json:"quarter"`
	Month       int       `json:"month"`
	MonthName   string    `json:"month_name"`
	WeekOfYear  int       `json:"week_of_year"`
	DayOfMonth  int       `json:"day_of_month"`
	DayOfWeek   int       `json:"day_of_week"` // ISO, Monday=1
	DayName     string    `json:"day_name"`
	IsWeekend   bool      `json:"is_weekend"`
	IsToday     bool      `json:"is_today"`
	IsThisWeek  bool      `json:"is_this_week"`
	IsThisMonth bool      `json:"is_this_month"`
	IsThisYear  bool      `json:"is_this_year"`
	HolidayName string    `json:"holiday_name"` // empty when not a holiday
}

// MessageFact is one row per staged message. Dimension foreign keys are
// pointers: an unmatched dimension lookup stays nil rather than being
// fabricated or causing the fact to be dropped.
type MessageFact struct {
	MessageKey           string    `json:"message_key"`
	MessageID            int64     `json:"message_id"`
	ChannelName          string    `json:"channel_name"`
	ChannelKey           *string   `json:"channel_key"`
	DateKey              *int      `json:"date_key"`
	MessageTimestamp     time.Time `json:"message_timestamp"`
	MessageText          string    `json:"message_text"`
	MessageLength        int       `json:"message_length"`
	HourOfDay            int       `json:"hour_of_day"`
	HasImage             bool      `json:"has_image"`
	ViewCount            int64     `json:"view_count"`
	ForwardCount         int64     `json:"forward_count"`
	ForwardRate          float64   `json:"forward_rate"`
	MentionsPrice        bool      `json:"mentions_price"`
	MentionsAvailability bool      `json:"mentions_availability"`
	MentionsDelivery     bool      `json:"mentions_delivery"`
	ContentType          string    `json:"content_type"`
	EngagementCategory   string    `json:"engagement_category"`
}

// ImageDetectionFact is one row per detection record that matched an existing
// message fact. Unmatched detections never reach this type.
type ImageDetectionFact struct {
	DetectionKey        string  `json:"detection_key"`
	MessageID           int64   `json:"message_id"`
	ChannelName         string  `json:"channel_name"`
	ChannelKey          string  `json:"channel_key"`
	ImagePath           string  `json:"image_path"`
	ImageCategory       string  `json:"image_category"`
	DetectedObjects     string  `json:"detected_objects"`
	NumDetections       int     `json:"num_detections"`
	DetectionConfidence float64 `json:"detection_confidence"`
	ViewCount           int64   `json:"view_count"`
	ForwardCount        int64   `json:"forward_count"`
	IsPromotional       bool    `json:"is_promotional"`
	IsProductOnly       bool    `json:"is_product_only"`
	DetailLevel         string  `json:"detail_level"`
	ConfidenceLevel     string  `json:"confidence_level"`
}

// ValidationFailure reports one integrity violation found by the validator.
type ValidationFailure struct {
	Check   string `json:"check"`
	Table   string `json:"table"`
	Column  string `json:"column"`
	Key     string `json:"key"`
	Count   int64  `json:"count"`
	Message string `json:"message"`
}

// Channel type classification buckets.
const (
	ChannelTypePharmaceutical = "Pharmaceutical"
	ChannelTypeCosmetics      = "Cosmetics"
	ChannelTypeMedical        = "Medical"
	ChannelTypeOther          = "Other"
)

// Content type classification.
const (
	ContentTypeImageOnly     = "Image Only"
	ContentTypeImageWithText = "Image with Text"
	ContentTypeTextOnly      = "Text Only"
	ContentTypeEmpty         = "Empty"
)

// Engagement categories by view count.
const (
	EngagementNone   = "No Views"
	EngagementLow    = "Low Engagement"
	EngagementMedium = "Medium Engagement"
	EngagementHigh   = "High Engagement"
)

// Detection detail levels by detection count.
const (
	DetailLevelNone   = "No Detection"
	DetailLevelLow    = "Low Detail"
	DetailLevelMedium = "Medium Detail"
	DetailLevelHigh   = "High Detail"
)

// Detection confidence levels.
const (
	ConfidenceHigh   = "High Confidence"
	ConfidenceMedium = "Medium Confidence"
	ConfidenceLow    = "Low Confidence"
)

// Image categories as emitted by the detection stage.
const (
	ImageCategoryPromotional    = "promotional"
	ImageCategoryProductDisplay = "product_display"
)
