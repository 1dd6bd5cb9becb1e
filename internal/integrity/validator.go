// Package integrity audits the finished dimension and fact sets. It never
// mutates upstream data and never aborts mid-pass: every violation found is
// accumulated and returned, and the caller decides what a non-empty result
// means for the run.
package integrity

import (
	"fmt"
	"sort"
	"time"

	"medwarehouse/pkg/models"
)

// Check names as reported in validation failures.
const (
	CheckUniqueKey   = "unique_key"
	CheckReferential = "referential_integrity"
	CheckDomain      = "domain_membership"
	CheckValueRange  = "value_range"
)

// Declared domains for the categorical columns of the warehouse.
var (
	channelTypeDomain = []string{
		models.ChannelTypePharmaceutical,
		models.ChannelTypeCosmetics,
		models.ChannelTypeMedical,
		models.ChannelTypeOther,
	}
	contentTypeDomain = []string{
		models.ContentTypeImageOnly,
		models.ContentTypeImageWithText,
		models.ContentTypeTextOnly,
		models.ContentTypeEmpty,
	}
	engagementDomain = []string{
		models.EngagementNone,
		models.EngagementLow,
		models.EngagementMedium,
		models.EngagementHigh,
	}
	detailLevelDomain = []string{
		models.DetailLevelNone,
		models.DetailLevelLow,
		models.DetailLevelMedium,
		models.DetailLevelHigh,
	}
	confidenceDomain = []string{
		models.ConfidenceHigh,
		models.ConfidenceMedium,
		models.ConfidenceLow,
	}
)

// Inputs carries the complete warehouse output of one pipeline run.
type Inputs struct {
	Channels       []models.ChannelDimension
	Dates          []models.DateDimension
	MessageFacts   []models.MessageFact
	DetectionFacts []models.ImageDetectionFact
}

// Validate runs all integrity checks over the warehouse outputs and returns
// every violation found, in deterministic order. An empty result means the
// run passed.
func Validate(in Inputs, now time.Time) []models.ValidationFailure {
	var failures []models.ValidationFailure

	failures = append(failures, checkUniqueness(in)...)
	failures = append(failures, checkReferential(in)...)
	failures = append(failures, checkDomains(in)...)
	failures = append(failures, checkRanges(in, now)...)

	sort.Slice(failures, func(i, j int) bool {
		a, b := failures[i], failures[j]
		if a.Check != b.Check {
			return a.Check < b.Check
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Key < b.Key
	})

	return failures
}

func checkUniqueness(in Inputs) []models.ValidationFailure {
	var failures []models.ValidationFailure

	channelKeys := make(map[string]int64)
	for _, c := range in.Channels {
		channelKeys[c.ChannelKey]++
	}
	failures = append(failures, duplicates("dim_channels", "channel_key", channelKeys)...)

	dateKeys := make(map[string]int64)
	fullDates := make(map[string]int64)
	for _, d := range in.Dates {
		dateKeys[fmt.Sprintf("%d", d.DateKey)]++
		fullDates[d.FullDate.Format("2006-01-02")]++
	}
	failures = append(failures, duplicates("dim_dates", "date_key", dateKeys)...)
	failures = append(failures, duplicates("dim_dates", "full_date", fullDates)...)

	messageKeys := make(map[string]int64)
	for _, f := range in.MessageFacts {
		messageKeys[f.MessageKey]++
	}
	failures = append(failures, duplicates("fct_messages", "message_key", messageKeys)...)

	return failures
}

func duplicates(table, column string, counts map[string]int64) []models.ValidationFailure {
	var failures []models.ValidationFailure
	for key, count := range counts {
		if count > 1 {
			failures = append(failures, models.ValidationFailure{
				Check:   CheckUniqueKey,
				Table:   table,
				Column:  column,
				Key:     key,
				Count:   count,
				Message: fmt.Sprintf("Duplicate %s", column),
			})
		}
	}
	return failures
}

func checkReferential(in Inputs) []models.ValidationFailure {
	channelKeys := make(map[string]bool, len(in.Channels))
	for _, c := range in.Channels {
		channelKeys[c.ChannelKey] = true
	}
	dateKeys := make(map[int]bool, len(in.Dates))
	for _, d := range in.Dates {
		dateKeys[d.DateKey] = true
	}
	messageKeys := make(map[string]bool, len(in.MessageFacts))
	for _, f := range in.MessageFacts {
		messageKeys[f.MessageKey] = true
	}

	missingChannel := make(map[string]int64)
	missingDate := make(map[string]int64)
	for _, f := range in.MessageFacts {
		if f.ChannelKey == nil || !channelKeys[*f.ChannelKey] {
			missingChannel[f.ChannelName]++
		}
		if f.DateKey == nil || !dateKeys[*f.DateKey] {
			missingDate[f.MessageTimestamp.Format("2006-01-02")]++
		}
	}

	orphanDetection := make(map[string]int64)
	for _, d := range in.DetectionFacts {
		if !messageKeys[d.DetectionKey] || !channelKeys[d.ChannelKey] {
			orphanDetection[fmt.Sprintf("%d/%s", d.MessageID, d.ChannelName)]++
		}
	}

	var failures []models.ValidationFailure
	for key, count := range missingChannel {
		failures = append(failures, models.ValidationFailure{
			Check:   CheckReferential,
			Table:   "fct_messages",
			Column:  "channel_key",
			Key:     key,
			Count:   count,
			Message: "Missing Channel",
		})
	}
	for key, count := range missingDate {
		failures = append(failures, models.ValidationFailure{
			Check:   CheckReferential,
			Table:   "fct_messages",
			Column:  "date_key",
			Key:     key,
			Count:   count,
			Message: "Missing Date",
		})
	}
	for key, count := range orphanDetection {
		failures = append(failures, models.ValidationFailure{
			Check:   CheckReferential,
			Table:   "fct_image_detections",
			Column:  "detection_key",
			Key:     key,
			Count:   count,
			Message: "Orphan Detection",
		})
	}

	return failures
}

func checkDomains(in Inputs) []models.ValidationFailure {
	var failures []models.ValidationFailure

	for _, c := range in.Channels {
		failures = append(failures, domainViolation("dim_channels", "channel_type", c.ChannelName, c.ChannelType, channelTypeDomain)...)
	}
	for _, f := range in.MessageFacts {
		key := fmt.Sprintf("%d/%s", f.MessageID, f.ChannelName)
		failures = append(failures, domainViolation("fct_messages", "content_type", key, f.ContentType, contentTypeDomain)...)
		failures = append(failures, domainViolation("fct_messages", "engagement_category", key, f.EngagementCategory, engagementDomain)...)
	}
	for _, d := range in.DetectionFacts {
		key := fmt.Sprintf("%d/%s", d.MessageID, d.ChannelName)
		failures = append(failures, domainViolation("fct_image_detections", "detail_level", key, d.DetailLevel, detailLevelDomain)...)
		failures = append(failures, domainViolation("fct_image_detections", "confidence_level", key, d.ConfidenceLevel, confidenceDomain)...)
	}

	return failures
}

func domainViolation(table, column, key, value string, domain []string) []models.ValidationFailure {
	for _, allowed := range domain {
		if value == allowed {
			return nil
		}
	}
	return []models.ValidationFailure{{
		Check:   CheckDomain,
		Table:   table,
		Column:  column,
		Key:     key,
		Count:   1,
		Message: fmt.Sprintf("Value %q outside declared domain", value),
	}}
}

func checkRanges(in Inputs, now time.Time) []models.ValidationFailure {
	var failures []models.ValidationFailure

	for _, f := range in.MessageFacts {
		key := fmt.Sprintf("%d/%s", f.MessageID, f.ChannelName)
		if f.ViewCount < 0 {
			failures = append(failures, rangeFailure("view_count", key, "Negative view count"))
		}
		if f.ForwardCount < 0 {
			failures = append(failures, rangeFailure("forward_count", key, "Negative forward count"))
		}
		if f.ForwardCount > f.ViewCount {
			failures = append(failures, rangeFailure("forward_count", key, "Forwards exceed views"))
		}
		if f.MessageTimestamp.After(now) {
			failures = append(failures, rangeFailure("message_timestamp", key, "Timestamp in the future"))
		}
	}

	for _, f := range in.DetectionFacts {
		key := fmt.Sprintf("%d/%s", f.MessageID, f.ChannelName)
		if f.ViewCount < 0 {
			failures = append(failures, detectionRangeFailure("view_count", key, "Negative view count"))
		}
		if f.ForwardCount < 0 {
			failures = append(failures, detectionRangeFailure("forward_count", key, "Negative forward count"))
		}
		if f.ForwardCount > f.ViewCount {
			failures = append(failures, detectionRangeFailure("forward_count", key, "Forwards exceed views"))
		}
	}

	return failures
}

func rangeFailure(column, key, message string) models.ValidationFailure {
	return models.ValidationFailure{
		Check:   CheckValueRange,
		Table:   "fct_messages",
		Column:  column,
		Key:     key,
		Count:   1,
		Message: message,
	}
}

func detectionRangeFailure(column, key, message string) models.ValidationFailure {
	f := rangeFailure(column, key, message)
	f.Table = "fct_image_detections"
	return f
}
