// Package staging cleans raw message records into the canonical staged shape
// consumed by the dimension and fact builders. Records failing the hard
// filters are excluded; the batch itself never fails for data quality alone.
package staging

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"medwarehouse/pkg/logging"
	"medwarehouse/pkg/models"
)

// channelTypeRules maps channel-name keywords to coarse channel type buckets.
// Matching is case-insensitive substring, first match wins. The list is
// configuration, not contract; default is Other.
var channelTypeRules = []struct {
	Keyword string
	Type    string
}{
	{"pharma", models.ChannelTypePharmaceutical},
	{"cosme", models.ChannelTypeCosmetics},
	{"chemed", models.ChannelTypeMedical},
	{"med", models.ChannelTypeMedical},
	{"health", models.ChannelTypeMedical},
}

// Normalizer validates and normalizes raw messages.
type Normalizer struct {
	logger   logging.Logger
	validate *validator.Validate
}

// NewNormalizer creates a staging normalizer.
func NewNormalizer(logger logging.Logger) *Normalizer {
	return &Normalizer{
		logger:   logger,
		validate: validator.New(),
	}
}

// Run maps raw messages to staged messages, dropping records that fail the
// hard filters: missing identifier, missing channel, missing or future
// timestamp. Dropped records are logged at debug level, never raised.
func (n *Normalizer) Run(raw []models.RawMessage, now time.Time) []models.StagedMessage {
	staged := make([]models.StagedMessage, 0, len(raw))
	dropped := 0

	for _, r := range raw {
		r.ChannelName = strings.TrimSpace(r.ChannelName)
		if err := n.validate.Struct(r); err != nil {
			dropped++
			n.logger.WithError(err).Debug("Dropping raw message failing required fields")
			continue
		}
		if r.MessageDate.After(now) {
			dropped++
			n.logger.WithFields(logging.Fields{
				"message_id": *r.MessageID,
				"channel":    r.ChannelName,
				"date":       r.MessageDate,
			}).Debug("Dropping raw message with future timestamp")
			continue
		}

		staged = append(staged, n.normalize(r))
	}

	n.logger.WithFields(logging.Fields{
		"input":   len(raw),
		"staged":  len(staged),
		"dropped": dropped,
	}).Info("Staging normalization complete")

	return staged
}

func (n *Normalizer) normalize(r models.RawMessage) models.StagedMessage {
	text := strings.TrimSpace(r.MessageText)
	hasMedia := coalesceBool(r.HasMedia)
	date := r.MessageDate.UTC()

	s := models.StagedMessage{
		MessageID:     *r.MessageID,
		ChannelName:   r.ChannelName,
		MessageDate:   date,
		MessageText:   text,
		HasMedia:      hasMedia,
		HasImage:      hasMedia && r.ImagePath != "",
		ImagePath:     r.ImagePath,
		Views:         coalesceInt(r.Views),
		Forwards:      coalesceInt(r.Forwards),
		IsReply:       coalesceBool(r.IsReply),
		ReplyToMsgID:  r.ReplyToMsgID,
		SourceFile:    r.SourceFile,
		MessageLength: len([]rune(text)),
		HourOfDay:     date.Hour(),
		DayOfWeek:     date.Weekday().String(),
		ChannelType:   ClassifyChannel(r.ChannelName),
	}
	s.IsEmpty = s.MessageLength == 0

	return s
}

// ClassifyChannel buckets a channel name into a coarse channel type by
// case-insensitive keyword match, first rule wins.
func ClassifyChannel(channelName string) string {
	lowered := strings.ToLower(channelName)
	for _, rule := range channelTypeRules {
		if strings.Contains(lowered, rule.Keyword) {
			return rule.Type
		}
	}
	return models.ChannelTypeOther
}

func coalesceInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func coalesceBool(v *bool) bool {
	if v == nil {
		return false
	}
	return *v
}
