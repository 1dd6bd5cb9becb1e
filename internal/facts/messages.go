// Package facts builds the warehouse fact tables: one message fact per
// staged message, and one image-detection fact per detection record that
// matches an existing message fact.
package facts

import (
	"sort"
	"strings"

	"medwarehouse/internal/keys"
	"medwarehouse/pkg/models"
)

// Mention keyword lists, matched case-insensitively against message text.
// Each list carries at least one Amharic keyword alongside the Latin ones.
// Keyword presence implies the flag; the lists are configuration.
var (
	priceKeywords        = []string{"price", "birr", "etb", "ዋጋ"}
	availabilityKeywords = []string{"available", "in stock", "stock", "አለ"}
	deliveryKeywords     = []string{"delivery", "ship", "ዲሊቨሪ"}
)

// View count thresholds for engagement categories.
const (
	lowEngagementCeiling    = 50
	mediumEngagementCeiling = 200
)

// BuildMessageFacts joins staged messages to the channel and date dimensions
// and computes engagement and classification measures. The join is a left
// join: a fact with no matching dimension row keeps nil foreign keys.
func BuildMessageFacts(staged []models.StagedMessage, channels []models.ChannelDimension, dates []models.DateDimension) []models.MessageFact {
	channelKeys := make(map[string]string, len(channels))
	for _, c := range channels {
		channelKeys[c.ChannelName] = c.ChannelKey
	}
	dateKeys := make(map[int]bool, len(dates))
	for _, d := range dates {
		dateKeys[d.DateKey] = true
	}

	result := make([]models.MessageFact, 0, len(staged))
	for _, m := range staged {
		fact := models.MessageFact{
			MessageKey:           keys.Message(m.MessageID, m.ChannelName),
			MessageID:            m.MessageID,
			ChannelName:          m.ChannelName,
			MessageTimestamp:     m.MessageDate,
			MessageText:          m.MessageText,
			MessageLength:        m.MessageLength,
			HourOfDay:            m.HourOfDay,
			HasImage:             m.HasImage,
			ViewCount:            m.Views,
			ForwardCount:         m.Forwards,
			ForwardRate:          forwardRate(m.Forwards, m.Views),
			MentionsPrice:        containsAny(m.MessageText, priceKeywords),
			MentionsAvailability: containsAny(m.MessageText, availabilityKeywords),
			MentionsDelivery:     containsAny(m.MessageText, deliveryKeywords),
			ContentType:          classifyContent(m),
			EngagementCategory:   classifyEngagement(m.Views),
		}

		if key, ok := channelKeys[m.ChannelName]; ok {
			fact.ChannelKey = &key
		}
		if dk := keys.Date(m.MessageDate); dateKeys[dk] {
			fact.DateKey = &dk
		}

		result = append(result, fact)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ChannelName != result[j].ChannelName {
			return result[i].ChannelName < result[j].ChannelName
		}
		return result[i].MessageID < result[j].MessageID
	})

	return result
}

func forwardRate(forwards, views int64) float64 {
	if views == 0 {
		return 0
	}
	return float64(forwards) / float64(views)
}

func classifyContent(m models.StagedMessage) string {
	switch {
	case m.HasImage && m.MessageLength == 0:
		return models.ContentTypeImageOnly
	case m.HasImage:
		return models.ContentTypeImageWithText
	case m.MessageLength > 0:
		return models.ContentTypeTextOnly
	default:
		return models.ContentTypeEmpty
	}
}

func classifyEngagement(views int64) string {
	switch {
	case views == 0:
		return models.EngagementNone
	case views < lowEngagementCeiling:
		return models.EngagementLow
	case views < mediumEngagementCeiling:
		return models.EngagementMedium
	default:
		return models.EngagementHigh
	}
}

func containsAny(text string, keywords []string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
