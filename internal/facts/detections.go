package facts

import (
	"sort"

	"medwarehouse/internal/keys"
	"medwarehouse/pkg/models"
)

// Confidence thresholds for detection confidence levels.
const (
	highConfidenceFloor   = 0.8
	mediumConfidenceFloor = 0.5
)

// EnrichDetections joins detection records to message facts by the
// (message identifier, channel name) natural key resolved through the
// channel's surrogate key. The join is an inner join: detections with no
// matching fact are stale and excluded from output, not reported as errors.
func EnrichDetections(detections []models.Detection, channels []models.ChannelDimension, messageFacts []models.MessageFact) []models.ImageDetectionFact {
	channelKeys := make(map[string]string, len(channels))
	for _, c := range channels {
		channelKeys[c.ChannelName] = c.ChannelKey
	}
	factsByKey := make(map[string]models.MessageFact, len(messageFacts))
	for _, f := range messageFacts {
		factsByKey[f.MessageKey] = f
	}

	result := make([]models.ImageDetectionFact, 0, len(detections))
	for _, d := range detections {
		channelKey, ok := channelKeys[d.ChannelName]
		if !ok {
			continue
		}
		fact, ok := factsByKey[keys.Message(d.MessageID, d.ChannelName)]
		if !ok {
			continue
		}

		result = append(result, models.ImageDetectionFact{
			DetectionKey:        keys.Message(d.MessageID, d.ChannelName),
			MessageID:           d.MessageID,
			ChannelName:         d.ChannelName,
			ChannelKey:          channelKey,
			ImagePath:           d.ImagePath,
			ImageCategory:       d.Category,
			DetectedObjects:     d.DetectedObjects,
			NumDetections:       d.NumDetections,
			DetectionConfidence: d.MaxConfidence,
			ViewCount:           fact.ViewCount,
			ForwardCount:        fact.ForwardCount,
			IsPromotional:       d.Category == models.ImageCategoryPromotional,
			IsProductOnly:       d.Category == models.ImageCategoryProductDisplay,
			DetailLevel:         classifyDetail(d.NumDetections),
			ConfidenceLevel:     classifyConfidence(d.MaxConfidence),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ChannelName != result[j].ChannelName {
			return result[i].ChannelName < result[j].ChannelName
		}
		return result[i].MessageID < result[j].MessageID
	})

	return result
}

func classifyDetail(numDetections int) string {
	switch {
	case numDetections <= 0:
		return models.DetailLevelNone
	case numDetections == 1:
		return models.DetailLevelLow
	case numDetections <= 3:
		return models.DetailLevelMedium
	default:
		return models.DetailLevelHigh
	}
}

func classifyConfidence(confidence float64) string {
	switch {
	case confidence >= highConfidenceFloor:
		return models.ConfidenceHigh
	case confidence >= mediumConfidenceFloor:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
