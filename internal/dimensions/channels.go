package dimensions

import (
	"sort"
	"time"

	"medwarehouse/internal/keys"
	"medwarehouse/pkg/models"
)

// AggregateChannels computes one ChannelDimension per distinct channel name
// from the staged message set. Output ordering and key derivation are
// independent of input ordering.
func AggregateChannels(staged []models.StagedMessage) []models.ChannelDimension {
	type accum struct {
		channelType   string
		first, last   time.Time
		posts         int64
		postsWithView int64
		postsWithImg  int64
		totalViews    int64
		totalForwards int64
		totalLength   int64
	}

	byChannel := make(map[string]*accum)
	for _, m := range staged {
		a, ok := byChannel[m.ChannelName]
		if !ok {
			a = &accum{channelType: m.ChannelType, first: m.MessageDate, last: m.MessageDate}
			byChannel[m.ChannelName] = a
		}
		if m.MessageDate.Before(a.first) {
			a.first = m.MessageDate
		}
		if m.MessageDate.After(a.last) {
			a.last = m.MessageDate
		}
		a.posts++
		if m.Views > 0 {
			a.postsWithView++
		}
		if m.HasImage {
			a.postsWithImg++
		}
		a.totalViews += m.Views
		a.totalForwards += m.Forwards
		a.totalLength += int64(m.MessageLength)
	}

	dims := make([]models.ChannelDimension, 0, len(byChannel))
	for name, a := range byChannel {
		firstDay := truncateDay(a.first)
		lastDay := truncateDay(a.last)
		daysActive := int(lastDay.Sub(firstDay).Hours() / 24)

		dim := models.ChannelDimension{
			ChannelKey:       keys.Channel(name),
			ChannelName:      name,
			ChannelType:      a.channelType,
			FirstPostDate:    firstDay,
			LastPostDate:     lastDay,
			DaysActive:       daysActive,
			TotalPosts:       a.posts,
			PostsWithImage:   a.postsWithImg,
			AvgViews:         float64(a.totalViews) / float64(a.posts),
			TotalViews:       a.totalViews,
			AvgForwards:      float64(a.totalForwards) / float64(a.posts),
			TotalForwards:    a.totalForwards,
			AvgMessageLength: float64(a.totalLength) / float64(a.posts),
			EngagementRate:   float64(a.postsWithView) / float64(a.posts),
			ImageContentPct:  float64(a.postsWithImg) / float64(a.posts) * 100,
		}

		// A single day of activity has zero elapsed days; the per-day
		// average is undefined rather than divide-by-zero.
		if daysActive > 0 {
			perDay := float64(a.posts) / float64(daysActive)
			dim.AvgPostsPerDay = &perDay
		}

		dims = append(dims, dim)
	}

	sort.Slice(dims, func(i, j int) bool { return dims[i].ChannelName < dims[j].ChannelName })

	return dims
}
