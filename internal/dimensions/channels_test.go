package dimensions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medwarehouse/internal/keys"
	"medwarehouse/pkg/models"
)

func staged(id int64, channel string, day int, views, forwards int64, hasImage bool, length int) models.StagedMessage {
	return models.StagedMessage{
		MessageID:     id,
		ChannelName:   channel,
		ChannelType:   models.ChannelTypeMedical,
		MessageDate:   time.Date(2024, time.January, day, 10, 0, 0, 0, time.UTC),
		Views:         views,
		Forwards:      forwards,
		HasImage:      hasImage,
		MessageLength: length,
	}
}

func TestAggregateChannelsComputesStats(t *testing.T) {
	msgs := []models.StagedMessage{
		staged(1, "CheMed123", 1, 100, 10, true, 40),
		staged(2, "CheMed123", 3, 0, 0, false, 20),
		staged(3, "CheMed123", 5, 50, 5, true, 0),
		staged(4, "tikvahpharma", 2, 10, 1, false, 10),
	}
	msgs[3].ChannelType = models.ChannelTypePharmaceutical

	dims := AggregateChannels(msgs)
	require.Len(t, dims, 2)

	// Sorted by channel name.
	che := dims[0]
	assert.Equal(t, "CheMed123", che.ChannelName)
	assert.Equal(t, keys.Channel("CheMed123"), che.ChannelKey)
	assert.Equal(t, models.ChannelTypeMedical, che.ChannelType)
	assert.Equal(t, int64(3), che.TotalPosts)
	assert.Equal(t, int64(2), che.PostsWithImage)
	assert.Equal(t, 4, che.DaysActive)
	assert.Equal(t, int64(150), che.TotalViews)
	assert.InDelta(t, 50.0, che.AvgViews, 1e-9)
	assert.InDelta(t, 5.0, che.AvgForwards, 1e-9)
	assert.InDelta(t, 20.0, che.AvgMessageLength, 1e-9)
	assert.InDelta(t, 2.0/3.0, che.EngagementRate, 1e-9)
	assert.InDelta(t, 200.0/3.0, che.ImageContentPct, 1e-9)
	require.NotNil(t, che.AvgPostsPerDay)
	assert.InDelta(t, 0.75, *che.AvgPostsPerDay, 1e-9)

	pharma := dims[1]
	assert.Equal(t, "tikvahpharma", pharma.ChannelName)
	assert.Equal(t, models.ChannelTypePharmaceutical, pharma.ChannelType)
}

func TestAggregateChannelsSingleDayActivity(t *testing.T) {
	msgs := []models.StagedMessage{
		staged(1, "MedSupplyET", 4, 5, 0, false, 12),
		staged(2, "MedSupplyET", 4, 8, 1, false, 7),
	}

	dims := AggregateChannels(msgs)
	require.Len(t, dims, 1)
	assert.Equal(t, 0, dims[0].DaysActive)
	assert.Nil(t, dims[0].AvgPostsPerDay)
}

func TestAggregateChannelsOrderIndependent(t *testing.T) {
	msgs := []models.StagedMessage{
		staged(1, "b-channel", 1, 1, 0, false, 5),
		staged(2, "a-channel", 2, 2, 0, false, 5),
		staged(3, "b-channel", 3, 3, 0, false, 5),
	}
	reversed := []models.StagedMessage{msgs[2], msgs[1], msgs[0]}

	assert.Equal(t, AggregateChannels(msgs), AggregateChannels(reversed))
}
