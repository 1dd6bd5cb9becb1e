package staging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"medwarehouse/pkg/logging"
	"medwarehouse/pkg/models"
)

var clock = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func raw(id int64, channel string, date time.Time) models.RawMessage {
	return models.RawMessage{
		MessageID:   &id,
		ChannelName: channel,
		MessageDate: &date,
	}
}

func TestRunDropsRecordsFailingHardFilters(t *testing.T) {
	n := NewNormalizer(logging.NewLogger())
	date := clock.Add(-24 * time.Hour)
	id := int64(7)

	cases := []struct {
		name string
		msg  models.RawMessage
	}{
		{"missing id", models.RawMessage{ChannelName: "CheMed123", MessageDate: &date}},
		{"missing channel", models.RawMessage{MessageID: &id, MessageDate: &date}},
		{"blank channel", models.RawMessage{MessageID: &id, ChannelName: "   ", MessageDate: &date}},
		{"missing date", models.RawMessage{MessageID: &id, ChannelName: "CheMed123"}},
		{"future date", raw(7, "CheMed123", clock.Add(time.Hour))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			staged := n.Run([]models.RawMessage{tc.msg}, clock)
			assert.Empty(t, staged)
		})
	}
}

func TestRunInvalidRecordsDoNotFailBatch(t *testing.T) {
	n := NewNormalizer(logging.NewLogger())
	good := raw(1, "tikvahpharma", clock.Add(-time.Hour))
	bad := models.RawMessage{ChannelName: "nobody"}

	staged := n.Run([]models.RawMessage{bad, good, bad}, clock)
	assert.Len(t, staged, 1)
	assert.Equal(t, int64(1), staged[0].MessageID)
}

func TestNormalizeCoalescesDefaults(t *testing.T) {
	n := NewNormalizer(logging.NewLogger())
	msg := raw(5, "MedSupplyET", time.Date(2024, time.March, 8, 14, 45, 0, 0, time.UTC))
	msg.MessageText = "  Paracetamol in stock  "

	staged := n.Run([]models.RawMessage{msg}, clock)
	assert.Len(t, staged, 1)

	s := staged[0]
	assert.Equal(t, "Paracetamol in stock", s.MessageText)
	assert.Equal(t, int64(0), s.Views)
	assert.Equal(t, int64(0), s.Forwards)
	assert.False(t, s.HasMedia)
	assert.False(t, s.IsReply)
	assert.False(t, s.HasImage)
	assert.Equal(t, 20, s.MessageLength)
	assert.False(t, s.IsEmpty)
	assert.Equal(t, 14, s.HourOfDay)
	assert.Equal(t, "Friday", s.DayOfWeek)
}

func TestNormalizeDerivesImagePresence(t *testing.T) {
	n := NewNormalizer(logging.NewLogger())
	hasMedia := true
	msg := raw(9, "CheMed123", clock.Add(-time.Hour))
	msg.HasMedia = &hasMedia
	msg.ImagePath = "photos/9.jpg"

	staged := n.Run([]models.RawMessage{msg}, clock)
	assert.Len(t, staged, 1)
	assert.True(t, staged[0].HasImage)
	assert.True(t, staged[0].IsEmpty)
}

func TestClassifyChannel(t *testing.T) {
	cases := []struct {
		channel string
		want    string
	}{
		{"tikvahpharma", models.ChannelTypePharmaceutical},
		{"lobelia4cosmetics", models.ChannelTypeCosmetics},
		{"CheMed123", models.ChannelTypeMedical},
		{"MedSupplyET", models.ChannelTypeMedical},
		{"EthioHealthMart", models.ChannelTypeMedical},
		{"randomshop", models.ChannelTypeOther},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyChannel(tc.channel), tc.channel)
	}
}
