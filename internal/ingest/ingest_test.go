package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medwarehouse/pkg/logging"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadMessagesDirReadsPartitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2024-03-08", "tikvahpharma.json"), `[
		{"message_id": 1, "channel_name": "tikvahpharma", "message_date": "2024-03-08T10:00:00Z", "message_text": "Amoxicillin available", "has_media": false, "views": 120},
		{"message_id": 2, "channel_name": "tikvahpharma", "message_date": "2024-03-08 11:30:00", "has_media": true, "image_path": "photos/2.jpg"}
	]`)
	writeFile(t, filepath.Join(dir, "2024-03-09", "CheMed123.json"), `[
		{"message_id": 3, "channel_name": "CheMed123", "message_date": "2024-03-09"}
	]`)

	msgs, err := LoadMessagesDir(dir, logging.NewLogger())
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	first := msgs[0]
	require.NotNil(t, first.MessageID)
	assert.Equal(t, int64(1), *first.MessageID)
	assert.Equal(t, "tikvahpharma", first.ChannelName)
	require.NotNil(t, first.MessageDate)
	assert.Equal(t, time.Date(2024, time.March, 8, 10, 0, 0, 0, time.UTC), *first.MessageDate)
	require.NotNil(t, first.Views)
	assert.Equal(t, int64(120), *first.Views)
	assert.Contains(t, first.SourceFile, "tikvahpharma.json")

	second := msgs[1]
	require.NotNil(t, second.MessageDate)
	assert.Equal(t, time.Date(2024, time.March, 8, 11, 30, 0, 0, time.UTC), *second.MessageDate)
	assert.Equal(t, "photos/2.jpg", second.ImagePath)

	third := msgs[2]
	require.NotNil(t, third.MessageDate)
	assert.Equal(t, time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC), *third.MessageDate)
}

func TestLoadMessagesDirSkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2024-03-08", "broken.json"), `{not json`)
	writeFile(t, filepath.Join(dir, "2024-03-08", "good.json"), `[
		{"message_id": 4, "channel_name": "lobelia4cosmetics", "message_date": "2024-03-08T09:00:00Z"}
	]`)

	msgs, err := LoadMessagesDir(dir, logging.NewLogger())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "lobelia4cosmetics", msgs[0].ChannelName)
}

func TestLoadMessagesDirMissingDirectoryFails(t *testing.T) {
	_, err := LoadMessagesDir(filepath.Join(t.TempDir(), "absent"), logging.NewLogger())
	assert.Error(t, err)
}

func TestParseMessageDateUnknownLayout(t *testing.T) {
	assert.Nil(t, parseMessageDate("yesterday"))
	assert.Nil(t, parseMessageDate(""))
}

func TestLoadDetectionsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.csv")
	writeFile(t, path, "message_id,channel_name,image_path,category,detected_objects,num_detections,max_confidence\n"+
		"7,tikvahpharma,photos/7.jpg,promotional,\"bottle, person\",4,0.92\n"+
		"8,CheMed123,photos/8.jpg,product_display,bottle,1,0.64\n")

	dets, err := LoadDetectionsCSV(path, logging.NewLogger())
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, int64(7), dets[0].MessageID)
	assert.Equal(t, "promotional", dets[0].Category)
	assert.Equal(t, "bottle, person", dets[0].DetectedObjects)
	assert.Equal(t, 4, dets[0].NumDetections)
	assert.InDelta(t, 0.92, dets[0].MaxConfidence, 1e-9)
}

func TestLoadDetectionsCSVSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.csv")
	writeFile(t, path, "message_id,channel_name,image_path,category,detected_objects,num_detections,max_confidence\n"+
		"not-a-number,tikvahpharma,p.jpg,promotional,bottle,1,0.5\n"+
		"9,MedSupplyET,p.jpg,product_display,bottle,two,0.5\n"+
		"10,MedSupplyET,p.jpg,product_display,bottle,2,0.55\n")

	dets, err := LoadDetectionsCSV(path, logging.NewLogger())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, int64(10), dets[0].MessageID)
}

func TestLoadDetectionsCSVDropsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.csv")
	writeFile(t, path, "message_id,channel_name,image_path,category,detected_objects,num_detections,max_confidence\n"+
		"11,tikvahpharma,p.jpg,promotional,bottle,2,1.5\n"+
		"12,tikvahpharma,p.jpg,promotional,bottle,-1,0.4\n"+
		"0,tikvahpharma,p.jpg,promotional,bottle,1,0.4\n"+
		"13,tikvahpharma,p.jpg,promotional,bottle,1,0.4\n")

	dets, err := LoadDetectionsCSV(path, logging.NewLogger())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, int64(13), dets[0].MessageID)
}

func TestLoadDetectionsCSVMissingFileFails(t *testing.T) {
	_, err := LoadDetectionsCSV(filepath.Join(t.TempDir(), "absent.csv"), logging.NewLogger())
	assert.Error(t, err)
}
