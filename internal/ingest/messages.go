// Package ingest reads raw scraper output into warehouse input records:
// message JSON partitions from the data lake and detection CSV from the
// image analysis stage. Individual unreadable files or rows are logged and
// skipped; the load as a whole only fails on structural errors.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"medwarehouse/pkg/logging"
	"medwarehouse/pkg/models"
)

// Timestamp layouts the scraper has been observed to emit.
var messageDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// rawMessageJSON mirrors the scraper's JSON schema; the timestamp arrives as
// a string in one of several layouts and is parsed leniently here. A message
// whose timestamp cannot be parsed keeps a nil date and is dropped in staging.
type rawMessageJSON struct {
	MessageID    *int64 `json:"message_id"`
	ChannelName  string `json:"channel_name"`
	MessageDate  string `json:"message_date"`
	MessageText  string `json:"message_text"`
	HasMedia     *bool  `json:"has_media"`
	ImagePath    string `json:"image_path"`
	Views        *int64 `json:"views"`
	Forwards     *int64 `json:"forwards"`
	IsReply      *bool  `json:"is_reply"`
	ReplyToMsgID *int64 `json:"reply_to_msg_id"`
}

// LoadMessagesDir walks the date-partitioned message directory
// (dir/<partition>/*.json, each file holding an array of messages) and
// returns every readable record with source-file provenance attached.
func LoadMessagesDir(dir string, logger logging.Logger) ([]models.RawMessage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read messages directory %s: %w", dir, err)
	}

	var all []models.RawMessage
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		partition := filepath.Join(dir, entry.Name())

		files, err := filepath.Glob(filepath.Join(partition, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("glob partition %s: %w", partition, err)
		}
		sort.Strings(files)

		for _, file := range files {
			msgs, err := loadMessageFile(file)
			if err != nil {
				logger.WithError(err).WithField("file", file).Error("Skipping unreadable message file")
				continue
			}
			all = append(all, msgs...)
			logger.WithFields(logging.Fields{
				"file":     file,
				"messages": len(msgs),
			}).Info("Loaded message partition file")
		}
	}

	logger.WithField("total", len(all)).Info("Raw message load complete")
	return all, nil
}

func loadMessageFile(path string) ([]models.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var decoded []rawMessageJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	msgs := make([]models.RawMessage, 0, len(decoded))
	for _, d := range decoded {
		msgs = append(msgs, models.RawMessage{
			MessageID:    d.MessageID,
			ChannelName:  d.ChannelName,
			MessageDate:  parseMessageDate(d.MessageDate),
			MessageText:  d.MessageText,
			HasMedia:     d.HasMedia,
			ImagePath:    d.ImagePath,
			Views:        d.Views,
			Forwards:     d.Forwards,
			IsReply:      d.IsReply,
			ReplyToMsgID: d.ReplyToMsgID,
			SourceFile:   path,
		})
	}
	return msgs, nil
}

func parseMessageDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range messageDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
