package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"

	"medwarehouse/pkg/logging"
	"medwarehouse/pkg/models"
)

var validate = validator.New()

// Detection CSV column order produced by the image analysis stage.
const (
	colMessageID = iota
	colChannelName
	colImagePath
	colCategory
	colDetectedObjects
	colNumDetections
	colMaxConfidence
	detectionColumns
)

// LoadDetectionsCSV reads the object detection results file. The first row is
// expected to be a header and is skipped. Rows with the wrong column count,
// unparseable numerics or out-of-range values (confidence outside [0, 1],
// negative detection counts) are logged and dropped; the remainder still
// loads.
func LoadDetectionsCSV(path string, logger logging.Logger) ([]models.Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detections file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var detections []models.Detection
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read detections file %s: %w", path, err)
		}
		line++
		if line == 1 {
			continue
		}

		det, err := parseDetectionRow(record)
		if err != nil {
			logger.WithError(err).WithField("line", line).Warn("Skipping malformed detection row")
			continue
		}
		detections = append(detections, det)
	}

	logger.WithFields(logging.Fields{
		"file":       path,
		"detections": len(detections),
	}).Info("Detection load complete")
	return detections, nil
}

func parseDetectionRow(record []string) (models.Detection, error) {
	if len(record) != detectionColumns {
		return models.Detection{}, fmt.Errorf("expected %d columns, got %d", detectionColumns, len(record))
	}

	messageID, err := strconv.ParseInt(record[colMessageID], 10, 64)
	if err != nil {
		return models.Detection{}, fmt.Errorf("message_id: %w", err)
	}
	numDetections, err := strconv.Atoi(record[colNumDetections])
	if err != nil {
		return models.Detection{}, fmt.Errorf("num_detections: %w", err)
	}
	maxConfidence, err := strconv.ParseFloat(record[colMaxConfidence], 64)
	if err != nil {
		return models.Detection{}, fmt.Errorf("max_confidence: %w", err)
	}

	det := models.Detection{
		MessageID:       messageID,
		ChannelName:     record[colChannelName],
		ImagePath:       record[colImagePath],
		Category:        record[colCategory],
		DetectedObjects: record[colDetectedObjects],
		NumDetections:   numDetections,
		MaxConfidence:   maxConfidence,
	}
	if err := validate.Struct(det); err != nil {
		return models.Detection{}, fmt.Errorf("invalid detection: %w", err)
	}
	return det, nil
}
