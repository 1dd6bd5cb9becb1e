package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medwarehouse/internal/pipeline"
	"medwarehouse/pkg/logging"
	"medwarehouse/pkg/models"
)

type fakeTrigger struct {
	result *pipeline.Result
	err    error
}

func (f *fakeTrigger) RunNow() (*pipeline.Result, error) {
	return f.result, f.err
}

func setupTestRouter(t *testing.T, trig Trigger) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	Init(db, logging.NewLogger(), trig)

	router := gin.New()
	SetupRoutes(router)
	return router, mock
}

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestListChannels(t *testing.T) {
	router, mock := setupTestRouter(t, nil)

	now := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	avg := 2.5
	rows := sqlmock.NewRows([]string{
		"channel_key", "channel_name", "channel_type", "first_post_date", "last_post_date",
		"days_active", "total_posts", "posts_with_image", "avg_posts_per_day", "avg_views",
		"total_views", "avg_forwards", "total_forwards", "avg_message_length",
		"engagement_rate", "image_content_pct",
	}).AddRow("key1", "CheMed123", models.ChannelTypeMedical, now.AddDate(0, -1, 0), now,
		30, int64(75), int64(20), avg, 110.0, int64(8250), 4.2, int64(315), 96.5, 0.92, 26.7)

	mock.ExpectQuery("SELECT (.+) FROM marts.dim_channels").WillReturnRows(rows)

	w := doRequest(router, http.MethodGet, "/api/channels")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Channels []models.ChannelDimension `json:"channels"`
		Count    int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "CheMed123", body.Channels[0].ChannelName)
	assert.Equal(t, models.ChannelTypeMedical, body.Channels[0].ChannelType)
	require.NotNil(t, body.Channels[0].AvgPostsPerDay)
	assert.InDelta(t, 2.5, *body.Channels[0].AvgPostsPerDay, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListChannelsQueryError(t *testing.T) {
	router, mock := setupTestRouter(t, nil)
	mock.ExpectQuery("SELECT (.+) FROM marts.dim_channels").WillReturnError(errors.New("down"))

	w := doRequest(router, http.MethodGet, "/api/channels")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetChannelActivity(t *testing.T) {
	router, mock := setupTestRouter(t, nil)

	rows := sqlmock.NewRows([]string{"date", "count", "avg_views", "image_count"}).
		AddRow("2024-03-08", int64(12), 85.5, int64(4)).
		AddRow("2024-03-09", int64(9), 120.0, int64(2))
	mock.ExpectQuery("SELECT (.+) FROM marts.fct_messages").
		WithArgs("tikvahpharma").
		WillReturnRows(rows)

	w := doRequest(router, http.MethodGet, "/api/channels/tikvahpharma/activity")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ChannelName string            `json:"channel_name"`
		Activity    []ChannelActivity `json:"activity"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tikvahpharma", body.ChannelName)
	require.Len(t, body.Activity, 2)
	assert.Equal(t, "2024-03-08", body.Activity[0].Date)
	assert.Equal(t, int64(12), body.Activity[0].MessageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChannelActivityUnknownChannel(t *testing.T) {
	router, mock := setupTestRouter(t, nil)

	mock.ExpectQuery("SELECT (.+) FROM marts.fct_messages").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"date", "count", "avg_views", "image_count"}))

	w := doRequest(router, http.MethodGet, "/api/channels/nobody/activity")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchMessages(t *testing.T) {
	router, mock := setupTestRouter(t, nil)

	ts := time.Date(2024, time.March, 8, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"message_id", "channel_name", "message_timestamp", "message_text",
		"view_count", "forward_count", "has_image", "engagement_category",
	}).AddRow(int64(1), "tikvahpharma", ts, "Paracetamol price 80 birr", int64(210), int64(9), false, models.EngagementHigh)

	mock.ExpectQuery("SELECT (.+) FROM marts.fct_messages").
		WithArgs("paracetamol", 50).
		WillReturnRows(rows)

	w := doRequest(router, http.MethodGet, "/api/search/messages?query=paracetamol")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Query   string                `json:"query"`
		Results []MessageSearchResult `json:"results"`
		Count   int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "paracetamol", body.Query)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, models.EngagementHigh, body.Results[0].EngagementCategory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchMessagesRequiresQuery(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/search/messages")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTopProducts(t *testing.T) {
	router, mock := setupTestRouter(t, nil)

	rows := sqlmock.NewRows([]string{"term", "frequency", "avg_views", "channels"}).
		AddRow("paracetamol", int64(14), 130.5, int64(3)).
		AddRow("gloves", int64(6), 88.0, int64(2))
	mock.ExpectQuery("SELECT (.+) FROM words").
		WithArgs(10).
		WillReturnRows(rows)

	w := doRequest(router, http.MethodGet, "/api/reports/top-products")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Products []TopProduct `json:"products"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Products, 2)
	assert.Equal(t, "paracetamol", body.Products[0].Term)
	assert.Equal(t, int64(14), body.Products[0].Frequency)
	assert.Equal(t, int64(3), body.Products[0].Channels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTopProductsClampsLimit(t *testing.T) {
	router, mock := setupTestRouter(t, nil)

	mock.ExpectQuery("SELECT (.+) FROM words").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"term", "frequency", "avg_views", "channels"}))

	w := doRequest(router, http.MethodGet, "/api/reports/top-products?limit=9000")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVisualContentStats(t *testing.T) {
	router, mock := setupTestRouter(t, nil)

	rows := sqlmock.NewRows([]string{"channel_name", "total", "images", "pct", "avg_views"}).
		AddRow("lobelia4cosmetics", int64(40), int64(28), 70.0, 95.0)
	mock.ExpectQuery("SELECT (.+) FROM marts.fct_messages").WillReturnRows(rows)

	w := doRequest(router, http.MethodGet, "/api/reports/visual-content")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Channels []VisualContentStats `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Channels, 1)
	assert.InDelta(t, 70.0, body.Channels[0].ImageContentPct, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetImageCategoryStats(t *testing.T) {
	router, mock := setupTestRouter(t, nil)

	rows := sqlmock.NewRows([]string{"image_category", "detections", "avg_confidence", "avg_views", "avg_forwards"}).
		AddRow(models.ImageCategoryPromotional, int64(120), 0.84, 140.0, 6.5).
		AddRow(models.ImageCategoryProductDisplay, int64(75), 0.71, 90.0, 3.1)
	mock.ExpectQuery("SELECT (.+) FROM marts.fct_image_detections").WillReturnRows(rows)

	w := doRequest(router, http.MethodGet, "/api/reports/image-categories")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Categories []ImageCategoryStats `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Categories, 2)
	assert.Equal(t, models.ImageCategoryPromotional, body.Categories[0].ImageCategory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerPipelineRunSuccess(t *testing.T) {
	router, _ := setupTestRouter(t, &fakeTrigger{result: &pipeline.Result{RunID: "run-1"}})

	w := doRequest(router, http.MethodPost, "/api/pipeline/run")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"success"`)
	assert.Contains(t, w.Body.String(), "run-1")
}

func TestTriggerPipelineRunWithValidationFailures(t *testing.T) {
	trig := &fakeTrigger{
		result: &pipeline.Result{
			RunID: "run-2",
			Failures: []models.ValidationFailure{
				{Check: "value_range", Table: "fct_messages"},
			},
		},
		err: errors.New("published with 1 validation failures"),
	}
	router, _ := setupTestRouter(t, trig)

	w := doRequest(router, http.MethodPost, "/api/pipeline/run")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"published_with_failures"`)
}

func TestTriggerPipelineRunFailure(t *testing.T) {
	router, _ := setupTestRouter(t, &fakeTrigger{err: errors.New("connection refused")})

	w := doRequest(router, http.MethodPost, "/api/pipeline/run")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
