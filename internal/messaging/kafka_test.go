package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-io/lodestone/internal/validation"
	"github.com/lodestone-io/lodestone/pkg/models"
)

func TestContentEvent_Serialization(t *testing.T) {
	itemID := uuid.New()
	event := models.ContentEvent{
		ItemID:    itemID,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Item: &models.ContentItem{
			ID:         itemID,
			Title:      "Winter Hiking Guide",
			Categories: []string{"outdoors"},
			Tags:       []string{"hiking", "winter"},
			Active:     true,
		},
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded models.ContentEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, event.ItemID, decoded.ItemID)
	require.NotNil(t, decoded.Item)
	assert.Equal(t, event.Item.Title, decoded.Item.Title)
	assert.Equal(t, event.Item.Categories, decoded.Item.Categories)
	assert.True(t, event.Timestamp.Equal(decoded.Timestamp))
}

func TestContentEvent_SchemaValidation(t *testing.T) {
	validator, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		valid   bool
	}{
		{
			name:    "stale-mark only",
			payload: `{"item_id": "` + uuid.NewString() + `"}`,
			valid:   true,
		},
		{
			name: "full item upsert",
			payload: `{"item_id": "` + uuid.NewString() + `", "item": {` +
				`"id": "` + uuid.NewString() + `", "title": "New Article", "categories": ["news"]}}`,
			valid: true,
		},
		{
			name:    "missing item id",
			payload: `{"timestamp": "2026-01-01T00:00:00Z"}`,
			valid:   false,
		},
		{
			name: "item without title",
			payload: `{"item_id": "` + uuid.NewString() + `", "item": {` +
				`"id": "` + uuid.NewString() + `"}}`,
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.ValidateContentEvent(tt.payload)
			assert.Equal(t, tt.valid, result.Valid, "errors: %v", result.Errors)
		})
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		name          string
		attempt       int
		expectedDelay time.Duration
	}{
		{name: "first retry", attempt: 1, expectedDelay: time.Second},
		{name: "second retry", attempt: 2, expectedDelay: 2 * time.Second},
		{name: "third retry", attempt: 3, expectedDelay: 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseDelay := time.Second
			delay := baseDelay * time.Duration(1<<uint(tt.attempt-1))
			assert.Equal(t, tt.expectedDelay, delay)
		})
	}
}

func TestTrainingNotification_Payload(t *testing.T) {
	version := int64(3)
	cohesion := 0.74
	finished := time.Now()
	job := &models.TrainingJob{
		ID:            uuid.New(),
		Mode:          models.TrainingModeFull,
		Status:        models.JobStatusCompleted,
		StartedAt:     finished.Add(-2 * time.Minute),
		FinishedAt:    &finished,
		ModelVersion:  &version,
		CohesionScore: &cohesion,
		ItemsTrained:  120,
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded models.TrainingJob
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, models.JobStatusCompleted, decoded.Status)
	require.NotNil(t, decoded.ModelVersion)
	assert.Equal(t, version, *decoded.ModelVersion)
	assert.Equal(t, 120, decoded.ItemsTrained)
}
