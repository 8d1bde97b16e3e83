package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/restaurant-notify/internal/model"
)

func TestValidateNotificationRecord(t *testing.T) {
	v := New()

	valid := model.NotificationRecord{ID: 1, Type: model.NotificationTypeOrder, Priority: model.PriorityLow, Title: "New order"}
	assert.NoError(t, v.Validate(valid))

	messageOnly := valid
	messageOnly.Title = ""
	messageOnly.Message = "Table 3 paid"
	assert.NoError(t, v.Validate(&messageOnly))
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	err := New().Validate(model.NotificationRecord{Type: "gossip", Priority: model.PriorityMedium})

	if assert.Error(t, err) {
		msg := err.Error()
		assert.Contains(t, msg, "id is required")
		assert.Contains(t, msg, "type must be one of")
		assert.Contains(t, msg, "title is required when message is empty")
	}
}

func TestValidateTitleLength(t *testing.T) {
	rec := model.NotificationRecord{ID: 2, Type: model.NotificationTypeInfo, Priority: model.PriorityLow, Title: strings.Repeat("x", 256)}
	assert.ErrorContains(t, New().Validate(rec), "title must not exceed 255 characters")
}
