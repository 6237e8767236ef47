package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowdeck/pkg/models"
)

func statusPtr(s models.FormStatus) *models.FormStatus { return &s }

func TestAttachSetSkipsExisting(t *testing.T) {
	rules := []*models.StageFormRule{
		{FormDefinitionID: "f1", DefaultStatus: models.FormStatusToFill},
		{FormDefinitionID: "f2", DefaultStatus: models.FormStatusFilled},
	}
	existing := []*models.CardForm{
		{FormDefinitionID: "f1", Status: models.FormStatusFilled},
	}

	inserts := attachSet("card-1", rules, existing, nil)
	require.Len(t, inserts, 1)
	assert.Equal(t, "f2", inserts[0].FormDefinitionID)
	assert.Equal(t, models.FormStatusFilled, inserts[0].Status)
	assert.NotNil(t, inserts[0].Data)
}

func TestAttachSetCallerOverrideWins(t *testing.T) {
	rules := []*models.StageFormRule{
		{FormDefinitionID: "f1", DefaultStatus: models.FormStatusToFill},
	}
	overrides := []FormInput{
		{
			FormDefinitionID: "f1",
			Status:           statusPtr(models.FormStatusFilled),
			Data:             map[string]any{"company": "acme"},
		},
	}

	inserts := attachSet("card-1", rules, nil, overrides)
	require.Len(t, inserts, 1)
	assert.Equal(t, models.FormStatusFilled, inserts[0].Status)
	assert.Equal(t, "acme", inserts[0].Data["company"])
}

func TestAttachSetOverrideWithoutRule(t *testing.T) {
	overrides := []FormInput{
		{FormDefinitionID: "extra", Data: map[string]any{"k": "v"}},
	}

	inserts := attachSet("card-1", nil, nil, overrides)
	require.Len(t, inserts, 1)
	assert.Equal(t, "extra", inserts[0].FormDefinitionID)
	assert.Equal(t, models.FormStatusToFill, inserts[0].Status)
}

func TestAttachSetIdempotent(t *testing.T) {
	rules := []*models.StageFormRule{
		{FormDefinitionID: "f1", DefaultStatus: models.FormStatusToFill},
	}

	first := attachSet("card-1", rules, nil, nil)
	require.Len(t, first, 1)

	second := attachSet("card-1", rules, first, nil)
	assert.Empty(t, second)
}

func TestLockSetSkipsAlreadyLocked(t *testing.T) {
	rules := []*models.StageFormRule{
		{FormDefinitionID: "f1", LockOnLeave: true},
		{FormDefinitionID: "f2", LockOnLeave: false},
	}
	existing := []*models.CardForm{
		{FormDefinitionID: "f1", Status: models.FormStatusLocked},
		{FormDefinitionID: "f2", Status: models.FormStatusFilled},
	}

	assert.Empty(t, lockSet(rules, existing))

	existing[0].Status = models.FormStatusFilled
	toLock := lockSet(rules, existing)
	require.Len(t, toLock, 1)
	assert.Equal(t, "f1", toLock[0].FormDefinitionID)
}

func TestMissingRequiredOnlyGatesToFill(t *testing.T) {
	defs := map[string]*models.FormDefinition{
		"f1": {Fields: []models.FormField{
			{ID: "company", Required: true},
			{ID: "contact", Required: true},
			{ID: "notes"},
		}},
	}
	forms := []*models.CardForm{
		{FormDefinitionID: "f1", Status: models.FormStatusToFill,
			Data: map[string]any{"company": "acme", "contact": ""}},
	}

	missing := missingRequired(forms, defs)
	require.Len(t, missing, 1)
	assert.Equal(t, MissingField{FormDefinitionID: "f1", FieldID: "contact"}, missing[0])

	forms[0].Status = models.FormStatusFilled
	assert.Empty(t, missingRequired(forms, defs))
}

func TestIsEmptyValue(t *testing.T) {
	assert.True(t, isEmptyValue(nil))
	assert.True(t, isEmptyValue(""))
	assert.True(t, isEmptyValue([]any{}))
	assert.True(t, isEmptyValue(map[string]any{}))
	assert.False(t, isEmptyValue("x"))
	assert.False(t, isEmptyValue(0))
	assert.False(t, isEmptyValue(false))
}
