package services

import (
	"github.com/google/uuid"

	"flowdeck/pkg/models"
)

// FormInput is caller-supplied initial data for one form attachment. When
// it names a form a stage rule also attaches, the caller's status and data
// win over the rule's defaults.
type FormInput struct {
	FormDefinitionID string             `json:"form_definition_id"`
	Status           *models.FormStatus `json:"status,omitempty"`
	Data             map[string]any     `json:"data,omitempty"`
}

// MissingField identifies one unfilled required field blocking a move.
type MissingField struct {
	FormDefinitionID string `json:"form_definition_id"`
	FieldID          string `json:"field_id"`
}

// attachSet computes the CardForm rows to insert when a card enters a
// stage. Forms already attached are skipped, so re-entering a stage is a
// no-op for existing attachments. Caller overrides not matched by any rule
// produce attachments of their own.
func attachSet(cardID string, rules []*models.StageFormRule, existing []*models.CardForm, overrides []FormInput) []*models.CardForm {
	attached := make(map[string]bool, len(existing))
	for _, f := range existing {
		attached[f.FormDefinitionID] = true
	}
	byForm := make(map[string]FormInput, len(overrides))
	for _, o := range overrides {
		byForm[o.FormDefinitionID] = o
	}

	var inserts []*models.CardForm
	add := func(formDefID string, status models.FormStatus, data map[string]any) {
		if attached[formDefID] {
			return
		}
		attached[formDefID] = true
		if data == nil {
			data = map[string]any{}
		}
		inserts = append(inserts, &models.CardForm{
			ID:               uuid.New().String(),
			CardID:           cardID,
			FormDefinitionID: formDefID,
			Status:           status,
			Data:             data,
		})
	}

	for _, rule := range rules {
		status := rule.DefaultStatus
		var data map[string]any
		if o, ok := byForm[rule.FormDefinitionID]; ok {
			if o.Status != nil {
				status = *o.Status
			}
			data = o.Data
			delete(byForm, rule.FormDefinitionID)
		}
		add(rule.FormDefinitionID, status, data)
	}
	for _, o := range overrides {
		if _, pending := byForm[o.FormDefinitionID]; !pending {
			continue
		}
		status := models.FormStatusToFill
		if o.Status != nil {
			status = *o.Status
		}
		add(o.FormDefinitionID, status, o.Data)
	}
	return inserts
}

// lockSet returns the attached forms to transition to LOCKED when the card
// leaves a stage. Already-locked forms are skipped.
func lockSet(rules []*models.StageFormRule, existing []*models.CardForm) []*models.CardForm {
	lockable := make(map[string]bool)
	for _, rule := range rules {
		if rule.LockOnLeave {
			lockable[rule.FormDefinitionID] = true
		}
	}
	var toLock []*models.CardForm
	for _, f := range existing {
		if lockable[f.FormDefinitionID] && f.Status != models.FormStatusLocked {
			toLock = append(toLock, f)
		}
	}
	return toLock
}

// missingRequired lists every required field absent or empty in a TO_FILL
// form's data. LOCKED and FILLED forms do not gate.
func missingRequired(forms []*models.CardForm, defs map[string]*models.FormDefinition) []MissingField {
	var missing []MissingField
	for _, f := range forms {
		if f.Status != models.FormStatusToFill {
			continue
		}
		def, ok := defs[f.FormDefinitionID]
		if !ok {
			continue
		}
		for _, fieldID := range def.RequiredFields() {
			if isEmptyValue(f.Data[fieldID]) {
				missing = append(missing, MissingField{
					FormDefinitionID: f.FormDefinitionID,
					FieldID:          fieldID,
				})
			}
		}
	}
	return missing
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
