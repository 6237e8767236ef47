package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStatusCanTransition(t *testing.T) {
	cases := []struct {
		from    VersionStatus
		to      VersionStatus
		allowed bool
	}{
		{VersionStatusDraft, VersionStatusTest, true},
		{VersionStatusDraft, VersionStatusPublished, true},
		{VersionStatusDraft, VersionStatusArchived, false},
		{VersionStatusTest, VersionStatusDraft, true},
		{VersionStatusTest, VersionStatusPublished, true},
		{VersionStatusPublished, VersionStatusArchived, true},
		{VersionStatusPublished, VersionStatusDraft, true},
		{VersionStatusPublished, VersionStatusTest, false},
		{VersionStatusArchived, VersionStatusDraft, false},
		{VersionStatusArchived, VersionStatusPublished, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestFormStatusValid(t *testing.T) {
	assert.True(t, FormStatusToFill.Valid())
	assert.True(t, FormStatusFilled.Valid())
	assert.True(t, FormStatusLocked.Valid())
	assert.False(t, FormStatus("OPEN").Valid())
}

func TestRequiredFields(t *testing.T) {
	def := &FormDefinition{
		Fields: []FormField{
			{ID: "company", Required: true},
			{ID: "notes"},
			{ID: "contact", Required: true},
		},
	}
	assert.Equal(t, []string{"company", "contact"}, def.RequiredFields())
}
