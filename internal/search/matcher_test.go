package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleItem = `{
	"id": "i1",
	"title": "Build server",
	"category": "SERVER",
	"fields": [
		{"id": "username", "type": "STRING", "purpose": "USERNAME", "label": "username", "value": "deploy"},
		{"id": "password", "type": "CONCEALED", "purpose": "PASSWORD", "label": "password", "value": "huge-secret"},
		{"id": "notes", "type": "STRING", "label": "notes", "value": "points at the huge cluster"},
		{"id": "host", "type": "STRING", "label": "host", "value": "huge.internal"}
	]
}`

func TestMatchFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		term      string
		wantOK    bool
		wantLabel string
	}{
		{"first visible field wins", sampleItem, "huge", true, "notes"},
		{"matches label attribute", sampleItem, "username", true, "username"},
		{"concealed value ignored", sampleItem, "secret", false, ""},
		{"case sensitive", sampleItem, "HUGE", false, ""},
		{"empty term", sampleItem, "", false, ""},
		{"no fields", `{"id":"i2","title":"huge"}`, "huge", false, ""},
		{"invalid json", `{"fields":[`, "huge", false, ""},
		{"non-string attributes ignored", `{"fields":[{"id":"n","type":"STRING","label":"count","value":42}]}`, "42", false, ""},
		{
			"concealed only",
			`{"fields":[{"id":"p","type":"CONCEALED","label":"password","value":"huge"}]}`,
			"huge", false, "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchFields([]byte(tt.raw), tt.term)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantLabel, got.Label)
		})
	}
}
