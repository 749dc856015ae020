package search

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/systmms/opbulk/internal/onepassword"
)

// FieldMatch names the field of an item that contained the search term.
type FieldMatch struct {
	ID    string
	Label string
}

// MatchFields scans the "fields" array of a raw op item document and returns
// the first non-concealed field with any string attribute containing term.
// Matching is a case-sensitive substring test.
func MatchFields(raw []byte, term string) (FieldMatch, bool) {
	var (
		match FieldMatch
		found bool
	)
	if term == "" || !gjson.ValidBytes(raw) {
		return match, false
	}

	gjson.GetBytes(raw, "fields").ForEach(func(_, field gjson.Result) bool {
		if field.Get("type").String() == onepassword.FieldTypeConcealed {
			return true
		}
		field.ForEach(func(_, attr gjson.Result) bool {
			if attr.Type == gjson.String && strings.Contains(attr.Str, term) {
				found = true
				return false
			}
			return true
		})
		if found {
			match = FieldMatch{ID: field.Get("id").String(), Label: field.Get("label").String()}
			return false
		}
		return true
	})

	return match, found
}
