package judge

import (
	"bytes"
	"encoding/json"
	"reflect"

	"duel_arena/internal/domain/model"
)

// decodeOutput parses program output as JSON. Output that is not a single JSON value is
// taken as a plain string after trimming surrounding whitespace.
func decodeOutput(out []byte) any {
	trimmed := bytes.TrimSpace(out)
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(trimmed)
	}
	return v
}

// Equal compares decoded values. Numbers are compared by value, so 1 and 1.0 match.
// In unordered mode a top-level array is compared as a multiset; nested arrays keep
// their order.
func Equal(mode model.ComparisonMode, expected json.RawMessage, actual []byte) bool {
	want := decodeOutput(expected)
	got := decodeOutput(actual)
	if mode != model.ComparisonUnordered {
		return reflect.DeepEqual(want, got)
	}

	wantList, ok1 := want.([]any)
	gotList, ok2 := got.([]any)
	if !ok1 || !ok2 {
		return reflect.DeepEqual(want, got)
	}
	if len(wantList) != len(gotList) {
		return false
	}
	used := make([]bool, len(gotList))
	for _, w := range wantList {
		found := false
		for i, g := range gotList {
			if !used[i] && reflect.DeepEqual(w, g) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
