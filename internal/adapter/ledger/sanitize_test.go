package ledger

import (
	"encoding/json"
	"testing"
)

func decodeJSON(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad test fixture: %v", err)
	}
	return v
}

func TestScrubRemovesForbiddenFieldsAtAnyDepth(t *testing.T) {
	payload := decodeJSON(t, `{
		"id": 1,
		"Password": "hunter2",
		"password_hash": "xxx",
		"profile": {"email": "a@b.c", "name": "Tawanda"},
		"trips": [{"national_id": "63-123456A00", "status": "PENDING"}]
	}`)

	got := Scrub(payload, DefaultForbiddenFields).(map[string]any)

	if _, ok := got["Password"]; ok {
		t.Error("Password survived scrubbing (matching must be case-insensitive)")
	}
	if _, ok := got["password_hash"]; ok {
		t.Error("password_hash survived scrubbing")
	}

	profile := got["profile"].(map[string]any)
	if _, ok := profile["email"]; ok {
		t.Error("nested email survived scrubbing")
	}
	if profile["name"] != "Tawanda" {
		t.Error("non-forbidden nested field was dropped")
	}

	trip := got["trips"].([]any)[0].(map[string]any)
	if _, ok := trip["national_id"]; ok {
		t.Error("national_id inside array element survived scrubbing")
	}
	if trip["status"] != "PENDING" {
		t.Error("array element lost a legitimate field")
	}
}

func TestNormalizeRenamesAndCoercesIDs(t *testing.T) {
	payload := decodeJSON(t, `{
		"driver_id": 42,
		"proposed_price": 12.5,
		"accepted_bid_id": "bid-7",
		"bids": [{"eta_minutes": 9, "id": 3}]
	}`)

	got := Normalize(payload).(map[string]any)

	if got["driverId"] != "42" {
		t.Errorf("driver_id = %#v, want string \"42\"", got["driverId"])
	}
	if _, ok := got["driver_id"]; ok {
		t.Error("snake_case key survived normalization")
	}
	if got["proposedPrice"] != 12.5 {
		t.Errorf("non-id number was coerced: %#v", got["proposedPrice"])
	}
	if got["acceptedBidId"] != "bid-7" {
		t.Errorf("string id was altered: %#v", got["acceptedBidId"])
	}

	bid := got["bids"].([]any)[0].(map[string]any)
	if bid["etaMinutes"] != float64(9) {
		t.Errorf("eta_minutes = %#v, want 9", bid["etaMinutes"])
	}
	if bid["id"] != "3" {
		t.Errorf("bare id = %#v, want string \"3\"", bid["id"])
	}
}

func TestScrubThenNormalizeOrder(t *testing.T) {
	// Scrubbing matches wire keys; run before camelCase rewriting, the
	// snake_case forbidden names still match.
	payload := decodeJSON(t, `{"password_hash": "xxx", "user_id": 7}`)

	scrubbed := Scrub(payload, DefaultForbiddenFields)
	got := Normalize(scrubbed).(map[string]any)

	if _, ok := got["passwordHash"]; ok {
		t.Error("forbidden field leaked through the pipeline")
	}
	if got["userId"] != "7" {
		t.Errorf("userId = %#v, want \"7\"", got["userId"])
	}
}

func TestSnakeToCamel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"driver_id", "driverId"},
		{"eta_minutes", "etaMinutes"},
		{"status", "status"},
		{"created_at", "createdAt"},
		{"a_b_c", "aBC"},
	}
	for _, tc := range tests {
		if got := snakeToCamel(tc.in); got != tc.want {
			t.Errorf("snakeToCamel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
