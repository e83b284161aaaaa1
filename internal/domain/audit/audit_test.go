package audit

import "testing"

func TestBuildBaseQuery(t *testing.T) {
	query, args := buildBaseQuery("SELECT COUNT(1)", "practice-1", Filter{Action: ActionRunCommitted, EntityID: "run-1"})
	want := "SELECT COUNT(1) FROM audit_events WHERE practice_id = $1 AND action = $2 AND entity_id = $3"
	if query != want {
		t.Fatalf("unexpected query:\n%s\nwant:\n%s", query, want)
	}
	if len(args) != 3 || args[1] != ActionRunCommitted || args[2] != "run-1" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuildBaseQueryWithoutFilters(t *testing.T) {
	query, args := buildBaseQuery("SELECT id", "practice-1", Filter{})
	if query != "SELECT id FROM audit_events WHERE practice_id = $1" || len(args) != 1 {
		t.Fatalf("unexpected query %q args %v", query, args)
	}
}

func TestMarshalOptional(t *testing.T) {
	if b, err := marshalOptional(nil); err != nil || b != nil {
		t.Fatalf("expected nil payload, got %q %v", b, err)
	}
	b, err := marshalOptional(map[string]string{"status": "COMMITTED"})
	if err != nil || string(b) != `{"status":"COMMITTED"}` {
		t.Fatalf("unexpected payload %q %v", b, err)
	}
}
