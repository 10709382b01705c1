package api

import (
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/nerrad567/grott-scheduler/internal/audit"
)

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)

	created := createSchedule(t, env, chargeBody)
	path := fmt.Sprintf("/schedules/%d", created.ID)
	if code := env.do(t, http.MethodPut, path, `{"enabled": false}`, nil); code != http.StatusOK {
		t.Fatalf("PUT %s = %d", path, code)
	}
	if code := env.do(t, http.MethodPut, "/config", `{"inverter_serial": "SER9"}`, nil); code != http.StatusOK {
		t.Fatalf("PUT /config = %d", code)
	}
	if code := env.do(t, http.MethodDelete, path, "", nil); code != http.StatusNoContent {
		t.Fatalf("DELETE %s = %d", path, code)
	}

	var all audit.ListResult
	if code := env.do(t, http.MethodGet, "/audit", "", &all); code != http.StatusOK {
		t.Fatalf("GET /audit = %d", code)
	}
	if all.Total != 4 {
		t.Fatalf("total = %d, want 4: %+v", all.Total, all.Entries)
	}
	if all.Entries[0].Action != audit.ActionDelete || all.Entries[3].Action != audit.ActionCreate {
		t.Errorf("order = %s ... %s, want newest first", all.Entries[0].Action, all.Entries[3].Action)
	}

	id := strconv.FormatInt(created.ID, 10)
	tests := []struct {
		query string
		code  int
		total int
	}{
		{"?entity_type=schedule&entity_id=" + id, http.StatusOK, 3},
		{"?action=update", http.StatusOK, 2},
		{"?entity_type=config", http.StatusOK, 1},
		{"?limit=1&offset=1", http.StatusOK, 4},
		{"?limit=-1", http.StatusBadRequest, 0},
		{"?offset=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var res audit.ListResult
			code := env.do(t, http.MethodGet, "/audit"+tt.query, "", &res)
			if code != tt.code {
				t.Fatalf("GET /audit%s = %d, want %d", tt.query, code, tt.code)
			}
			if code == http.StatusOK && res.Total != tt.total {
				t.Errorf("total = %d, want %d", res.Total, tt.total)
			}
		})
	}
}
