package audit

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/obsrelay/internal/bridge"
	"github.com/nerrad567/obsrelay/internal/infrastructure/config"
	"github.com/nerrad567/obsrelay/internal/infrastructure/database"
	"github.com/nerrad567/obsrelay/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS, migrations.Dir); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreateAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	log := &AuditLog{
		Action:    bridge.ActionSetVolume,
		InputName: "Mic1",
		Source:    bridge.SourceAPI,
		Success:   true,
		Details:   map[string]any{"volume_db": -30.0},
	}
	if err := repo.Create(ctx, log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if log.ID == "" || log.CreatedAt.IsZero() {
		t.Errorf("ID/CreatedAt not generated: %+v", log)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 || len(result.Logs) != 1 {
		t.Fatalf("result = %+v", result)
	}
	got := result.Logs[0]
	if got.ID != log.ID || got.InputName != "Mic1" || !got.Success || got.Reason != "" {
		t.Errorf("got = %+v", got)
	}
	if got.Details["volume_db"] != -30.0 {
		t.Errorf("Details = %v", got.Details)
	}
	if result.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", result.Limit, defaultLimit)
	}
}

func TestRecordAction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.RecordAction(ctx, bridge.ActionRecord{
		Action:    bridge.ActionToggleMute,
		InputName: "Ghost",
		Source:    bridge.SourceMQTT,
		Success:   false,
		Reason:    bridge.ReasonUnknownInput,
	})
	if err != nil {
		t.Fatalf("RecordAction() error = %v", err)
	}

	result, err := repo.List(ctx, Filter{Source: bridge.SourceMQTT})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Logs) != 1 {
		t.Fatalf("len = %d, want 1", len(result.Logs))
	}
	if got := result.Logs[0]; got.Success || got.Reason != "unknown_input" || got.Details != nil {
		t.Errorf("got = %+v", got)
	}
}

func TestRecordAction_ThroughBridge(t *testing.T) {
	repo := newTestRepo(t)

	var recorder bridge.ActionRecorder = repo
	if err := recorder.RecordAction(context.Background(), bridge.ActionRecord{Action: "toggle_mute", InputName: "Mic1", Source: "api", Success: true}); err != nil {
		t.Fatalf("RecordAction() error = %v", err)
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []AuditLog{
		{Action: "toggle_mute", InputName: "Mic1", Source: "api", Success: true, CreatedAt: base},
		{Action: "set_volume", InputName: "Mic1", Source: "websocket", Success: true, CreatedAt: base.Add(time.Second)},
		{Action: "toggle_mute", InputName: "Mic2", Source: "mqtt", Success: true, CreatedAt: base.Add(1500 * time.Millisecond)},
		{Action: "toggle_mute", InputName: "Mic1", Source: "api", Success: false, Reason: "timeout", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"all newest first", Filter{}, 4, entries[3].ID},
		{"by action", Filter{Action: "toggle_mute"}, 3, entries[3].ID},
		{"by input", Filter{InputName: "Mic2"}, 1, entries[2].ID},
		{"combined", Filter{Action: "set_volume", InputName: "Mic1"}, 1, entries[1].ID},
		{"offset", Filter{Offset: 1}, 4, entries[2].ID},
		{"no match", Filter{InputName: "Nope"}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", result.Total, tt.wantTotal)
			}
			if tt.wantFirst == "" {
				if len(result.Logs) != 0 || result.Logs == nil {
					t.Errorf("Logs = %v, want empty non-nil", result.Logs)
				}
				return
			}
			if len(result.Logs) == 0 || result.Logs[0].ID != tt.wantFirst {
				t.Errorf("first = %+v, want %s", result.Logs, tt.wantFirst)
			}
		})
	}
}

func TestList_LimitClamped(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.Create(ctx, &AuditLog{Action: "toggle_mute", InputName: "Mic1", Source: "api"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Logs) != 2 || result.Total != 3 {
		t.Errorf("len = %d, total = %d", len(result.Logs), result.Total)
	}

	result, err = repo.List(ctx, Filter{Limit: 10000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Limit != maxLimit || result.Offset != 0 {
		t.Errorf("Limit = %d, Offset = %d", result.Limit, result.Offset)
	}
}
