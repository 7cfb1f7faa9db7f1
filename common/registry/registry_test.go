package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/store"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(store.NewMemorySourceRepository(), zaptest.NewLogger(t))
}

func strPtr(s string) *string { return &s }

func TestService_Create(t *testing.T) {
	svc := newTestService(t)
	src, err := svc.Create(context.Background(), CreateRequest{
		SourceType:       models.SourceTypeWeb,
		SourceIdentifier: "https://example.com/jobs",
		SourceName:       "Example",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !src.IsActive {
		t.Error("expected new source to default to active")
	}
	if src.ID == uuid.Nil {
		t.Error("expected an id")
	}
}

func TestService_Create_Validation(t *testing.T) {
	svc := newTestService(t)
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"unknown type", CreateRequest{SourceType: "RSS", SourceIdentifier: "https://x.test", SourceName: "x"}},
		{"web without scheme", CreateRequest{SourceType: models.SourceTypeWeb, SourceIdentifier: "example.com/jobs", SourceName: "x"}},
		{"web ftp url", CreateRequest{SourceType: models.SourceTypeWeb, SourceIdentifier: "ftp://example.com", SourceName: "x"}},
		{"blank identifier", CreateRequest{SourceType: models.SourceTypeWhatsApp, SourceIdentifier: "  ", SourceName: "x"}},
		{"blank name", CreateRequest{SourceType: models.SourceTypeWhatsApp, SourceIdentifier: "120363@g.us", SourceName: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			if !apperrors.Is(err, apperrors.ErrTypeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_Create_WhatsAppIdentifierNeedNotBeURL(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Create(context.Background(), CreateRequest{
		SourceType:       models.SourceTypeWhatsApp,
		SourceIdentifier: "120363041234567890@g.us",
		SourceName:       "Riyadh Casting Group",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_Create_DuplicateActiveIdentifier(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	req := CreateRequest{SourceType: models.SourceTypeWeb, SourceIdentifier: "https://example.com/jobs", SourceName: "Example"}

	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, req); !apperrors.Is(err, apperrors.ErrTypeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestService_UpdateDelete_NotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Update(ctx, uuid.New(), models.SourcePatch{SourceName: strPtr("x")}); !apperrors.Is(err, apperrors.ErrTypeNotFound) {
		t.Fatalf("update: expected not found, got %v", err)
	}
	if _, err := svc.Delete(ctx, uuid.New()); !apperrors.Is(err, apperrors.ErrTypeNotFound) {
		t.Fatalf("delete: expected not found, got %v", err)
	}
}

func TestService_Update_ConflictWithOtherActive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	a, _ := svc.Create(ctx, CreateRequest{SourceType: models.SourceTypeWeb, SourceIdentifier: "https://a.test", SourceName: "A"})
	b, _ := svc.Create(ctx, CreateRequest{SourceType: models.SourceTypeWeb, SourceIdentifier: "https://b.test", SourceName: "B"})

	if _, err := svc.Update(ctx, b.ID, models.SourcePatch{SourceIdentifier: strPtr(a.SourceIdentifier)}); !apperrors.Is(err, apperrors.ErrTypeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := svc.Update(ctx, a.ID, models.SourcePatch{SourceName: strPtr("A renamed")}); err != nil {
		t.Fatalf("renaming without changing identifier should succeed: %v", err)
	}
}

func TestService_Delete_Deactivates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	src, _ := svc.Create(ctx, CreateRequest{SourceType: models.SourceTypeWeb, SourceIdentifier: "https://a.test", SourceName: "A"})

	if _, err := svc.Delete(ctx, src.ID); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Get(ctx, src.ID)
	if err != nil {
		t.Fatalf("deleted source should still exist: %v", err)
	}
	if got.IsActive {
		t.Error("expected source to be inactive")
	}

	active, _ := svc.ListActive(ctx, models.SourceTypeWeb)
	if len(active) != 0 {
		t.Errorf("expected no active sources, got %d", len(active))
	}
	counts, _ := svc.Counts(ctx)
	if counts.Total != 1 || counts.Active != 0 {
		t.Errorf("unexpected counts %+v", counts)
	}
}

func TestService_Seed(t *testing.T) {
	svc := newTestService(t)
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `sources:
  - type: web
    identifier: https://example.com/jobs
    name: Example
  - type: WHATSAPP
    identifier: 120363041234567890@g.us
    name: Riyadh Casting Group
  - type: WEB
    identifier: https://paused.test
    name: Paused
    active: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	created, err := svc.Seed(ctx, path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if created != 3 {
		t.Fatalf("expected 3 sources, got %d", created)
	}

	again, err := svc.Seed(ctx, path)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if again != 1 {
		t.Errorf("expected only the inactive entry to be re-created, got %d", again)
	}

	active, _ := svc.ListActive(ctx, "")
	if len(active) != 2 {
		t.Errorf("expected 2 active sources, got %d", len(active))
	}
}
