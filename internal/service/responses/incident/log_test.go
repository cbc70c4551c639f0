package incident

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "incidents.json"))
}

func TestRecordIncidentCreatesNewOpenIncident(t *testing.T) {
	log := newTestLog(t)
	inc, err := log.RecordIncident(models.RecordIncidentInput{
		RunID:      "run_1",
		Type:       models.IncidentFailed,
		OccurredAt: time.Now().UTC(),
		Reason:     "provider timeout",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inc.Status != models.IncidentOpen {
		t.Fatalf("expected open status, got %q", inc.Status)
	}
	if inc.ID == "" {
		t.Fatal("expected a generated incident id")
	}
}

func TestRecordIncidentMergesIntoExistingOpenIncident(t *testing.T) {
	log := newTestLog(t)
	first, err := log.RecordIncident(models.RecordIncidentInput{RunID: "run_1", Type: models.IncidentFailed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := log.RecordIncident(models.RecordIncidentInput{RunID: "run_1", Type: models.IncidentFailed, Reason: "second failure"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same incident to be reused, got new id %q vs %q", second.ID, first.ID)
	}
	if second.Reason != "second failure" {
		t.Fatalf("expected merged reason, got %q", second.Reason)
	}

	all, err := log.List("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single merged incident, got %d", len(all))
	}
}

func TestResolveIncidentUnknownID(t *testing.T) {
	log := newTestLog(t)
	_, err := log.ResolveIncident("nope", models.ResolveIncidentInput{ResolvedBy: "system"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveIncidentIsIdempotent(t *testing.T) {
	log := newTestLog(t)
	inc, err := log.RecordIncident(models.RecordIncidentInput{RunID: "run_1", Type: models.IncidentFailed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := log.ResolveIncident(inc.ID, models.ResolveIncidentInput{ResolvedBy: "operator", Disposition: models.ResolutionManual})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resolvedAt := first.Resolution.ResolvedAt

	second, err := log.ResolveIncident(inc.ID, models.ResolveIncidentInput{ResolvedBy: "someone-else", Disposition: models.ResolutionEscalated})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Resolution.ResolvedAt.Equal(resolvedAt) {
		t.Fatal("expected resolving an already-resolved incident to be a no-op")
	}
}

func TestResolveIncidentsByRunOnlyTouchesOpenIncidentsForThatRun(t *testing.T) {
	log := newTestLog(t)
	if _, err := log.RecordIncident(models.RecordIncidentInput{RunID: "run_1", Type: models.IncidentFailed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := log.RecordIncident(models.RecordIncidentInput{RunID: "run_2", Type: models.IncidentFailed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resolved, err := log.ResolveIncidentsByRun("run_1", models.ResolveIncidentInput{ResolvedBy: "system", Disposition: models.ResolutionRetry, LinkedRunID: "run_1_retry"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("expected exactly one incident resolved, got %d", len(resolved))
	}

	open, err := log.Open()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(open) != 1 || open[0].RunID != "run_2" {
		t.Fatalf("expected run_2's incident to remain open, got %+v", open)
	}
}
