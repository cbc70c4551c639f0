// Package pgarchive is an additive third Archive backend on top of
// Postgres, for deployments that want the run/event log queryable by SQL
// rather than walked off disk. It reuses the shared pgx connection
// pooling, transaction, and pg-error-classification helpers.
package pgarchive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/repositories"
	"meridian/internal/domain/services/responses"
	"meridian/internal/repository/postgres"
)

// Archive is the Postgres-backed responses.Archive. It implements every
// optional capability: Prunable, Exportable, Rollbackable, SafetyAware,
// ModerationAware, and DelegationAware.
type Archive struct {
	pool      *pgxpool.Pool
	tables    *postgres.TableNames
	exportDir string
	txManager repositories.TransactionManager
}

// New constructs a Postgres-backed archive. The runs, events, and
// delegations tables named by tables must already exist; this package does
// not create or migrate schema.
func New(pool *pgxpool.Pool, tables *postgres.TableNames, exportDir string) *Archive {
	return &Archive{
		pool:      pool,
		tables:    tables,
		exportDir: exportDir,
		txManager: postgres.NewTransactionManager(pool),
	}
}

var _ responses.Archive = (*Archive)(nil)
var _ responses.Rollbackable = (*Archive)(nil)
var _ responses.SafetyAware = (*Archive)(nil)
var _ responses.DelegationAware = (*Archive)(nil)
var _ responses.ModerationAware = (*Archive)(nil)
var _ responses.Exportable = (*Archive)(nil)
var _ responses.Prunable = (*Archive)(nil)

func (a *Archive) StartRun(ctx context.Context, input responses.StartRunInput) (*models.Run, error) {
	now := time.Now().UTC()
	metaJSON, err := json.Marshal(input.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	reqJSON, err := json.Marshal(input.Request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var safetyJSON []byte
	if input.Safety != nil {
		safetyJSON, err = json.Marshal(input.Safety)
		if err != nil {
			return nil, fmt.Errorf("marshal safety: %w", err)
		}
	}

	sql := fmt.Sprintf(`INSERT INTO %s
		(run_id, request, conversation_id, metadata, status, created_at, updated_at, trace_id, safety)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, a.tables.Runs)
	_, err = a.pool.Exec(ctx, sql, input.RunID, reqJSON, input.ConversationID, metaJSON,
		models.StatusQueued, now, now, input.TraceID, safetyJSON)
	if err != nil {
		if postgres.IsPgDuplicateError(err) {
			return nil, fmt.Errorf("run %s: %w", input.RunID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}

	return &models.Run{
		RunID:          input.RunID,
		Request:        input.Request,
		ConversationID: input.ConversationID,
		Metadata:       input.Metadata.Clone(),
		Status:         models.StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
		TraceID:        input.TraceID,
		Safety:         input.Safety,
	}, nil
}

func (a *Archive) RecordEvent(ctx context.Context, input responses.RecordEventInput) (*models.Event, error) {
	var recorded models.Event
	err := a.txManager.ExecTx(ctx, func(ctx context.Context) error {
		exec := postgres.GetExecutor(ctx, a.pool)

		var exists bool
		if err := exec.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE run_id=$1)`, a.tables.Runs), input.RunID).Scan(&exists); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
		}
		if !exists {
			return fmt.Errorf("run %s: %w", input.RunID, domain.ErrNotFound)
		}

		var last int64
		if err := exec.QueryRow(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(sequence),0) FROM %s WHERE run_id=$1`, a.tables.Events), input.RunID).Scan(&last); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
		}

		seq := last + 1
		if input.Sequence != nil {
			seq = *input.Sequence
			if seq <= last {
				return fmt.Errorf("run %s sequence %d: %w", input.RunID, seq, domain.ErrSequenceAlreadyRecorded)
			}
		}
		occurred := input.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}

		if _, err := exec.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (run_id, sequence, type, payload, occurred_at) VALUES ($1,$2,$3,$4,$5)`, a.tables.Events),
			input.RunID, seq, input.Type, []byte(input.Payload), occurred); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
		}

		recorded = models.Event{RunID: input.RunID, Sequence: seq, Type: input.Type, Payload: input.Payload, OccurredAt: occurred}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &recorded, nil
}

func (a *Archive) UpdateStatus(ctx context.Context, input responses.UpdateStatusInput) (*models.Run, error) {
	now := time.Now().UTC()
	var resultJSON []byte
	var err error
	if input.Result != nil {
		resultJSON, err = json.Marshal(input.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		_, err = a.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status=$1, result=$2, updated_at=$3 WHERE run_id=$4`, a.tables.Runs),
			input.Status, resultJSON, now, input.RunID)
	} else {
		_, err = a.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status=$1, updated_at=$2 WHERE run_id=$3`, a.tables.Runs),
			input.Status, now, input.RunID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return a.GetRun(ctx, input.RunID)
}

func (a *Archive) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := a.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT run_id, request, conversation_id, metadata, status, created_at, updated_at, trace_id, result, safety
		 FROM %s WHERE run_id=$1`, a.tables.Runs), runID)
	return scanRun(row, a.pool, ctx, a.tables)
}

func scanRun(row pgx.Row, pool *pgxpool.Pool, ctx context.Context, tables *postgres.TableNames) (*models.Run, error) {
	var (
		r                            models.Run
		reqJSON, metaJSON            []byte
		resultJSON, safetyJSON       []byte
		conversationID, traceID      *string
	)
	if err := row.Scan(&r.RunID, &reqJSON, &conversationID, &metaJSON, &r.Status, &r.CreatedAt, &r.UpdatedAt, &traceID, &resultJSON, &safetyJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("run: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	if conversationID != nil {
		r.ConversationID = *conversationID
	}
	if traceID != nil {
		r.TraceID = *traceID
	}
	if len(reqJSON) > 0 {
		if err := json.Unmarshal(reqJSON, &r.Request); err != nil {
			return nil, fmt.Errorf("unmarshal request: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &r.Metadata)
	}
	if len(resultJSON) > 0 {
		r.Result = &models.Result{}
		_ = json.Unmarshal(resultJSON, r.Result)
	}
	if len(safetyJSON) > 0 {
		r.Safety = &models.Safety{}
		_ = json.Unmarshal(safetyJSON, r.Safety)
	}

	rows, err := pool.Query(ctx, fmt.Sprintf(`SELECT call_id, tool_name, requested_at, status, arguments, output, completed_at FROM %s WHERE run_id=$1 ORDER BY requested_at`, tables.Delegations), r.RunID)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var d models.Delegation
			var args, out []byte
			var completed *time.Time
			if err := rows.Scan(&d.CallID, &d.ToolName, &d.RequestedAt, &d.Status, &args, &out, &completed); err == nil {
				d.Arguments = args
				d.Output = out
				d.CompletedAt = completed
				r.Delegations = append(r.Delegations, d)
			}
		}
	}
	return &r, nil
}

func (a *Archive) GetTimeline(ctx context.Context, runID string) (*models.Timeline, error) {
	if _, err := a.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := a.pool.Query(ctx, fmt.Sprintf(`SELECT sequence, type, payload, occurred_at FROM %s WHERE run_id=$1 ORDER BY sequence`, a.tables.Events), runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	defer rows.Close()
	var events []models.Event
	for rows.Next() {
		var e models.Event
		e.RunID = runID
		if err := rows.Scan(&e.Sequence, &e.Type, (*[]byte)(&e.Payload), &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
		}
		events = append(events, e)
	}
	return &models.Timeline{RunID: runID, Events: events}, nil
}

func (a *Archive) ListRuns(ctx context.Context) ([]models.Run, error) {
	rows, err := a.pool.Query(ctx, fmt.Sprintf(
		`SELECT run_id, request, conversation_id, metadata, status, created_at, updated_at, trace_id, result, safety
		 FROM %s ORDER BY updated_at DESC`, a.tables.Runs))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	defer rows.Close()
	var out []models.Run
	for rows.Next() {
		r, err := scanRun(rows, a.pool, ctx, a.tables)
		if err != nil {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (a *Archive) DeleteRun(ctx context.Context, runID string) error {
	tag, err := a.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id=$1`, a.tables.Runs), runID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return nil
}

func (a *Archive) SnapshotAt(ctx context.Context, runID string, sequence int64) (*models.TimelineSnapshot, error) {
	timeline, err := a.GetTimeline(ctx, runID)
	if err != nil {
		return nil, err
	}
	var kept []models.Event
	for _, ev := range timeline.Events {
		if ev.Sequence <= sequence {
			kept = append(kept, ev)
		}
	}
	return &models.TimelineSnapshot{Timeline: models.Timeline{RunID: runID, Events: kept}, ProjectedStatus: projectStatus(kept)}, nil
}

func projectStatus(events []models.Event) string {
	status := models.StatusInProgress
	for _, ev := range events {
		switch ev.Type {
		case "response.queued":
			status = models.StatusQueued
		case "response.created", "response.in_progress":
			status = models.StatusInProgress
		case "response.completed":
			status = models.StatusCompleted
		case "response.failed":
			status = models.StatusFailed
		case "response.cancelled":
			status = models.StatusCancelled
		case "response.incomplete":
			status = models.StatusIncomplete
		}
	}
	return status
}

func (a *Archive) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := a.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE updated_at < $1`, a.tables.Runs), cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return int(tag.RowsAffected()), nil
}

func (a *Archive) Rollback(ctx context.Context, runID string, input responses.RollbackInput) (*models.TimelineSnapshot, error) {
	timeline, err := a.GetTimeline(ctx, runID)
	if err != nil {
		return nil, err
	}
	target, err := resolveRollbackTarget(timeline.Events, input)
	if err != nil {
		return nil, err
	}

	markerPayload := rollbackMarkerPayload(input.Operator, input.Reason)
	var kept []models.Event
	for _, ev := range timeline.Events {
		if ev.Sequence <= target {
			kept = append(kept, ev)
		}
	}
	status := projectStatus(kept)

	err = a.txManager.ExecTx(ctx, func(ctx context.Context) error {
		exec := postgres.GetExecutor(ctx, a.pool)

		if _, err := exec.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id=$1 AND sequence>$2`, a.tables.Events), runID, target); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
		}
		if _, err := exec.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (run_id, sequence, type, payload, occurred_at) VALUES ($1,$2,$3,$4,$5)`, a.tables.Events),
			runID, target+1, "responses.rollback", []byte(markerPayload), time.Now().UTC()); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
		}

		if !models.IsTerminal(status) {
			if _, err := exec.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status=$1, result=NULL, updated_at=$2 WHERE run_id=$3`, a.tables.Runs), status, time.Now().UTC(), runID); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
			}
		} else {
			if _, err := exec.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status=$1, updated_at=$2 WHERE run_id=$3`, a.tables.Runs), status, time.Now().UTC(), runID); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	kept = append(kept, models.Event{RunID: runID, Sequence: target + 1, Type: "responses.rollback", Payload: markerPayload, OccurredAt: time.Now().UTC()})
	return &models.TimelineSnapshot{Timeline: models.Timeline{RunID: runID, Events: kept}, ProjectedStatus: status}, nil
}

func (a *Archive) UpdateSafety(ctx context.Context, runID string, input responses.UpdateSafetyInput) (*models.Safety, error) {
	run, err := a.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Safety == nil {
		run.Safety = &models.Safety{}
	}
	run.Safety.RefusalCount += input.RefusalDelta
	if input.LastRefusalAt != nil {
		t := *input.LastRefusalAt
		run.Safety.LastRefusalAt = &t
	}
	safetyJSON, err := json.Marshal(run.Safety)
	if err != nil {
		return nil, fmt.Errorf("marshal safety: %w", err)
	}
	if _, err := a.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET safety=$1, updated_at=$2 WHERE run_id=$3`, a.tables.Runs), safetyJSON, time.Now().UTC(), runID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return run.Safety.Clone(), nil
}

func (a *Archive) AddModeratorNote(ctx context.Context, runID string, note models.ModeratorNote) (*models.ModeratorNote, error) {
	run, err := a.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Safety == nil {
		run.Safety = &models.Safety{}
	}
	run.Safety.ModeratorNotes = append(run.Safety.ModeratorNotes, note)
	safetyJSON, err := json.Marshal(run.Safety)
	if err != nil {
		return nil, fmt.Errorf("marshal safety: %w", err)
	}
	if _, err := a.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET safety=$1, updated_at=$2 WHERE run_id=$3`, a.tables.Runs), safetyJSON, time.Now().UTC(), runID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return &note, nil
}

func (a *Archive) RecordDelegation(ctx context.Context, runID string, delegation models.Delegation) (*models.Delegation, error) {
	_, err := a.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (run_id, call_id, tool_name, requested_at, status, arguments) VALUES ($1,$2,$3,$4,$5,$6)`, a.tables.Delegations),
		runID, delegation.CallID, delegation.ToolName, delegation.RequestedAt, delegation.Status, []byte(delegation.Arguments))
	if err != nil {
		if postgres.IsPgDuplicateError(err) {
			return nil, fmt.Errorf("delegation %s: %w", delegation.CallID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	out := delegation.Clone()
	return &out, nil
}

func (a *Archive) UpdateDelegation(ctx context.Context, runID, callID string, update responses.DelegationUpdate) (*models.Delegation, error) {
	tag, err := a.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status=$1, output=$2, completed_at=$3 WHERE run_id=$4 AND call_id=$5`, a.tables.Delegations),
		update.Status, []byte(update.Output), update.CompletedAt, runID, callID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("delegation %s: %w", callID, domain.ErrNotFound)
	}
	return &models.Delegation{CallID: callID, Status: update.Status, Output: update.Output, CompletedAt: update.CompletedAt}, nil
}

// ExportRun serializes a run's record and full event timeline to a
// gzip-compressed JSON file under exportDir, mirroring the filesystem
// backend's export shape so downstream tooling doesn't need to care which
// Archive produced it.
func (a *Archive) ExportRun(ctx context.Context, runID string) (string, error) {
	run, err := a.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	timeline, err := a.GetTimeline(ctx, runID)
	if err != nil {
		return "", err
	}

	doc := struct {
		Run    *models.Run    `json:"run"`
		Events []models.Event `json:"events"`
	}{Run: run, Events: timeline.Events}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}

	if err := os.MkdirAll(a.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	dest := filepath.Join(a.exportDir, runID+".json.gz")
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, gz.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return dest, nil
}

func resolveRollbackTarget(events []models.Event, input responses.RollbackInput) (int64, error) {
	if input.Sequence != nil {
		return *input.Sequence, nil
	}
	if input.ToolCallID != "" {
		for _, ev := range events {
			if containsCallID(ev.Payload, input.ToolCallID) {
				return ev.Sequence, nil
			}
		}
		return 0, fmt.Errorf("tool call %s not found: %w", input.ToolCallID, domain.ErrValidation)
	}
	return 0, fmt.Errorf("rollback requires sequence or toolCallId: %w", domain.ErrValidation)
}
