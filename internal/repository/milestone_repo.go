package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mqcontracts "milestonehub/contracts/mq"
	"milestonehub/internal/model"
	"milestonehub/internal/submission"
	"milestonehub/pkg/outbox"
)

// MilestoneRepository is the PostgreSQL catalog and milestone sink. A submit
// updates the milestone, stores the file set and enqueues the
// milestone.submitted event in one transaction.
type MilestoneRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

func NewMilestoneRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository) *MilestoneRepository {
	return &MilestoneRepository{db: db, outbox: outboxRepo}
}

func (r *MilestoneRepository) ListProjects(ctx context.Context) ([]model.Project, error) {
	query := `
        SELECT id, name, client, location, contract_value, status, completion
        FROM projects
        ORDER BY name
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	projects, err := pgx.CollectRows(rows, scanProject)
	if err != nil {
		return nil, err
	}

	for i := range projects {
		ms, err := r.listMilestones(ctx, projects[i].ID)
		if err != nil {
			return nil, err
		}
		projects[i].Milestones = ms
	}
	return projects, nil
}

func (r *MilestoneRepository) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	query := `
        SELECT id, name, client, location, contract_value, status, completion
        FROM projects
        WHERE id = $1
    `
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return model.Project{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Project{}, fmt.Errorf("%w: %s", submission.ErrProjectNotFound, projectID)
		}
		return model.Project{}, err
	}

	p.Milestones, err = r.listMilestones(ctx, projectID)
	if err != nil {
		return model.Project{}, err
	}
	return p, nil
}

func scanProject(row pgx.CollectableRow) (model.Project, error) {
	var p model.Project
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Client,
		&p.Location,
		&p.ContractValue,
		&p.Status,
		&p.Completion,
	)
	return p, err
}

const selectMilestone = `
        SELECT id, project_id, name, description, due_date, value, status,
               deliverables, COALESCE(notes, ''), submitted_at
        FROM milestones
`

func scanMilestone(row pgx.CollectableRow) (model.Milestone, error) {
	var m model.Milestone
	err := row.Scan(
		&m.ID,
		&m.ProjectID,
		&m.Name,
		&m.Description,
		&m.DueDate,
		&m.Value,
		&m.Status,
		&m.Deliverables,
		&m.Notes,
		&m.SubmittedAt,
	)
	return m, err
}

func (r *MilestoneRepository) listMilestones(ctx context.Context, projectID string) ([]model.Milestone, error) {
	rows, err := r.db.Query(ctx, selectMilestone+`WHERE project_id = $1 ORDER BY due_date`, projectID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMilestone)
}

func (r *MilestoneRepository) GetMilestone(ctx context.Context, projectID, milestoneID string) (model.Milestone, error) {
	rows, err := r.db.Query(ctx, selectMilestone+`WHERE project_id = $1 AND id = $2`, projectID, milestoneID)
	if err != nil {
		return model.Milestone{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMilestone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Milestone{}, fmt.Errorf("%w: %s/%s", submission.ErrMilestoneNotFound, projectID, milestoneID)
		}
		return model.Milestone{}, err
	}

	if m.Status != model.MilestonePending && m.Status != model.MilestoneInProgress {
		m.SubmittedFiles, err = r.submittedFiles(ctx, projectID, milestoneID)
		if err != nil {
			return model.Milestone{}, err
		}
	}
	return m, nil
}

func (r *MilestoneRepository) submittedFiles(ctx context.Context, projectID, milestoneID string) ([]model.UploadedFile, error) {
	query := `
        SELECT file_id, name, size, type, version, uploaded_at, status
        FROM submitted_files
        WHERE project_id = $1 AND milestone_id = $2
        ORDER BY position
    `
	rows, err := r.db.Query(ctx, query, projectID, milestoneID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.UploadedFile, error) {
		var f model.UploadedFile
		err := row.Scan(&f.ID, &f.Name, &f.Size, &f.Type, &f.Version, &f.UploadedAt, &f.Status)
		f.Progress = 100
		return f, err
	})
}

// SetMilestoneSubmitted applies sub exactly once. The row lock on the milestone
// serializes concurrent attempts; a replay of the applied key commits nothing.
func (r *MilestoneRepository) SetMilestoneSubmitted(ctx context.Context, sub submission.Submission) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status  model.MilestoneStatus
		prevKey *string
	)
	err = tx.QueryRow(ctx, `
        SELECT status, submission_key
        FROM milestones
        WHERE project_id = $1 AND id = $2
        FOR UPDATE
    `, sub.ProjectID, sub.MilestoneID).Scan(&status, &prevKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", submission.ErrMilestoneNotFound, sub.ProjectID, sub.MilestoneID)
		}
		return fmt.Errorf("lock milestone: %w", err)
	}

	if decided, err := checkSubmittable(status, prevKey, sub); decided {
		return err
	}

	_, err = tx.Exec(ctx, `
        UPDATE milestones
        SET status = $1, submission_key = $2, notes = $3, submitted_at = $4, updated_at = NOW()
        WHERE project_id = $5 AND id = $6
    `, model.MilestoneSubmitted, sub.Key, sub.Notes, sub.SubmittedAt, sub.ProjectID, sub.MilestoneID)
	if err != nil {
		return fmt.Errorf("update milestone: %w", err)
	}

	if len(sub.Files) > 0 {
		batch := &pgx.Batch{}
		for i, f := range sub.Files {
			batch.Queue(`
                INSERT INTO submitted_files
                    (project_id, milestone_id, file_id, position, name, size, type, version, uploaded_at, status)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
            `, sub.ProjectID, sub.MilestoneID, f.ID, i, f.Name, f.Size, f.Type, f.Version, f.UploadedAt, f.Status)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert submitted files: %w", err)
		}
	}

	if _, err := r.outbox.Append(ctx, tx,
		mqcontracts.AggregateMilestone,
		sub.ProjectID+"/"+sub.MilestoneID,
		mqcontracts.RoutingMilestoneSubmitted,
		SubmittedPayload(sub),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// checkSubmittable reports whether the outcome is already decided by the
// current row: a replay of the applied key succeeds, anything else on a
// closed milestone fails.
func checkSubmittable(status model.MilestoneStatus, prevKey *string, sub submission.Submission) (bool, error) {
	if prevKey != nil {
		if *prevKey == sub.Key {
			return true, nil
		}
		return true, fmt.Errorf("%w: %s", submission.ErrMilestoneConflict, sub.MilestoneID)
	}
	if status != model.MilestonePending && status != model.MilestoneInProgress {
		return true, fmt.Errorf("%w: %s is %s", submission.ErrMilestoneNotOpen, sub.MilestoneID, status)
	}
	return false, nil
}

// SubmittedPayload builds the milestone.submitted event of a submission.
func SubmittedPayload(sub submission.Submission) mqcontracts.MilestoneSubmittedPayload {
	files := make([]mqcontracts.SubmittedFile, 0, len(sub.Files))
	for _, f := range sub.Files {
		files = append(files, mqcontracts.SubmittedFile{
			ID:      f.ID,
			Name:    f.Name,
			Size:    f.Size,
			Type:    f.Type,
			Version: f.Version,
		})
	}
	return mqcontracts.MilestoneSubmittedPayload{
		EventID:     sub.Key,
		ProjectID:   sub.ProjectID,
		MilestoneID: sub.MilestoneID,
		Files:       files,
		Notes:       sub.Notes,
		SubmittedAt: sub.SubmittedAt.UTC().Truncate(time.Microsecond),
		TraceID:     sub.TraceID,
	}
}
