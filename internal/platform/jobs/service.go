package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"sapayroll/internal/domain/payroll"
	"sapayroll/internal/platform/querier"
)

const JobDraftGeneration = "payroll_draft_generation"

// DraftGenerator is satisfied by *payroll.Service.
type DraftGenerator interface {
	PracticesWithActiveEmployees(ctx context.Context) ([]string, error)
	GetRunByKey(ctx context.Context, practiceID string, period payroll.Period) (payroll.Run, error)
	GenerateRun(ctx context.Context, practiceID string, month, year int) (payroll.RunSummary, error)
}

type Service struct {
	DB       querier.Querier
	Drafts   DraftGenerator
	Interval time.Duration
	now      func() time.Time
	queue    chan job
}

type job struct {
	Type       string
	PracticeID string
	Run        func(context.Context) (any, error)
}

func New(db querier.Querier, drafts DraftGenerator, interval time.Duration) *Service {
	return &Service{
		DB:       db,
		Drafts:   drafts,
		Interval: interval,
		now:      time.Now,
		queue:    make(chan job, 128),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.Interval > 0 && s.Drafts != nil {
		go s.scheduleDrafts(ctx, s.Interval)
	}
}

func (s *Service) Enqueue(jobType, practiceID string, run func(context.Context) (any, error)) bool {
	select {
	case s.queue <- job{Type: jobType, PracticeID: practiceID, Run: run}:
		return true
	default:
		slog.Warn("job queue full", "jobType", jobType, "practiceId", practiceID)
		return false
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "practiceId", j.PracticeID, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if s.DB != nil {
		if err := s.DB.QueryRow(ctx, `
      INSERT INTO job_runs (practice_id, job_type, status)
      VALUES (NULLIF($1,'')::uuid,$2,$3)
      RETURNING id
    `, j.PracticeID, j.Type, "running").Scan(&runID); err != nil {
			slog.Warn("job run insert failed", "err", err)
		}
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		slog.Warn("job details marshal failed", "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if _, updErr := s.DB.Exec(ctx, `
      UPDATE job_runs
      SET status = $1, details_json = $2, completed_at = now()
      WHERE id = $3
    `, status, detailsJSON, runID); updErr != nil {
			slog.Warn("job run update failed", "err", updErr)
		}
	}
	return details, err
}

func (s *Service) scheduleDrafts(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EnqueueDrafts(ctx)
		}
	}
}

// EnqueueDrafts queues a draft run for the month before now for every
// practice with active employees. It returns the number of jobs queued.
func (s *Service) EnqueueDrafts(ctx context.Context) int {
	practices, err := s.Drafts.PracticesWithActiveEmployees(ctx)
	if err != nil {
		slog.Warn("draft scheduler practice lookup failed", "err", err)
		return 0
	}
	month, year := PreviousPeriod(s.now())
	queued := 0
	for _, practiceID := range practices {
		practice := practiceID
		if s.Enqueue(JobDraftGeneration, practice, func(ctx context.Context) (any, error) {
			return s.generateDraft(ctx, practice, month, year)
		}) {
			queued++
		}
	}
	return queued
}

// generateDraft only creates missing runs. A run that already exists may
// have been validated by an operator and must not be recalculated here.
func (s *Service) generateDraft(ctx context.Context, practiceID string, month, year int) (any, error) {
	existing, err := s.Drafts.GetRunByKey(ctx, practiceID, payroll.Period{Month: month, Year: year})
	switch {
	case err == nil && existing.Status == payroll.RunStatusCommitted:
		return map[string]any{"month": month, "year": year, "runId": existing.ID, "skipped": "committed"}, nil
	case err == nil:
		return map[string]any{"month": month, "year": year, "runId": existing.ID, "skipped": "exists"}, nil
	case !errors.Is(err, payroll.ErrRunNotFound):
		return map[string]any{"month": month, "year": year}, err
	}

	summary, err := s.Drafts.GenerateRun(ctx, practiceID, month, year)
	if errors.Is(err, payroll.ErrRunCommitted) {
		return map[string]any{"month": month, "year": year, "skipped": "committed"}, nil
	}
	if err != nil {
		return map[string]any{"month": month, "year": year}, err
	}
	return map[string]any{
		"runId":         summary.Run.ID,
		"month":         month,
		"year":          year,
		"employeeCount": summary.Run.Totals.EmployeeCount,
	}, nil
}

// PreviousPeriod returns the calendar month before t.
func PreviousPeriod(t time.Time) (month, year int) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	prev := first.AddDate(0, -1, 0)
	return int(prev.Month()), prev.Year()
}
