// Package scheduler drives the background billing pipeline: anchoring ended
// sessions, generating monthly invoices and pushing pending settlements.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hunnyEscape/gaming-cafe-billing/internal/clock"
	invoicedomain "github.com/hunnyEscape/gaming-cafe-billing/internal/invoice/domain"
	obsmetrics "github.com/hunnyEscape/gaming-cafe-billing/internal/observability/metrics"
	proofdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/proof/domain"
	sessiondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/session/domain"
	settlementdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	ProofSvc      proofdomain.Service
	InvoiceSvc    invoicedomain.Service
	SettlementSvc settlementdomain.Service
	Config        Config `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	proofSvc      proofdomain.Service
	invoiceSvc    invoicedomain.Service
	settlementSvc settlementdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.ProofSvc == nil || p.InvoiceSvc == nil || p.SettlementSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		proofSvc:      p.ProofSvc,
		invoiceSvc:    p.InvoiceSvc,
		settlementSvc: p.SettlementSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// Deadlines are soft: the next tick picks the work back up.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"billing_tasks", func(ctx context.Context) error {
			return s.runJob(ctx, "billing_tasks", s.cfg.JobTimeout, s.BillingTasksJob)
		}},
		{"monthly_invoices", func(ctx context.Context) error {
			return s.runJob(ctx, "monthly_invoices", s.cfg.JobTimeout, s.MonthlyInvoicesJob)
		}},
		{"settlement", func(ctx context.Context) error {
			return s.runJob(ctx, "settlement", s.cfg.JobTimeout, s.SettlementJob)
		}},
	}

	for _, job := range jobs {
		err = errors.Join(err, job.Run(parent))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// BillingTasksJob drains the billing task outbox. A task is processed once
// its session entered the anchor pipeline, even when the ledger submission
// itself errored: delivery and outcome are tracked separately, and the anchor
// entry guard keeps redelivered tasks harmless.
func (s *Scheduler) BillingTasksJob(ctx context.Context) error {
	var tasks []sessiondomain.BillingTask
	err := s.db.WithContext(ctx).
		Where("status = ?", sessiondomain.TaskStatusPending).
		Order("created_at ASC").
		Limit(s.cfg.BatchSize).
		Find(&tasks).Error
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	processed := 0
	var jobErr error
	for _, task := range tasks {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}

		_, anchorErr := s.proofSvc.Anchor(ctx, task.SessionID)
		status := sessiondomain.TaskStatusProcessed
		message := ""
		if anchorErr != nil {
			status = sessiondomain.TaskStatusError
			message = anchorErr.Error()
			s.log.Error("billing task failed",
				zap.String("task_id", task.ID),
				zap.String("session_id", task.SessionID),
				zap.Error(anchorErr),
			)
		}

		res := s.db.WithContext(ctx).Model(&sessiondomain.BillingTask{}).
			Where("id = ? AND status = ?", task.ID, sessiondomain.TaskStatusPending).
			Updates(map[string]any{
				"status":        status,
				"error_message": message,
				"updated_at":    s.clock.Now(),
			})
		if res.Error != nil {
			jobErr = errors.Join(jobErr, res.Error)
			continue
		}
		if status == sessiondomain.TaskStatusProcessed && res.RowsAffected == 1 {
			processed++
		}
	}

	obsmetrics.Scheduler().AddBatchProcessed("billing_tasks", "tasks", processed)
	if processed > 0 {
		s.log.Info("billing tasks processed", zap.Int("count", processed))
	}
	return jobErr
}

// MonthlyInvoicesJob runs the prior-month aggregation. It fires every tick;
// the period pre-check inside the invoice service makes repeats a no-op.
func (s *Scheduler) MonthlyInvoicesJob(ctx context.Context) error {
	report, err := s.invoiceSvc.GenerateMonthly(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	if report.AlreadyGenerated {
		return nil
	}

	obsmetrics.Scheduler().AddBatchProcessed("monthly_invoices", "invoices", report.Invoiced)
	if report.Failed > 0 {
		s.log.Warn("monthly invoice run had failures",
			zap.String("period", report.Period),
			zap.Int("failed", report.Failed),
		)
	}
	return nil
}

// staleSettlingAfter bounds how long an invoice may sit in settling with no
// provider draft before the sweep reclaims it.
const staleSettlingAfter = 15 * time.Minute

// SettlementJob pushes pending invoices to the payment ledger. Per-invoice
// failures are recorded on the invoice and do not stop the batch.
func (s *Scheduler) SettlementJob(ctx context.Context) error {
	if _, err := s.settlementSvc.RequeueStuck(ctx, staleSettlingAfter); err != nil {
		return err
	}

	pending, err := s.settlementSvc.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	submitted := 0
	var jobErr error
	for _, invoice := range pending {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}

		result, err := s.settlementSvc.Settle(ctx, invoice.ID)
		switch {
		case err == nil:
			if result.Status == invoicedomain.InvoiceStatusSettling || result.Status == invoicedomain.InvoiceStatusPaid {
				submitted++
			}
		case errors.Is(err, settlementdomain.ErrNotSettleable):
			// Claimed by a concurrent worker or resolved by a webhook.
		case errors.Is(err, settlementdomain.ErrMissingPaymentSetup):
			s.log.Warn("invoice has no payment setup",
				zap.String("invoice_id", invoice.ID),
				zap.String("member_id", invoice.MemberID),
			)
		default:
			jobErr = errors.Join(jobErr, err)
		}
	}

	obsmetrics.Scheduler().AddBatchProcessed("settlement", "invoices", submitted)
	if submitted > 0 {
		s.log.Info("invoices submitted for settlement", zap.Int("count", submitted))
	}
	return jobErr
}
