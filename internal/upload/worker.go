package upload

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"milestonehub/internal/model"
	"milestonehub/pkg/metrics"
	"milestonehub/pkg/util"
)

// Outcome is how a worker run ended.
type Outcome string

const (
	OutcomeUploaded  Outcome = "uploaded"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
)

type WorkerConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Worker drives one file through its transfer and reports into the registry.
type Worker struct {
	file      model.UploadedFile
	registry  *Registry
	transport Transport
	cfg       WorkerConfig
	logger    *zap.Logger
}

func NewWorker(file model.UploadedFile, registry *Registry, transport Transport, cfg WorkerConfig, logger *zap.Logger) *Worker {
	return &Worker{
		file:      file,
		registry:  registry,
		transport: transport,
		cfg:       cfg,
		logger:    logger.With(zap.String("file_id", file.ID), zap.String("file_name", file.Name)),
	}
}

// Run transfers the file until it is stored, rejected or ctx is cancelled.
// Cancellation leaves the record untouched.
func (w *Worker) Run(ctx context.Context) (Outcome, error) {
	var offset int64
	attempts := 0
	withdrawn := false

	for {
		attempts++
		err := w.transport.Transfer(ctx, w.file, offset, func(acked int64) {
			if withdrawn || acked <= offset {
				return
			}
			offset = acked
			if errors.Is(w.registry.ApplyProgress(w.file.ID, percentOf(acked, w.file.Size)), ErrFileNotFound) {
				withdrawn = true
			}
		})

		if withdrawn {
			w.logger.Debug("Upload stopped, file withdrawn", zap.Int64("offset", offset))
			return OutcomeCancelled, nil
		}
		if ctx.Err() != nil {
			w.logger.Debug("Upload cancelled", zap.Int64("offset", offset))
			return OutcomeCancelled, nil
		}

		if err == nil {
			if err := w.registry.MarkUploaded(w.file.ID); err != nil {
				if errors.Is(err, ErrFileNotFound) {
					return OutcomeCancelled, nil
				}
				return OutcomeRejected, err
			}
			w.logger.Info("Upload completed",
				zap.Int64("size", w.file.Size),
				zap.Int("attempts", attempts),
			)
			return OutcomeUploaded, nil
		}

		retryable, errType := util.IsRetryableError(err)
		if retryable && attempts <= w.cfg.MaxRetries {
			metrics.IncrementTransferRetry(errType)
			w.logger.Warn("Transfer failed, resuming",
				zap.Int("attempt", attempts),
				zap.Int64("offset", offset),
				zap.String("error_type", errType),
				zap.Error(err),
			)
			if !sleep(ctx, w.cfg.RetryBackoff*time.Duration(attempts)) {
				return OutcomeCancelled, nil
			}
			continue
		}

		terr := &TransferError{FileID: w.file.ID, Attempts: attempts, Err: err}
		if markErr := w.registry.MarkRejected(w.file.ID, terr.Error()); markErr != nil && errors.Is(markErr, ErrFileNotFound) {
			return OutcomeCancelled, nil
		}
		w.logger.Error("Upload rejected",
			zap.Int("attempts", attempts),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		return OutcomeRejected, terr
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
