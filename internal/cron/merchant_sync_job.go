package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/tripnest/tripnest-backend/pkg/db/models"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/metrics"
)

const (
	merchantSyncJobName     = "merchant-account-sync"
	defaultSyncStaleAfter   = 6 * time.Hour
	defaultSyncBatchSize    = 100
	merchantSyncItemSynced  = "synced"
	merchantSyncItemFailed  = "failed"
	merchantSyncItemChanged = "status_changed"
)

type staleAccountLister interface {
	ListStale(ctx context.Context, syncedBefore time.Time, limit int) ([]models.MerchantAccount, error)
}

type accountRefresher interface {
	RefreshAccount(ctx context.Context, account *models.MerchantAccount) (*models.MerchantAccount, error)
}

type MerchantSyncJobParams struct {
	Logger     *logger.Logger
	Accounts   staleAccountLister
	Refresher  accountRefresher
	Metrics    *metrics.CronJobMetrics
	StaleAfter time.Duration
	BatchSize  int
}

// NewMerchantSyncJob refreshes settlement accounts whose local mirror has
// not been synced for StaleAfter.
func NewMerchantSyncJob(params MerchantSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("merchant account repository required")
	}
	if params.Refresher == nil {
		return nil, fmt.Errorf("account refresher required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultSyncStaleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSyncBatchSize
	}
	return &merchantSyncJob{
		logg:       params.Logger,
		accounts:   params.Accounts,
		refresher:  params.Refresher,
		metrics:    params.Metrics,
		staleAfter: staleAfter,
		batchSize:  batch,
		now:        time.Now,
	}, nil
}

type merchantSyncJob struct {
	logg       *logger.Logger
	accounts   staleAccountLister
	refresher  accountRefresher
	metrics    *metrics.CronJobMetrics
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

func (j *merchantSyncJob) Name() string { return merchantSyncJobName }

func (j *merchantSyncJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	stale, err := j.accounts.ListStale(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale merchant accounts: %w", err)
	}

	var (
		errs    error
		synced  int
		failed  int
		changed int
	)
	for i := range stale {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		account := &stale[i]
		before := account.Status
		itemCtx := j.logg.WithFields(ctx, map[string]any{
			"merchant_id": account.MerchantID.String(),
			"account_id":  account.ProcessorAccountID,
		})
		refreshed, err := j.refresher.RefreshAccount(itemCtx, account)
		if err != nil {
			failed++
			j.logg.Warn(j.logg.WithField(itemCtx, "error", err.Error()), "merchant account sync failed")
			errs = multierr.Append(errs, fmt.Errorf("sync %s: %w", account.ProcessorAccountID, err))
			continue
		}
		synced++
		if refreshed != nil && refreshed.Status != before {
			changed++
			j.logg.Info(j.logg.WithFields(itemCtx, map[string]any{
				"status_before": before,
				"status_after":  refreshed.Status,
			}), "merchant account status changed")
		}
	}

	j.metrics.AddItems(merchantSyncJobName, merchantSyncItemSynced, synced)
	j.metrics.AddItems(merchantSyncJobName, merchantSyncItemFailed, failed)
	j.metrics.AddItems(merchantSyncJobName, merchantSyncItemChanged, changed)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"stale":   len(stale),
		"synced":  synced,
		"failed":  failed,
		"changed": changed,
	}), "merchant account sync complete")
	return errs
}
