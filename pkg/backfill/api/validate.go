package api

import (
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apierr"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
)

const dateLayout = "2006-01-02"

// validateJobConfig enforces the admin API's strict input validation: date
// formats, range ordering, and (for data-collection) that endDate lies
// strictly before today. These checks happen before any service call, so
// validation errors never reach BackfillService.
func validateJobConfig(cfg types.JobConfig) error {
	if cfg.JobType != types.JobTypeDataCollection && cfg.JobType != types.JobTypeAnalyticsGenerate {
		return apierr.Newf(apierr.CodeInvalidJobType, "jobType must be %q or %q", types.JobTypeDataCollection, types.JobTypeAnalyticsGenerate)
	}

	start, err := time.Parse(dateLayout, cfg.StartDate)
	if err != nil {
		return apierr.Newf(apierr.CodeValidationError, "startDate must be YYYY-MM-DD: %v", err)
	}
	end, err := time.Parse(dateLayout, cfg.EndDate)
	if err != nil {
		return apierr.Newf(apierr.CodeValidationError, "endDate must be YYYY-MM-DD: %v", err)
	}
	if end.Before(start) {
		return apierr.New(apierr.CodeInvalidDateRange, "endDate must not be before startDate")
	}

	if cfg.JobType == types.JobTypeDataCollection {
		today := time.Now().UTC().Truncate(24 * time.Hour)
		if !end.Before(today) {
			return apierr.New(apierr.CodeInvalidDateRange, "endDate must be strictly before today for data-collection jobs")
		}
	}

	if cfg.RateLimitOverride != nil {
		if err := validateRateLimitConfig(*cfg.RateLimitOverride, false); err != nil {
			return err
		}
	}

	return nil
}

// validateRateLimitConfig checks numeric bounds. partial allows zero
// values to mean "leave unchanged" for a PATCH-style update; a full
// config (e.g. a rateLimitOverride) requires every field set.
func validateRateLimitConfig(cfg types.RateLimitConfig, partial bool) error {
	if !partial || cfg.MaxRequestsPerMinute != 0 {
		if cfg.MaxRequestsPerMinute < 1 {
			return apierr.New(apierr.CodeValidationError, "maxRequestsPerMinute must be >= 1")
		}
	}
	if !partial || cfg.MaxConcurrent != 0 {
		if cfg.MaxConcurrent < 1 {
			return apierr.New(apierr.CodeValidationError, "maxConcurrent must be >= 1")
		}
	}
	if !partial || cfg.MinDelayMS != 0 {
		if cfg.MinDelayMS < 0 {
			return apierr.New(apierr.CodeValidationError, "minDelayMs must be >= 0")
		}
	}
	if !partial || cfg.MaxDelayMS != 0 {
		if cfg.MaxDelayMS < 0 {
			return apierr.New(apierr.CodeValidationError, "maxDelayMs must be >= 0")
		}
	}
	if !partial || cfg.BackoffMultiplier != 0 {
		if cfg.BackoffMultiplier < 1 {
			return apierr.New(apierr.CodeValidationError, "backoffMultiplier must be >= 1")
		}
	}
	if cfg.MaxDelayMS != 0 && cfg.MinDelayMS != 0 && cfg.MaxDelayMS < cfg.MinDelayMS {
		return apierr.New(apierr.CodeValidationError, "maxDelayMs must be >= minDelayMs")
	}
	return nil
}

func nonEmpty(name, value string) error {
	if value == "" {
		return apierr.Newf(apierr.CodeValidationError, "%s must not be empty", name)
	}
	return nil
}
