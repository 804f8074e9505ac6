package app

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/rs/zerolog"
)

// TokenRefresher is implemented by voice.Service.
type TokenRefresher interface {
	RefreshSessionToken(ctx context.Context) (model.Token, error)
}

// RefreshWithRetry refreshes the session token, retrying with backoff.
// Cancellations and rejections by the server are not retried.
func RefreshWithRetry(ctx context.Context, r TokenRefresher, attempts uint, delay time.Duration, logger zerolog.Logger) (model.Token, error) {
	if attempts == 0 {
		attempts = 1
	}
	var tok model.Token
	err := retry.Do(func() error {
		var err error
		tok, err = r.RefreshSessionToken(ctx)
		if err != nil {
			if apperrors.IsCancellation(err) || errors.Is(err, apperrors.ErrDomainRejected) {
				return retry.Unrecoverable(err)
			}
			return err
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Msg("token refresh failed, retrying")
		}),
	)
	if err != nil {
		return model.Token{}, err
	}
	return tok, nil
}
