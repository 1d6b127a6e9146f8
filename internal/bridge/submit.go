package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/ledger"
)

// submit drives one instruction through the bounded retry policy: a fresh
// blockhash per attempt, stale-blockhash and transient errors retried with
// backoff, insufficient-funds surfaced immediately. A successful submission
// is polled until confirmation; a confirmation timeout is classified
// "unknown" and never resubmitted from here.
func (b *Bridge) submit(ctx context.Context, accounts []ledger.Address, payload []byte) (string, error) {
	var lastErr error

	for attempt := 0; attempt < b.cfg.SubmitAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, b.cfg.RetryBackoff<<(attempt-1)); err != nil {
				return "", err
			}
		}

		blockhash, err := b.client.RecentBlockhash(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		txRef, err := b.client.Submit(ctx, ledger.Transaction{
			Blockhash: blockhash,
			Accounts:  accounts,
			Payload:   payload,
		})
		switch {
		case err == nil:
			return b.confirm(ctx, txRef)
		case errors.Is(err, ledger.ErrStaleBlockhash):
			// Nothing applied; retry with a fresh handle.
			b.logger.WarnContext(ctx, "bridge: stale blockhash, retrying",
				slog.Int("attempt", attempt+1),
			)
			lastErr = err
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return txRef, &domain.LedgerSubmissionError{
				TxRef:  txRef,
				Status: "not_applied",
				Err:    err,
			}
		default:
			lastErr = err
		}
	}

	return "", &domain.LedgerSubmissionError{
		Status:    "not_applied",
		Retryable: true,
		Err:       fmt.Errorf("bridge: %d attempts exhausted: %w", b.cfg.SubmitAttempts, lastErr),
	}
}

// confirm polls a submitted transaction until it is final or the
// confirmation window closes. Timeouts distinguish "definitely not applied"
// from "unknown": only the latter forbids resubmission without a prior
// status poll.
func (b *Bridge) confirm(ctx context.Context, txRef string) (string, error) {
	deadline := time.Now().Add(b.cfg.ConfirmTimeout)

	for {
		status, err := b.client.Status(ctx, txRef)
		if err == nil {
			switch status {
			case ledger.TxStatusConfirmed:
				return txRef, nil
			case ledger.TxStatusFailed:
				return txRef, &domain.LedgerSubmissionError{
					TxRef:  txRef,
					Status: "rejected",
					Err:    fmt.Errorf("bridge: transaction %s failed on ledger", txRef),
				}
			}
		}

		if time.Now().After(deadline) {
			return txRef, &domain.LedgerSubmissionError{
				TxRef:  txRef,
				Status: "unknown",
				Err:    fmt.Errorf("bridge: transaction %s unconfirmed after %s", txRef, b.cfg.ConfirmTimeout),
			}
		}
		if err := sleep(ctx, b.cfg.ConfirmInterval); err != nil {
			return txRef, err
		}
	}
}

// submissionStatus extracts the classification of a failed submission.
func submissionStatus(err error) string {
	var subErr *domain.LedgerSubmissionError
	if errors.As(err, &subErr) {
		return subErr.Status
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
