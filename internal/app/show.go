package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"smart-harvester/internal/storage"
)

type sampleLister interface {
	ListRecentSamples(ctx context.Context, limit int) ([]storage.PriceRecord, error)
}

type attemptLister interface {
	ListRecentAttempts(ctx context.Context, limit int) ([]storage.AttemptRecord, error)
}

// Show prints recent price samples or harvest attempts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Attempts {
		return a.showAttempts(ctx, store, opts.Limit)
	}
	return a.showSamples(ctx, store, opts.Limit)
}

func (a *App) showSamples(ctx context.Context, store sampleLister, limit int) error {
	samples, err := store.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tPair\tPrice\tSource")

	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			sample.ObservedAt.UTC().Format(time.RFC3339),
			sample.Pair,
			formatDecimal(sample.Price, 4),
			sample.Source,
		)
	}

	return writer.Flush()
}

func (a *App) showAttempts(ctx context.Context, store attemptLister, limit int) error {
	attempts, err := store.ListRecentAttempts(ctx, limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(os.Stdout, "no harvest attempts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Submitted (UTC)\tAttempt\tPair\tPrice\tOutcome\tTx Hash\tReason")

	for _, attempt := range attempts {
		txHash := ""
		if attempt.TxHash != nil {
			txHash = *attempt.TxHash
		}
		reason := ""
		if attempt.FailureReason != nil {
			reason = sanitizeInline(*attempt.FailureReason)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			attempt.SubmittedAt.UTC().Format(time.RFC3339),
			attempt.AttemptID,
			attempt.Pair,
			formatDecimal(attempt.Price, 4),
			attempt.Outcome,
			txHash,
			reason,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
