package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
)

const clampAttempts = 3

// CommitAll commits every line or none of them. Lines committed before a
// failure are released again.
func CommitAll(ctx context.Context, s Store, lines []domain.StockLine) error {
	for i, line := range lines {
		if err := s.Commit(ctx, line); err != nil {
			if errRelease := ReleaseAll(ctx, s, lines[:i]); errRelease != nil {
				return errors.Join(
					fmt.Errorf("commit %s/%d: %w", line.ProductID, line.Size, err),
					errRelease)
			}
			return fmt.Errorf("commit %s/%d: %w", line.ProductID, line.Size, err)
		}
	}
	return nil
}

// ReleaseAll attempts every release and returns the joined failures.
func ReleaseAll(ctx context.Context, s Store, lines []domain.StockLine) error {
	var errs []error
	for _, line := range lines {
		if err := s.Release(ctx, line); err != nil {
			errs = append(errs, fmt.Errorf("release %s/%d: %w", line.ProductID, line.Size, err))
		}
	}
	return errors.Join(errs...)
}

// CommitUpTo commits as much of line as is available and returns the granted
// quantity. A concurrent commit between the read and the write is retried.
func CommitUpTo(ctx context.Context, s Store, line domain.StockLine) (int, error) {
	for attempt := 0; attempt < clampAttempts; attempt++ {
		granted, err := s.Reserve(ctx, line.ProductID, line.Size, line.Qty)
		if err != nil {
			return 0, err
		}
		if granted == 0 {
			return 0, nil
		}

		err = s.Commit(ctx, domain.StockLine{ProductID: line.ProductID, Size: line.Size, Qty: granted})
		if err == nil {
			return granted, nil
		}
		if !errors.Is(err, ErrInsufficientStock) {
			return 0, err
		}
	}
	return 0, nil
}

// CommitClamped runs CommitUpTo for every line and returns what was actually
// taken. Shortfalls are logged.
func CommitClamped(ctx context.Context, s Store, log *slog.Logger, lines []domain.StockLine) ([]domain.StockLine, []domain.LineAdjustment, error) {
	var committed []domain.StockLine
	var shortfalls []domain.LineAdjustment
	for _, line := range lines {
		granted, err := CommitUpTo(ctx, s, line)
		if err != nil && !errors.Is(err, ErrProductNotFound) {
			if errRelease := ReleaseAll(ctx, s, committed); errRelease != nil {
				log.ErrorContext(ctx, "failed to release clamped commit", slog.Any("error", errRelease))
			}
			return nil, nil, err
		}
		if granted < line.Qty {
			log.WarnContext(ctx, "inventory shortfall",
				slog.String("product_id", line.ProductID),
				slog.Int("size", line.Size),
				slog.Int("requested", line.Qty),
				slog.Int("granted", granted))
			shortfalls = append(shortfalls, domain.LineAdjustment{
				ProductID: line.ProductID,
				Size:      line.Size,
				Requested: line.Qty,
				Granted:   granted,
			})
		}
		if granted > 0 {
			committed = append(committed, domain.StockLine{ProductID: line.ProductID, Size: line.Size, Qty: granted})
		}
	}
	return committed, shortfalls, nil
}
