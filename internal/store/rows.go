package store

import (
	"context"

	"server/internal/sqlinline"
)

// MarkRowsRunning flips model rows to running when any of their jobs is
// claimed. Best-effort, batched by distinct row id.
func (s *Store) MarkRowsRunning(ctx context.Context, rowIDs []string) error {
	if len(rowIDs) == 0 {
		return nil
	}
	_, err := s.sql.Exec(ctx, sqlinline.QMarkRowsRunning, rowIDs)
	return err
}

// MarkVariantRowsRunning is the variant-row counterpart of MarkRowsRunning.
func (s *Store) MarkVariantRowsRunning(ctx context.Context, variantRowIDs []string) error {
	if len(variantRowIDs) == 0 {
		return nil
	}
	_, err := s.sql.Exec(ctx, sqlinline.QMarkVariantRowsRunning, variantRowIDs)
	return err
}

// RecomputeRowStatus recomputes the derived aggregate status for the parent
// of a job. Either rowID or variantRowID may be empty.
func (s *Store) RecomputeRowStatus(ctx context.Context, rowID, variantRowID string) error {
	if variantRowID != "" {
		_, err := s.sql.Exec(ctx, sqlinline.QUpdateVariantRowStatus, variantRowID)
		return err
	}
	if rowID != "" {
		_, err := s.sql.Exec(ctx, sqlinline.QUpdateModelRowStatus, rowID)
		return err
	}
	return nil
}
