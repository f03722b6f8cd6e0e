package store

import (
	"context"
	"fmt"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// HasOutputForJob reports whether an artifact row already exists for the job
// in the table its target routes to.
func (s *Store) HasOutputForJob(ctx context.Context, job *domain.Job) (bool, error) {
	query := sqlinline.QHasGeneratedImageForJob
	if job.IsVariant() {
		query = sqlinline.QHasVariantImageForJob
	}
	row := s.sql.QueryRow(ctx, query, job.ID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("store: output exists: %w", err)
	}
	return exists, nil
}

// SiblingImageSources lists remote source URLs of images already attached to
// the same model row for the filename-prefix duplicate check.
func (s *Store) SiblingImageSources(ctx context.Context, rowID string) ([]string, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSiblingImageSources, rowID)
	if err != nil {
		return nil, fmt.Errorf("store: sibling sources: %w", err)
	}
	defer rows.Close()
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// InsertOutputImage persists exactly one artifact row for a finalized job,
// routed to the variant-image table when the job targets a variant row. The
// insert is a no-op on job_id conflict; the returned bool reports whether a
// row was written.
func (s *Store) InsertOutputImage(ctx context.Context, job *domain.Job, img domain.OutputImage) (bool, error) {
	if job.IsVariant() {
		row := s.sql.QueryRow(ctx, sqlinline.QInsertVariantRowImage,
			job.ID, job.VariantRowID, img.StorageKey, img.ThumbnailKey,
			img.SourceURL, img.Width, img.Height)
		var id string
		if err := row.Scan(&id); err != nil {
			if infra.IsNoRows(err) {
				return false, nil
			}
			return false, fmt.Errorf("store: insert variant image: %w", err)
		}
		// is_generated is set explicitly in the insert; re-read it to catch
		// a trigger or default clobbering the flag.
		check := s.sql.QueryRow(ctx, sqlinline.QVariantImageIsGenerated, id)
		var generated bool
		if err := check.Scan(&generated); err == nil && !generated {
			return true, fmt.Errorf("store: variant image %s persisted with is_generated=false", id)
		}
		return true, nil
	}
	row := s.sql.QueryRow(ctx, sqlinline.QInsertGeneratedImage,
		job.ID, job.RowID, img.StorageKey, img.ThumbnailKey,
		img.SourceURL, img.Width, img.Height)
	var id string
	if err := row.Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: insert generated image: %w", err)
	}
	return true, nil
}
