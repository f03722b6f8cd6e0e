package domain

// RowStatus is the derived status of a parent aggregate row. It is a pure
// function of the children jobs: partial while any child is non-terminal,
// done when any child succeeded, error otherwise.
type RowStatus string

const (
	RowStatusPartial RowStatus = "partial"
	RowStatusRunning RowStatus = "running"
	RowStatusDone    RowStatus = "done"
	RowStatusError   RowStatus = "error"
)

// DeriveRowStatus computes the aggregate status from child job counts.
func DeriveRowStatus(total, terminal, succeeded int) RowStatus {
	if total == 0 {
		return RowStatusError
	}
	if terminal < total {
		return RowStatusPartial
	}
	if succeeded > 0 {
		return RowStatusDone
	}
	return RowStatusError
}

// OutputImage is one persisted artifact of a finalized job. Exactly one row
// exists per succeeded job.
type OutputImage struct {
	ID           string
	JobID        string
	RowID        string
	VariantRowID string
	StorageKey   string
	ThumbnailKey string
	SourceURL    string
	Width        int
	Height       int
	IsGenerated  bool
}
