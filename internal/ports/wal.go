package ports

import "github.com/ghalamif/AegisAgent/internal/domain"

type WALEntryID uint64

type WAL interface {
	Append(obs *domain.Observation) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, obs *domain.Observation) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
