// Package bridge is the persistence boundary: a narrow save/load/list
// contract over long-term columnar storage. The engine core never
// assumes what sits behind it; this package's implementation writes one
// Parquet object per monthly partition onto a storage.Backend.
package bridge

import (
	"context"

	"github.com/Luna-leo/seriesd/pkg/models"
)

// Bridge is the persistence contract injected into the registry and the
// window query engine. Save is idempotent: re-saving a partition key
// overwrites deterministically. Load honors an optional time-range
// filter. Implementations must not retry internally; retry policy
// belongs to the caller.
type Bridge interface {
	// Save persists the table under the given partition key.
	Save(ctx context.Context, table *models.Table, partitionKey string) error

	// Load reads one partition back. A non-nil timeRange restricts the
	// result to samples inside the closed range.
	Load(ctx context.Context, partitionKey string, timeRange *models.TimeRange) (*models.Table, error)

	// ListPartitions returns the partition keys stored under a group
	// key (a source id), sorted ascending.
	ListPartitions(ctx context.Context, groupKey string) ([]string, error)
}
