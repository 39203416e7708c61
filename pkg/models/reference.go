package models

// StorageLocation says where a reference's backing data lives.
type StorageLocation string

const (
	// LocationMemory means the table is held only by the in-process cache.
	LocationMemory StorageLocation = "in-memory"
	// LocationExternal means the table has been persisted through the
	// persistence bridge and can be reloaded after eviction.
	LocationExternal StorageLocation = "external-store"
)

// DataReference is the registry entry for one registered table. Immutable
// after creation except StorageLocation and PartitionKeys, which are set
// once when the persistence bridge accepts the data. There is no
// external-store -> in-memory transition; reloading produces a fresh
// in-memory copy that is cache-managed independently.
type DataReference struct {
	ID            string          `json:"id"`
	FileName      string          `json:"file_name"`
	SourceID      string          `json:"source_id"`
	TotalRows     int             `json:"total_rows"`
	TimeRange     TimeRange       `json:"time_range"`
	Location      StorageLocation `json:"storage_location"`
	PartitionKeys []string        `json:"partition_keys,omitempty"`
}

// ParamStats holds per-parameter statistics computed over non-missing
// values only.
type ParamStats struct {
	ID     ParamID `json:"id"`
	Name   string  `json:"name"`
	Unit   string  `json:"unit"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Count  int     `json:"count"` // non-missing samples
}

// Metadata is derived once at registration and never mutated afterward.
type Metadata struct {
	ReferenceID    string       `json:"reference_id"`
	Params         []ParamStats `json:"params"`
	TimestampCount int          `json:"timestamp_count"`
	Start          int64        `json:"start"`
	End            int64        `json:"end"`
	// IntervalMS is the mean delta over the first <=10 timestamp gaps;
	// 0 when the table has fewer than 2 samples.
	IntervalMS float64 `json:"interval_ms"`
}
