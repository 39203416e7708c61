package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/rs/zerolog"

	"github.com/Luna-leo/seriesd/internal/storage"
	"github.com/Luna-leo/seriesd/pkg/models"
)

const (
	timeColumn  = "time"
	metaKeyName = "display_name"
	metaKeyUnit = "unit"

	parquetExt = ".parquet"

	readBatchSize = 64 * 1024
)

// sharedAllocator is reused across bridge operations; the Go allocator
// is safe for concurrent use.
var sharedAllocator = memory.NewGoAllocator()

// ParquetBridge implements Bridge with one Parquet object per partition
// key on a storage backend.
type ParquetBridge struct {
	backend     storage.Backend
	compression compress.Compression
	logger      zerolog.Logger
}

// NewParquetBridge creates a bridge writing Parquet onto the given
// backend. compression is one of snappy, gzip, zstd (default snappy).
func NewParquetBridge(backend storage.Backend, compression string, logger zerolog.Logger) *ParquetBridge {
	var comp compress.Compression
	switch strings.ToLower(compression) {
	case "gzip":
		comp = compress.Codecs.Gzip
	case "zstd":
		comp = compress.Codecs.Zstd
	default:
		comp = compress.Codecs.Snappy
	}
	return &ParquetBridge{
		backend:     backend,
		compression: comp,
		logger:      logger.With().Str("component", "parquet-bridge").Logger(),
	}
}

// Save writes the table as one Parquet object under the partition key.
// Re-saving the same key overwrites the object, which keeps save
// idempotent.
func (b *ParquetBridge) Save(ctx context.Context, table *models.Table, partitionKey string) error {
	data, err := b.encode(table)
	if err != nil {
		return fmt.Errorf("encode partition %s: %w", partitionKey, err)
	}
	if err := b.backend.Write(ctx, partitionKey+parquetExt, data); err != nil {
		return fmt.Errorf("write partition %s: %w", partitionKey, err)
	}
	b.logger.Debug().
		Str("partition", partitionKey).
		Int("rows", table.NumRows()).
		Int("size_bytes", len(data)).
		Msg("Saved partition")
	return nil
}

// Load reads one partition back, optionally restricted to a closed time
// range.
func (b *ParquetBridge) Load(ctx context.Context, partitionKey string, timeRange *models.TimeRange) (*models.Table, error) {
	data, err := b.backend.Read(ctx, partitionKey+parquetExt)
	if err != nil {
		return nil, fmt.Errorf("read partition %s: %w", partitionKey, err)
	}
	table, err := b.decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("decode partition %s: %w", partitionKey, err)
	}
	if timeRange != nil {
		table = FilterRange(table, *timeRange)
	}
	return table, nil
}

// ListPartitions lists the partition keys stored for a source id.
func (b *ParquetBridge) ListPartitions(ctx context.Context, groupKey string) ([]string, error) {
	objects, err := b.backend.List(ctx, groupKey+"/")
	if err != nil {
		return nil, fmt.Errorf("list partitions for %s: %w", groupKey, err)
	}
	var keys []string
	for _, obj := range objects {
		if strings.HasSuffix(obj, parquetExt) {
			keys = append(keys, strings.TrimSuffix(obj, parquetExt))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *ParquetBridge) schema(table *models.Table) *arrow.Schema {
	fields := make([]arrow.Field, 0, 1+len(table.Params))
	fields = append(fields, arrow.Field{
		Name: timeColumn,
		Type: arrow.FixedWidthTypes.Timestamp_ms,
	})
	for i := range table.Params {
		p := &table.Params[i]
		fields = append(fields, arrow.Field{
			Name:     string(p.ID),
			Type:     arrow.PrimitiveTypes.Float64,
			Nullable: true,
			Metadata: arrow.NewMetadata(
				[]string{metaKeyName, metaKeyUnit},
				[]string{p.Name, p.Unit},
			),
		})
	}
	return arrow.NewSchema(fields, nil)
}

// encode renders the table into Parquet bytes. Missing values become
// Parquet nulls so they round-trip as NaN rather than as zeros.
func (b *ParquetBridge) encode(table *models.Table) ([]byte, error) {
	schema := b.schema(table)
	n := table.NumRows()

	arrays := make([]arrow.Array, 0, 1+len(table.Params))
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	tsBuilder := array.NewTimestampBuilder(sharedAllocator,
		arrow.FixedWidthTypes.Timestamp_ms.(*arrow.TimestampType))
	defer tsBuilder.Release()
	tsValues := make([]arrow.Timestamp, n)
	for i, ts := range table.Timestamps {
		tsValues[i] = arrow.Timestamp(ts)
	}
	tsBuilder.AppendValues(tsValues, nil)
	arrays = append(arrays, tsBuilder.NewArray())

	for i := range table.Params {
		fb := array.NewFloat64Builder(sharedAllocator)
		for _, v := range table.Params[i].Values {
			if models.IsMissing(v) {
				fb.AppendNull()
			} else {
				fb.Append(v)
			}
		}
		arrays = append(arrays, fb.NewArray())
		fb.Release()
	}

	record := array.NewRecord(schema, arrays, int64(n))
	defer record.Release()

	var buf bytes.Buffer
	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(b.compression),
		parquet.WithDictionaryDefault(false),
		parquet.WithStats(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, &buf, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("write record batch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// decode reads Parquet bytes back into a table, mapping nulls to NaN
// and recovering display names and units from the field metadata.
func (b *ParquetBridge) decode(ctx context.Context, data []byte) (*models.Table, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf,
		pqarrow.ArrowReadProperties{BatchSize: readBatchSize}, sharedAllocator)
	if err != nil {
		return nil, fmt.Errorf("create arrow reader: %w", err)
	}

	schema, err := fr.Schema()
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	table := &models.Table{}
	paramCols := make([]int, 0, len(schema.Fields()))
	for idx, field := range schema.Fields() {
		if field.Name == timeColumn {
			continue
		}
		name, unit := field.Name, ""
		if i := field.Metadata.FindKey(metaKeyName); i >= 0 {
			name = field.Metadata.Values()[i]
		}
		if i := field.Metadata.FindKey(metaKeyUnit); i >= 0 {
			unit = field.Metadata.Values()[i]
		}
		table.Params = append(table.Params, models.Parameter{
			ID:   models.ParamID(field.Name),
			Name: name,
			Unit: unit,
		})
		paramCols = append(paramCols, idx)
	}

	timeIdx := schema.FieldIndices(timeColumn)
	if len(timeIdx) == 0 {
		return nil, fmt.Errorf("parquet file has no %q column", timeColumn)
	}

	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create record reader: %w", err)
	}
	defer rr.Release()

	for {
		rec, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record batch: %w", err)
		}
		if rec == nil || rec.NumRows() == 0 {
			break
		}
		if err := b.appendRecord(table, rec, timeIdx[0], paramCols); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func (b *ParquetBridge) appendRecord(table *models.Table, rec arrow.Record, timeIdx int, paramCols []int) error {
	tsCol, ok := rec.Column(timeIdx).(*array.Timestamp)
	if !ok {
		return fmt.Errorf("%q column is %s, want timestamp", timeColumn, rec.Column(timeIdx).DataType())
	}
	rows := int(rec.NumRows())
	for i := 0; i < rows; i++ {
		table.Timestamps = append(table.Timestamps, int64(tsCol.Value(i)))
	}

	for p, colIdx := range paramCols {
		col, ok := rec.Column(colIdx).(*array.Float64)
		if !ok {
			return fmt.Errorf("column %q is %s, want float64",
				table.Params[p].ID, rec.Column(colIdx).DataType())
		}
		values := table.Params[p].Values
		for i := 0; i < rows; i++ {
			if col.IsNull(i) {
				values = append(values, models.Missing())
			} else {
				values = append(values, col.Value(i))
			}
		}
		table.Params[p].Values = values
	}
	return nil
}
