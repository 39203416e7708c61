package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/Luna-leo/seriesd/internal/bridge"
	"github.com/Luna-leo/seriesd/internal/merge"
	"github.com/Luna-leo/seriesd/internal/parse"
	"github.com/Luna-leo/seriesd/internal/registry"
	"github.com/Luna-leo/seriesd/pkg/models"
)

// Pool for gzip readers so repeated compressed uploads reuse the
// decompression state instead of reallocating it.
var gzipReaderPool sync.Pool

const maxDecompressedSize = 1 << 30 // 1GB

// maxReportedWarnings caps the diagnostics echoed in an import response.
const maxReportedWarnings = 100

// DatasetHandler handles CSV upload, listing and persistence of
// registered datasets.
type DatasetHandler struct {
	registry        *registry.Registry
	bridge          bridge.Bridge
	defaultEncoding string
	tieBreak        merge.TieBreak
	logger          zerolog.Logger

	totalRequests atomic.Int64
	totalRows     atomic.Int64
	totalErrors   atomic.Int64
}

// DatasetHandlerConfig holds dataset handler configuration.
type DatasetHandlerConfig struct {
	Registry        *registry.Registry
	Bridge          bridge.Bridge
	DefaultEncoding string
	TieBreak        string // "filename-desc" or "import-order"
	Logger          zerolog.Logger
}

// NewDatasetHandler creates a DatasetHandler.
func NewDatasetHandler(cfg *DatasetHandlerConfig) *DatasetHandler {
	tieBreak := merge.TieBreakFilenameDesc
	if cfg.TieBreak == "import-order" {
		tieBreak = merge.TieBreakImportOrder
	}
	return &DatasetHandler{
		registry:        cfg.Registry,
		bridge:          cfg.Bridge,
		defaultEncoding: cfg.DefaultEncoding,
		tieBreak:        tieBreak,
		logger:          cfg.Logger.With().Str("component", "dataset-handler").Logger(),
	}
}

// RegisterRoutes registers dataset API routes.
func (h *DatasetHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/api/v1/datasets", h.handleImport)
	app.Get("/api/v1/datasets", h.handleList)
	app.Get("/api/v1/datasets/stats", h.Stats)
	app.Get("/api/v1/datasets/:id", h.handleGet)
	app.Get("/api/v1/datasets/:id/metadata", h.handleMetadata)
	app.Delete("/api/v1/datasets/:id", h.handleDelete)
	app.Post("/api/v1/datasets/:id/persist", h.handlePersist)

	h.logger.Info().Msg("Dataset routes registered")
}

// ImportResponse is the result of one upload.
type ImportResponse struct {
	Reference          *models.DataReference `json:"reference"`
	Rows               int                   `json:"rows"`
	Params             int                   `json:"params"`
	DuplicatesResolved int                   `json:"duplicates_resolved,omitempty"`
	Warnings           []models.Diagnostic   `json:"warnings,omitempty"`
	WarningsTruncated  bool                  `json:"warnings_truncated,omitempty"`
	FileErrors         []string              `json:"file_errors,omitempty"`
	DurationMs         int64                 `json:"duration_ms"`
}

// handleImport accepts one or more CSV files as multipart/form-data
// (field "files", or legacy "file") and registers the parsed, merged
// table. Files ending in .gz or starting with the gzip magic bytes are
// decompressed first.
func (h *DatasetHandler) handleImport(c *fiber.Ctx) error {
	h.totalRequests.Add(1)
	start := time.Now()

	form, err := c.MultipartForm()
	if err != nil {
		h.totalErrors.Add(1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "expected multipart/form-data upload",
		})
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		fileHeaders = form.File["file"]
	}
	if len(fileHeaders) == 0 {
		h.totalErrors.Add(1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no file uploaded: use multipart/form-data with field name 'files'",
		})
	}

	encoding := c.Query("encoding", h.defaultEncoding)

	inputs := make([]merge.FileInput, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		data, name, err := h.readUpload(fh)
		if err != nil {
			h.totalErrors.Add(1)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("read %s: %v", fh.Filename, err),
			})
		}
		inputs = append(inputs, merge.FileInput{Name: name, Data: data, Encoding: encoding})
	}

	resp, status, err := h.importFiles(c, inputs)
	if err != nil {
		h.totalErrors.Add(1)
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	resp.DurationMs = time.Since(start).Milliseconds()
	h.totalRows.Add(int64(resp.Rows))

	h.logger.Info().
		Str("reference_id", resp.Reference.ID).
		Int("files", len(inputs)).
		Int("rows", resp.Rows).
		Int("params", resp.Params).
		Int64("duration_ms", resp.DurationMs).
		Msg("Imported dataset")
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// importFiles parses and registers the uploads: a lone file keeps its
// table exactly as parsed, several files go through the merge pipeline.
func (h *DatasetHandler) importFiles(c *fiber.Ctx, inputs []merge.FileInput) (*ImportResponse, int, error) {
	var (
		table      *models.Table
		name       string
		warnings   []models.Diagnostic
		duplicates int
		fileErrors []string
	)

	if len(inputs) == 1 {
		res, err := parse.Parse(inputs[0].Data, inputs[0].Name, parse.Options{
			Encoding: inputs[0].Encoding,
		})
		if err != nil {
			return nil, fiber.StatusUnprocessableEntity, err
		}
		table = res.Table
		name = inputs[0].Name
		warnings = res.Diagnostics
	} else {
		res, err := merge.MergeFiles(c.Context(), inputs, &merge.Options{TieBreak: h.tieBreak})
		if err != nil {
			if errors.Is(err, merge.ErrCancelled) {
				return nil, fiber.StatusRequestTimeout, err
			}
			return nil, fiber.StatusUnprocessableEntity, err
		}
		table = res.Table
		name = res.Table.SourceFile
		warnings = res.Warnings
		duplicates = res.DuplicatesResolved
		for _, fe := range res.FileErrors {
			fileErrors = append(fileErrors, fe.Error())
		}
	}

	ref, err := h.registry.Register(name, table)
	if err != nil {
		return nil, fiber.StatusUnprocessableEntity, err
	}

	truncated := false
	if len(warnings) > maxReportedWarnings {
		warnings = warnings[:maxReportedWarnings]
		truncated = true
	}
	return &ImportResponse{
		Reference:          ref,
		Rows:               table.NumRows(),
		Params:             len(table.Params),
		DuplicatesResolved: duplicates,
		Warnings:           warnings,
		WarningsTruncated:  truncated,
		FileErrors:         fileErrors,
	}, 0, nil
}

// readUpload reads one multipart file, transparently decompressing gzip.
func (h *DatasetHandler) readUpload(fh *multipart.FileHeader) ([]byte, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}

	name := fh.Filename
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		data, err = decompressGzip(data)
		if err != nil {
			return nil, "", fmt.Errorf("decompress gzip: %w", err)
		}
		name = strings.TrimSuffix(name, ".gz")
	}
	return data, name, nil
}

// decompressGzip inflates data using a pooled reader.
func decompressGzip(data []byte) ([]byte, error) {
	var reader *gzip.Reader
	var err error
	if pooled := gzipReaderPool.Get(); pooled != nil {
		reader = pooled.(*gzip.Reader)
		err = reader.Reset(bytes.NewReader(data))
	} else {
		reader, err = gzip.NewReader(bytes.NewReader(data))
	}
	if err != nil {
		if reader != nil {
			gzipReaderPool.Put(reader)
		}
		return nil, err
	}

	result, err := io.ReadAll(io.LimitReader(reader, maxDecompressedSize+1))
	if err != nil {
		gzipReaderPool.Put(reader)
		return nil, err
	}
	if len(result) > maxDecompressedSize {
		gzipReaderPool.Put(reader)
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedSize)
	}

	if err := reader.Close(); err != nil {
		return nil, err
	}
	gzipReaderPool.Put(reader)
	return result, nil
}

func (h *DatasetHandler) handleList(c *fiber.Ctx) error {
	refs := h.registry.List()
	return c.JSON(fiber.Map{
		"count":    len(refs),
		"datasets": refs,
	})
}

func (h *DatasetHandler) handleGet(c *fiber.Ctx) error {
	ref, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return notFoundOr500(c, err)
	}
	return c.JSON(ref)
}

func (h *DatasetHandler) handleMetadata(c *fiber.Ctx) error {
	meta, err := h.registry.GetMetadata(c.Params("id"))
	if err != nil {
		return notFoundOr500(c, err)
	}
	return c.JSON(meta)
}

func (h *DatasetHandler) handleDelete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.registry.Forget(id); err != nil {
		return notFoundOr500(c, err)
	}
	return c.JSON(fiber.Map{"deleted": id})
}

func (h *DatasetHandler) handlePersist(c *fiber.Ctx) error {
	id := c.Params("id")
	keys, err := h.registry.Persist(c.Context(), id, h.bridge)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, registry.ErrDataUnavailable):
			return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(fiber.Map{
		"reference_id":   id,
		"partition_keys": keys,
		"partitions":     len(keys),
	})
}

// Stats returns handler counters.
func (h *DatasetHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"total_requests": h.totalRequests.Load(),
		"total_rows":     h.totalRows.Load(),
		"total_errors":   h.totalErrors.Load(),
	})
}

func notFoundOr500(c *fiber.Ctx, err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
