package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Luna-leo/seriesd/internal/bridge"
	"github.com/Luna-leo/seriesd/internal/engine"
	"github.com/Luna-leo/seriesd/internal/registry"
	"github.com/Luna-leo/seriesd/internal/storage"
	"github.com/klauspost/compress/gzip"
)

const sampleCSV = "id,T1,P1\n" +
	"name,Temperature,Pressure\n" +
	"unit,degC,kPa\n" +
	"2024-03-15T12:00:00Z,20.5,101.3\n" +
	"2024-03-15T12:00:01Z,20.6,101.4\n" +
	"2024-03-15T12:00:02Z,20.7,101.5\n"

func newTestApp(t *testing.T) (*fiber.App, *registry.Registry) {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	backend, err := storage.NewLocalBackend(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	br := bridge.NewParquetBridge(backend, "snappy", logger)
	reg := registry.New(1<<20, nil, logger)
	eng := engine.New(reg, br, logger)

	server := NewServer(DefaultServerConfig(), logger)
	server.RegisterRoutes()
	app := server.GetApp()

	NewDatasetHandler(&DatasetHandlerConfig{
		Registry:        reg,
		Bridge:          br,
		DefaultEncoding: "auto",
		TieBreak:        "filename-desc",
		Logger:          logger,
	}).RegisterRoutes(app)
	NewQueryHandler(eng, logger).RegisterRoutes(app)
	NewCacheHandler(reg, nil, logger).RegisterRoutes(app)

	return app, reg
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func importCSV(t *testing.T, app *fiber.App, files map[string][]byte) ImportResponse {
	t.Helper()
	body, contentType := multipartBody(t, files)
	req, _ := http.NewRequest("POST", "/api/v1/datasets", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import status = %d, body %s", resp.StatusCode, raw)
	}

	var out ImportResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode import response: %v", err)
	}
	return out
}

func TestImportSingleCSV(t *testing.T) {
	app, _ := newTestApp(t)

	out := importCSV(t, app, map[string][]byte{"sensor.csv": []byte(sampleCSV)})
	if out.Rows != 3 || out.Params != 2 {
		t.Errorf("rows/params = %d/%d, want 3/2", out.Rows, out.Params)
	}
	if out.Reference == nil || out.Reference.ID == "" {
		t.Fatal("import response has no reference")
	}
	if out.Reference.SourceID != "sensor" {
		t.Errorf("SourceID = %q, want sensor", out.Reference.SourceID)
	}
}

func TestImportGzippedCSV(t *testing.T) {
	app, _ := newTestApp(t)

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write([]byte(sampleCSV)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	out := importCSV(t, app, map[string][]byte{"sensor.csv.gz": gz.Bytes()})
	if out.Rows != 3 {
		t.Errorf("rows = %d, want 3", out.Rows)
	}
	if out.Reference.FileName != "sensor.csv" {
		t.Errorf("FileName = %q, want sensor.csv (gz suffix stripped)", out.Reference.FileName)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	app, _ := newTestApp(t)

	body, contentType := multipartBody(t, map[string][]byte{
		"bad.csv": []byte("only one line"),
	})
	req, _ := http.NewRequest("POST", "/api/v1/datasets", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestQueryEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	out := importCSV(t, app, map[string][]byte{"sensor.csv": []byte(sampleCSV)})

	qbody, _ := json.Marshal(map[string]interface{}{
		"reference_id": out.Reference.ID,
		"start":        out.Reference.TimeRange.Start,
		"end":          out.Reference.TimeRange.End,
		"params":       []string{"T1"},
	})
	req, _ := http.NewRequest("POST", "/api/v1/query", bytes.NewReader(qbody))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, body %s", resp.StatusCode, raw)
	}

	var qr engine.Response
	if err := json.Unmarshal(raw, &qr); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if len(qr.Timestamps) != 3 {
		t.Errorf("timestamps = %d, want 3", len(qr.Timestamps))
	}
	if len(qr.Series) != 1 || qr.Series[0].Unit != "degC" {
		t.Errorf("series = %+v", qr.Series)
	}
}

func TestQueryEndpointWithoutRange(t *testing.T) {
	app, _ := newTestApp(t)
	out := importCSV(t, app, map[string][]byte{"sensor.csv": []byte(sampleCSV)})

	// No start/end: the whole series comes back.
	qbody, _ := json.Marshal(map[string]interface{}{
		"reference_id": out.Reference.ID,
	})
	req, _ := http.NewRequest("POST", "/api/v1/query", bytes.NewReader(qbody))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, body %s", resp.StatusCode, raw)
	}

	var qr engine.Response
	if err := json.Unmarshal(raw, &qr); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if len(qr.Timestamps) != 3 {
		t.Errorf("timestamps = %d, want all 3 rows", len(qr.Timestamps))
	}
	if qr.Meta.TimeRange == nil {
		t.Fatal("meta time_range missing")
	}
	if qr.Meta.TimeRange.Start != out.Reference.TimeRange.Start ||
		qr.Meta.TimeRange.End != out.Reference.TimeRange.End {
		t.Errorf("meta range = %+v, want %+v", qr.Meta.TimeRange, out.Reference.TimeRange)
	}

	// A lone endpoint is rejected rather than treated as zero.
	qbody, _ = json.Marshal(map[string]interface{}{
		"reference_id": out.Reference.ID,
		"start":        int64(0),
	})
	req, _ = http.NewRequest("POST", "/api/v1/query", bytes.NewReader(qbody))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("lone start status = %d, want 400", resp.StatusCode)
	}
}

func TestQueryUnknownReference(t *testing.T) {
	app, _ := newTestApp(t)

	qbody := []byte(`{"reference_id":"missing","start":0,"end":1}`)
	req, _ := http.NewRequest("POST", "/api/v1/query", bytes.NewReader(qbody))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPersistAndDeleteEndpoints(t *testing.T) {
	app, _ := newTestApp(t)
	out := importCSV(t, app, map[string][]byte{"sensor.csv": []byte(sampleCSV)})
	id := out.Reference.ID

	req, _ := http.NewRequest("POST", fmt.Sprintf("/api/v1/datasets/%s/persist", id), nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("persist status = %d, body %s", resp.StatusCode, raw)
	}
	var pr struct {
		PartitionKeys []string `json:"partition_keys"`
	}
	if err := json.Unmarshal(raw, &pr); err != nil {
		t.Fatalf("decode persist response: %v", err)
	}
	if len(pr.PartitionKeys) != 1 || pr.PartitionKeys[0] != "sensor/2024-03" {
		t.Errorf("partition keys = %v", pr.PartitionKeys)
	}

	req, _ = http.NewRequest("DELETE", "/api/v1/datasets/"+id, nil)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest("GET", "/api/v1/datasets/"+id, nil)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestCacheEndpoints(t *testing.T) {
	app, reg := newTestApp(t)
	out := importCSV(t, app, map[string][]byte{"sensor.csv": []byte(sampleCSV)})

	req, _ := http.NewRequest("GET", "/api/v1/cache", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var usage registry.Usage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	if usage.UsedBytes != 48 { // 3 rows x 2 params x 8
		t.Errorf("UsedBytes = %d, want 48", usage.UsedBytes)
	}

	req, _ = http.NewRequest("POST", "/api/v1/cache/clear", nil)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("clear status = %d", resp.StatusCode)
	}
	if got := reg.CacheUsage().UsedBytes; got != 0 {
		t.Errorf("UsedBytes after clear = %d, want 0", got)
	}

	// The memory-only dataset is now gone for good.
	qbody, _ := json.Marshal(map[string]interface{}{
		"reference_id": out.Reference.ID,
		"start":        int64(0),
		"end":          int64(1),
	})
	req, _ = http.NewRequest("POST", "/api/v1/query", bytes.NewReader(qbody))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Errorf("query after clear status = %d, want 410", resp.StatusCode)
	}
}
