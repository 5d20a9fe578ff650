// Package export writes caption run results to their on-disk formats. The
// four formats are independent; a batch export attempts every requested
// format and reports the outcome of each separately.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"glimpse/internal/logging"
	"glimpse/internal/results"
	"glimpse/internal/services"
)

// Supported format names. Config validation accepts exactly this set.
const (
	FormatTxtIndividual = "txt_individual"
	FormatCSV           = "csv"
	FormatJSON          = "json"
	FormatTxtBatch      = "txt_batch"
)

// SchemaVersion tags JSON output so downstream consumers can detect layout
// changes.
const SchemaVersion = "1.0"

// Exporter writes caption records to disk in the configured formats.
type Exporter struct {
	logger           *slog.Logger
	absoluteCSVPaths bool
}

// Option customizes the exporter.
type Option func(*Exporter)

// WithAbsoluteCSVPaths disables CSV path relativization; every row carries
// the absolute image path.
func WithAbsoluteCSVPaths() Option {
	return func(e *Exporter) {
		e.absoluteCSVPaths = true
	}
}

func New(logger *slog.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Exporter{logger: logging.NewComponentLogger(logger, "export")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IndividualTxt writes one <imagebase>.txt per record into dir, containing
// exactly the caption text. Records without a caption are skipped and a
// failed write never stops the remaining files. Returns the number of files
// written.
func (e *Exporter) IndividualTxt(records []results.CaptionRecord, dir string) int {
	count := 0
	for _, rec := range records {
		if rec.Path == "" || rec.Caption == "" {
			continue
		}

		stem := strings.TrimSuffix(filepath.Base(rec.Path), filepath.Ext(rec.Path))
		target := filepath.Join(dir, stem+".txt")
		if err := os.WriteFile(target, []byte(rec.Caption), 0o644); err != nil {
			e.logger.Error("individual caption write failed",
				logging.String("image", filepath.Base(rec.Path)),
				logging.Error(err))
			continue
		}
		count++
	}

	e.logger.Info("exported individual caption files", logging.Int("files", count))
	return count
}

// CSV writes one row per record with columns filepath, filename, caption,
// timestamp, success. When relativeTo is non-empty, paths beneath it are
// written relative to it; everything else stays absolute.
func (e *Exporter) CSV(records []results.CaptionRecord, outputPath, relativeTo string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"filepath", "filename", "caption", "timestamp", "success"}); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		if rec.Path == "" {
			continue
		}
		row := []string{
			displayPath(rec.Path, relativeTo),
			filepath.Base(rec.Path),
			rec.Caption,
			rowTimestamp(rec.GeneratedAt),
			strconv.FormatBool(rec.Success),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("finish csv file: %w", err)
	}

	e.logger.Info("exported csv", logging.String("path", outputPath))
	return nil
}

type jsonResult struct {
	Filepath string `json:"filepath"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
	Success  bool   `json:"success"`
}

type jsonDocument struct {
	Metadata    map[string]any `json:"metadata"`
	GeneratedAt string         `json:"generated_at"`
	TotalImages int            `json:"total_images"`
	Results     []jsonResult   `json:"results"`
}

// JSON writes a single document carrying caller metadata, the export
// timestamp, and one entry per record. The metadata always carries a schema
// version tag; a caller-supplied version wins.
func (e *Exporter) JSON(records []results.CaptionRecord, outputPath string, metadata map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	doc := jsonDocument{
		Metadata:    make(map[string]any, len(metadata)+1),
		GeneratedAt: time.Now().Format(time.RFC3339),
		TotalImages: len(records),
		Results:     make([]jsonResult, 0, len(records)),
	}
	for k, v := range metadata {
		doc.Metadata[k] = v
	}
	if _, ok := doc.Metadata["version"]; !ok {
		doc.Metadata["version"] = SchemaVersion
	}

	for _, rec := range records {
		if rec.Path == "" {
			continue
		}
		doc.Results = append(doc.Results, jsonResult{
			Filepath: rec.Path,
			Filename: filepath.Base(rec.Path),
			Caption:  rec.Caption,
			Success:  rec.Success,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export document: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write json file: %w", err)
	}

	e.logger.Info("exported json", logging.String("path", outputPath))
	return nil
}

// TxtBatch writes all captions into one file: filename line, caption line,
// blank line between entries and none after the last. Records without a
// caption are skipped.
func (e *Exporter) TxtBatch(records []results.CaptionRecord, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	var b strings.Builder
	written := 0
	for _, rec := range records {
		if rec.Path == "" || rec.Caption == "" {
			continue
		}
		if written > 0 {
			b.WriteString("\n")
		}
		b.WriteString(filepath.Base(rec.Path))
		b.WriteString("\n")
		b.WriteString(rec.Caption)
		b.WriteString("\n")
		written++
	}

	if err := os.WriteFile(outputPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write batch file: %w", err)
	}

	e.logger.Info("exported combined text file",
		logging.String("path", outputPath),
		logging.Int("entries", written))
	return nil
}

// ExportAll attempts every requested format independently and maps each
// format name to whether it succeeded. One failing format never prevents
// the others. Aggregate files land beside basePath as
// <base>_captions.<ext>; individual text files land in basePath's
// directory.
func (e *Exporter) ExportAll(records []results.CaptionRecord, formats []string, basePath string, metadata map[string]any) map[string]bool {
	dir := filepath.Dir(basePath)
	stem := strings.TrimSuffix(filepath.Base(basePath), filepath.Ext(basePath))

	relativeTo := dir
	if e.absoluteCSVPaths {
		relativeTo = ""
	}

	status := make(map[string]bool, len(formats))
	for _, format := range formats {
		switch format {
		case FormatTxtIndividual:
			status[format] = e.IndividualTxt(records, dir) > 0
		case FormatCSV:
			target := filepath.Join(dir, stem+"_captions.csv")
			status[format] = e.report(format, target, e.CSV(records, target, relativeTo))
		case FormatJSON:
			target := filepath.Join(dir, stem+"_captions.json")
			status[format] = e.report(format, target, e.JSON(records, target, metadata))
		case FormatTxtBatch:
			target := filepath.Join(dir, stem+"_captions.txt")
			status[format] = e.report(format, target, e.TxtBatch(records, target))
		default:
			e.logger.Warn("unknown export format", logging.String("format", format))
			status[format] = false
		}
	}
	return status
}

func (e *Exporter) report(format, target string, err error) bool {
	if err != nil {
		err = services.Wrap(services.ErrExport, services.StageExport, format, "", err)
		e.logger.Error("export format failed",
			logging.String("format", format),
			logging.String("path", target),
			logging.Error(err))
		return false
	}
	return true
}

// displayPath renders path relative to base when it falls beneath it.
func displayPath(path, base string) string {
	if base == "" {
		return path
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

func rowTimestamp(at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	return at.Format(time.RFC3339)
}
