package nodejs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/openfroyo/scripthost/pkg/telemetry"
)

// TargetDir returns the directory an archive is extracted into: a sibling
// of the archive named after it without its final suffix.
func TargetDir(archive string) (string, error) {
	base := filepath.Base(archive)
	ext := filepath.Ext(base)
	if ext == "" || ext == base {
		return "", fmt.Errorf("archive %s has no suffix", archive)
	}
	return filepath.Join(filepath.Dir(archive), strings.TrimSuffix(base, ext)), nil
}

// Extractor materializes project archives on disk.
type Extractor struct {
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// NewExtractor creates an extractor. A nil tel disables instrumentation.
func NewExtractor(tel *telemetry.Telemetry) *Extractor {
	if tel == nil {
		tel = telemetry.NewNop()
	}
	return &Extractor{
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("extractor"),
	}
}

// Extract replaces the target directory of archive with the archive's
// content and returns the target. Any existing target is removed first.
func (x *Extractor) Extract(ctx context.Context, archive string) (string, error) {
	ctx, span := x.tel.Tracer.StartExtractionSpan(ctx, archive)
	defer span.End()
	timer := telemetry.NewTimer()

	target, entries, err := x.extract(archive)
	if err != nil {
		x.tel.Metrics.RecordExtraction("failure", entries, timer.Duration())
		telemetry.RecordError(span, err)
		telemetry.FromContext(ctx).WithError(err).Error("extraction failed")
		return "", err
	}

	x.tel.Metrics.RecordExtraction("success", entries, timer.Duration())
	_ = x.tel.Events.PublishProjectExtracted(archive, target, entries, timer.Duration())
	telemetry.RecordSuccess(span)
	x.logger.WithFields(map[string]interface{}{
		"archive": archive,
		"target":  target,
		"entries": entries,
	}).Debug("extracted project")

	return target, nil
}

func (x *Extractor) extract(archive string) (string, int, error) {
	target, err := TargetDir(archive)
	if err != nil {
		return "", 0, newError(KindIO, "cannot derive extraction directory", err)
	}

	r, err := zip.OpenReader(archive)
	if err != nil {
		return "", 0, newError(KindIO, "failed to open archive", err).WithIdentifier(archive)
	}
	defer r.Close()

	if err := os.RemoveAll(target); err != nil {
		return "", 0, newError(KindIO, "failed to remove extraction directory", err).WithIdentifier(archive)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", 0, newError(KindIO, "failed to create extraction directory", err).WithIdentifier(archive)
	}

	var n int
	for _, f := range r.File {
		if err := writeEntry(target, f); err != nil {
			return "", n, newError(KindIO, "failed to extract "+f.Name, err).WithIdentifier(archive)
		}
		n++
	}

	return target, n, nil
}

func writeEntry(target string, f *zip.File) error {
	dest := filepath.Join(target, filepath.FromSlash(f.Name))
	rel, err := filepath.Rel(target, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("entry %s escapes %s", f.Name, target)
	}

	if f.FileInfo().IsDir() {
		if info, err := os.Lstat(dest); err == nil && !info.IsDir() {
			if err := os.Remove(dest); err != nil {
				return err
			}
		}
		return os.MkdirAll(dest, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
