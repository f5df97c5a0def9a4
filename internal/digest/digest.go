// Package digest projects a cycle's newly-created records into the dated
// digest artifact and owns its serialization.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ChannelDigest/internal/domain"
)

// Build assembles the digest for a given date from processed records.
// Records that were permanently skipped carry no summary and are left out.
func Build(records []domain.ProcessedRecord, date time.Time) domain.Digest {
	items := make([]domain.DigestItem, 0, len(records))
	for _, rec := range records {
		if !rec.Summarized() {
			continue
		}
		items = append(items, domain.DigestItem{
			VideoID:     rec.VideoID,
			Title:       rec.Title,
			Summary:     rec.Summary,
			Link:        rec.Link,
			PublishedAt: rec.PublishedAt,
		})
	}
	return domain.Digest{
		Date:  date.UTC().Format("2006-01-02"),
		Count: len(items),
		Items: items,
	}
}

// FromRun projects the digest for a finished cycle.
func FromRun(run *domain.CycleRun) domain.Digest {
	if run == nil {
		return Build(nil, time.Now())
	}
	return Build(run.Records, run.StartedAt)
}

// FileWriter persists digests as pretty-printed JSON files, one per date.
type FileWriter struct {
	dir string
}

// NewFileWriter stores digests under dir, creating it on first publish.
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{dir: dir}
}

// Publish writes the digest to <dir>/digest-<date>.json, replacing any
// earlier artifact for the same date.
func (w *FileWriter) Publish(_ context.Context, d domain.Digest) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("digest dir: %w", err)
	}

	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("digest-%s.json", d.Date))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write digest %s: %w", path, err)
	}
	return nil
}
