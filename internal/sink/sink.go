// Package sink writes a comparison report as JSON, Markdown and CSV
// artifacts to a directory or an S3 bucket.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/haasonsaas/recallbench/internal/eval"
)

// Artifact file names.
const (
	ReportJSON     = "report.json"
	ReportMarkdown = "report.md"
	ResultsCSV     = "results.csv"
)

// Artifact is one rendered file.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Publisher delivers rendered artifacts and returns their locations.
type Publisher interface {
	Publish(ctx context.Context, artifacts []Artifact) ([]string, error)
}

// Render produces every artifact for r.
func Render(r *eval.Report) ([]Artifact, error) {
	renderers := []struct {
		name, contentType string
		write             func(*bytes.Buffer) error
	}{
		{ReportJSON, "application/json", func(b *bytes.Buffer) error { return r.WriteJSON(b) }},
		{ReportMarkdown, "text/markdown; charset=utf-8", func(b *bytes.Buffer) error { return eval.WriteMarkdown(b, r) }},
		{ResultsCSV, "text/csv; charset=utf-8", func(b *bytes.Buffer) error { return eval.WriteCSV(b, r) }},
	}
	out := make([]Artifact, 0, len(renderers))
	for _, rd := range renderers {
		var buf bytes.Buffer
		if err := rd.write(&buf); err != nil {
			return nil, fmt.Errorf("sink: render %s: %w", rd.name, err)
		}
		out = append(out, Artifact{Name: rd.name, ContentType: rd.contentType, Data: buf.Bytes()})
	}
	return out, nil
}

// Dir writes artifacts into a local directory.
type Dir struct {
	Path string
}

var _ Publisher = Dir{}

// Publish writes each artifact atomically and returns the file paths.
func (d Dir) Publish(_ context.Context, artifacts []Artifact) ([]string, error) {
	dir := d.Path
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", dir, err)
	}
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		dest := filepath.Join(dir, a.Name)
		if err := writeFileAtomic(dest, a.Data); err != nil {
			return paths, err
		}
		paths = append(paths, dest)
	}
	sort.Strings(paths)
	return paths, nil
}

func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("sink: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("sink: write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sink: close %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("sink: rename %s: %w", dest, err)
	}
	return nil
}

// Write renders r and hands the artifacts to every publisher in order.
func Write(ctx context.Context, r *eval.Report, publishers ...Publisher) ([]string, error) {
	artifacts, err := Render(r)
	if err != nil {
		return nil, err
	}
	var locations []string
	for _, p := range publishers {
		locs, err := p.Publish(ctx, artifacts)
		locations = append(locations, locs...)
		if err != nil {
			return locations, err
		}
	}
	return locations, nil
}
