// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package importer implements the Template Importer (spec component N):
// it parses external YAML workflow documents into domain.Flow values and
// saves them through the resource store, assigning each a fresh id so an
// imported template never collides with (or overwrites) an existing flow.
//
// Grounded on original_source/cthulu-backend's templates module (index
// entry only in the retrieved set; the per-file-errors-don't-abort-the-
// batch semantics come directly from spec.md §4.M) and the teacher's
// two-stage HJSON-to-struct loader shape in internal/config/loader.go,
// applied to YAML via gopkg.in/yaml.v3 instead of hjson-go.
package importer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/saltyskip/cthulu/internal/domain"
)

// FlowSaver is the seam into the resource store; *store.Store[domain.Flow]
// satisfies it without this package importing internal/store directly.
type FlowSaver interface {
	Save(flow domain.Flow) error
}

// template is the on-disk shape of one importable YAML workflow
// document: everything a Flow needs except the fields the importer
// itself must assign (id, enabled, timestamps), per spec.md §4.M.
type template struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Nodes       []domain.Node `yaml:"nodes"`
	Edges       []domain.Edge `yaml:"edges"`
}

// Importer parses and saves workflow templates.
type Importer struct {
	store FlowSaver
}

// New creates an Importer saving through store.
func New(store FlowSaver) *Importer {
	return &Importer{store: store}
}

// ImportOne parses a single YAML document and saves the resulting Flow.
func (imp *Importer) ImportOne(data []byte) (domain.Flow, error) {
	var tmpl template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return domain.Flow{}, fmt.Errorf("importer: parse: %w", err)
	}

	now := time.Now()
	flow := domain.Flow{
		ID:          uuid.New().String(),
		Name:        tmpl.Name,
		Description: tmpl.Description,
		Enabled:     false,
		Version:     1,
		Nodes:       tmpl.Nodes,
		Edges:       tmpl.Edges,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := imp.store.Save(flow); err != nil {
		return domain.Flow{}, fmt.Errorf("importer: save %s: %w", flow.Name, err)
	}
	return flow, nil
}

// FileError pairs one batch member's name with the error importing it.
type FileError struct {
	Name string
	Err  error
}

// BatchResult is the outcome of importing a directory's worth of
// templates: one save per successful parse, plus every per-file error,
// per spec.md §4.M ("parse failure of one file does not abort the
// batch").
type BatchResult struct {
	Imported []domain.Flow
	Errors   []FileError
}

// ImportBatch imports every (name, data) pair, collecting failures
// instead of stopping at the first one.
func (imp *Importer) ImportBatch(files map[string][]byte) BatchResult {
	var result BatchResult
	for name, data := range files {
		flow, err := imp.ImportOne(data)
		if err != nil {
			result.Errors = append(result.Errors, FileError{Name: name, Err: err})
			continue
		}
		result.Imported = append(result.Imported, flow)
	}
	return result
}
