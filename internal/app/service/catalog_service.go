package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/platform/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CatalogDocument is one YAML problem definition.
type CatalogDocument struct {
	Name string
	Data []byte
}

type CatalogSource interface {
	Documents(ctx context.Context) ([]CatalogDocument, error)
}

func isYAML(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// DirSource reads *.yaml / *.yml files from a directory, sorted by name.
type DirSource struct {
	Dir string
}

func (d DirSource) Documents(context.Context) ([]CatalogDocument, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read problem dir %s: %w", d.Dir, err)
	}
	var docs []CatalogDocument
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.Dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read problem file %s: %w", e.Name(), err)
		}
		docs = append(docs, CatalogDocument{Name: e.Name(), Data: data})
	}
	return docs, nil
}

// ObjectStore is the subset of the object storage client the catalog needs.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// BucketSource reads YAML objects under Prefix.
type BucketSource struct {
	Store  ObjectStore
	Prefix string
}

func (b BucketSource) Documents(ctx context.Context) ([]CatalogDocument, error) {
	keys, err := b.Store.List(ctx, b.Prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	var docs []CatalogDocument
	for _, key := range keys {
		if !isYAML(key) {
			continue
		}
		data, err := b.Store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		docs = append(docs, CatalogDocument{Name: key, Data: data})
	}
	return docs, nil
}

type problemDocument struct {
	ID            string `yaml:"id"`
	Title         string `yaml:"title"`
	Description   string `yaml:"description"`
	Difficulty    string `yaml:"difficulty"`
	Comparison    string `yaml:"comparison"`
	TimeLimitMs   int    `yaml:"time_limit_ms"`
	MemoryLimitKb int    `yaml:"memory_limit_kb"`
	TestCases     []struct {
		Input          any    `yaml:"input"`
		ExpectedOutput any    `yaml:"expected_output"`
		Explanation    string `yaml:"explanation"`
		Hidden         bool   `yaml:"hidden"`
	} `yaml:"test_cases"`
}

// ParseProblemDocument decodes a YAML problem. Case inputs and outputs may be written as
// YAML values; they are stored as JSON.
func ParseProblemDocument(data []byte) (CreateProblemRequest, error) {
	var doc problemDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return CreateProblemRequest{}, fmt.Errorf("decode problem yaml: %w: %w", common.ErrValidation, err)
	}
	req := CreateProblemRequest{
		ID:            doc.ID,
		Title:         doc.Title,
		Description:   doc.Description,
		Difficulty:    model.ProblemDifficulty(doc.Difficulty),
		Comparison:    model.ComparisonMode(doc.Comparison),
		TimeLimitMs:   doc.TimeLimitMs,
		MemoryLimitKb: doc.MemoryLimitKb,
	}
	for i, tc := range doc.TestCases {
		input, err := json.Marshal(tc.Input)
		if err != nil {
			return CreateProblemRequest{}, fmt.Errorf("case %d input: %w: %w", i, common.ErrValidation, err)
		}
		expected, err := json.Marshal(tc.ExpectedOutput)
		if err != nil {
			return CreateProblemRequest{}, fmt.Errorf("case %d expected_output: %w: %w", i, common.ErrValidation, err)
		}
		req.TestCases = append(req.TestCases, model.TestCase{
			Input:          input,
			ExpectedOutput: expected,
			Explanation:    tc.Explanation,
			Hidden:         tc.Hidden,
		})
	}
	return req, nil
}

type ImportReport struct {
	Imported []string `json:"imported"`
	Skipped  []string `json:"skipped"` // already stored; problems are immutable
	Failed   []string `json:"failed"`
}

// ImportCatalog stores every problem of src. Existing problems are left untouched. A bad
// document does not stop the import; the failures are returned joined.
func (s *ProblemService) ImportCatalog(ctx context.Context, src CatalogSource) (*ImportReport, error) {
	docs, err := src.Documents(ctx)
	if err != nil {
		return nil, err
	}
	report := &ImportReport{}
	var errs []error
	for _, doc := range docs {
		req, err := ParseProblemDocument(doc.Data)
		if err == nil {
			var p *model.Problem
			if p, err = s.CreateProblem(ctx, req); err == nil {
				report.Imported = append(report.Imported, p.ID)
				continue
			}
		}
		if errors.Is(err, common.ErrConflict) {
			report.Skipped = append(report.Skipped, doc.Name)
			continue
		}
		report.Failed = append(report.Failed, doc.Name)
		errs = append(errs, fmt.Errorf("%s: %w", doc.Name, err))
	}
	logger.Info(ctx, "problem catalog imported",
		zap.Int("imported", len(report.Imported)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)))
	return report, errors.Join(errs...)
}
