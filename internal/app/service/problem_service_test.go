package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"duel_arena/internal/app/service"
	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
)

const fizzYAML = `id: fizz
title: Fizz
difficulty: easy
comparison: exact
description: |
  Return "Fizz" for multiples of three.
test_cases:
  - input: {n: 3}
    expected_output: Fizz
    explanation: three is a multiple of three
  - input: {n: 4}
    expected_output: 4
    hidden: true
`

func TestCreateProblemDefaultsAndValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.problems.CreateProblem(ctx, service.CreateProblemRequest{
		Title:      "Reverse Linked List",
		Difficulty: "Medium",
		TestCases:  []model.TestCase{{Input: json.RawMessage(`[1,2]`), ExpectedOutput: json.RawMessage(`[2,1]`)}},
	})
	if err != nil {
		t.Fatalf("CreateProblem: %v", err)
	}
	if p.ID != "reverse-linked-list" || p.Comparison != model.ComparisonExact || p.TimeLimitMs != 2000 || p.Difficulty != model.DifficultyMedium {
		t.Fatalf("unexpected defaults %+v", p)
	}

	bad := []service.CreateProblemRequest{
		{Title: "", Difficulty: model.DifficultyEasy},
		{Title: "No Cases", Difficulty: model.DifficultyEasy},
		{Title: "Bad Difficulty", Difficulty: "brutal", TestCases: p.TestCases},
		{Title: "Bad Json", Difficulty: model.DifficultyEasy, TestCases: []model.TestCase{{Input: json.RawMessage(`{`), ExpectedOutput: json.RawMessage(`1`)}}},
		{Title: "Bad Mode", Difficulty: model.DifficultyEasy, Comparison: "fuzzy", TestCases: p.TestCases},
	}
	for _, req := range bad {
		if _, err := f.problems.CreateProblem(ctx, req); !errors.Is(err, common.ErrValidation) {
			t.Errorf("CreateProblem(%q) err = %v, want ErrValidation", req.Title, err)
		}
	}
	if _, err := f.problems.CreateProblem(ctx, twoSumProblem()); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("duplicate err = %v, want ErrConflict", err)
	}
}

func TestImportCatalogFromDir(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("fizz.yaml", fizzYAML)
	write("broken.yml", "id: [")
	write("notes.txt", "ignored")

	report, err := f.problems.ImportCatalog(ctx, service.DirSource{Dir: dir})
	if err == nil {
		t.Fatal("expected the broken document to be reported")
	}
	if len(report.Imported) != 1 || report.Imported[0] != "fizz" || len(report.Failed) != 1 {
		t.Fatalf("report = %+v", report)
	}

	p, err := f.problems.GetProblem(ctx, "fizz")
	if err != nil {
		t.Fatalf("GetProblem: %v", err)
	}
	if string(p.TestCases[0].Input) != `{"n":3}` || string(p.TestCases[0].ExpectedOutput) != `"Fizz"` || !p.TestCases[1].Hidden {
		t.Fatalf("unexpected cases %+v", p.TestCases)
	}
	public, _ := f.problems.GetProblemDetails(ctx, "fizz", model.RoleUser)
	if len(public.TestCases) != 1 {
		t.Fatalf("public view shows %d cases, want 1", len(public.TestCases))
	}
	if admin, _ := f.problems.GetProblemDetails(ctx, "fizz", model.RoleAdmin); len(admin.TestCases) != 2 {
		t.Fatalf("admin view shows %d cases", len(admin.TestCases))
	}

	os.Remove(filepath.Join(dir, "broken.yml"))
	report, err = f.problems.ImportCatalog(ctx, service.DirSource{Dir: dir})
	if err != nil || len(report.Skipped) != 1 || len(report.Imported) != 0 {
		t.Fatalf("re-import = %+v, %v; want fizz skipped", report, err)
	}
}

type fakeBucket map[string]string

func (b fakeBucket) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range b {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b fakeBucket) Get(_ context.Context, key string) ([]byte, error) {
	return []byte(b[key]), nil
}

func TestImportCatalogFromBucket(t *testing.T) {
	f := newFixture(t, nil)
	bucket := fakeBucket{"catalog/fizz.yaml": fizzYAML, "catalog/README.md": "#", "other/x.yaml": "id: x"}
	report, err := f.problems.ImportCatalog(context.Background(), service.BucketSource{Store: bucket, Prefix: "catalog/"})
	if err != nil || len(report.Imported) != 1 {
		t.Fatalf("report = %+v, %v", report, err)
	}
}

func TestListAndPickProblems(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	list, total, err := f.problems.ListProblems(ctx, 1, 10, "")
	if err != nil || total != 1 || list[0].ID != "two-sum" || list[0].CaseCount != 1 {
		t.Fatalf("ListProblems = %+v, %d, %v", list, total, err)
	}
	if _, _, err := f.problems.ListProblems(ctx, 1, 10, "brutal"); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("bad difficulty err = %v", err)
	}
	if id, err := f.problems.PickProblem(ctx, model.DifficultyEasy); err != nil || id != "two-sum" {
		t.Fatalf("PickProblem = %q, %v", id, err)
	}
	if _, err := f.problems.PickProblem(ctx, model.DifficultyHard); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("no hard problems err = %v", err)
	}
	if langs := f.problems.Languages(); len(langs) != 2 {
		t.Fatalf("languages = %+v", langs)
	}
}
