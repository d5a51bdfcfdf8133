package labels

import "testing"

func TestStatusLabelsAreLowercase(t *testing.T) {
	if !GitHubStatusLabels["needs triage"] {
		t.Error("expected 'needs triage' in status label set")
	}
	if !GitHubStatusLabels["waiting on author"] {
		t.Error("expected 'waiting on author' in status label set")
	}
	if GitHubStatusLabels[StatusNeedsTriage] {
		t.Error("status label set should not contain the original casing")
	}
}

func TestCategoryAndStatusSetsDisjoint(t *testing.T) {
	for name := range GitHubCategoryLabels {
		if GitHubStatusLabels[name] {
			t.Errorf("label %q appears in both category and status sets", name)
		}
	}
}

func TestRepoDefinitionsCoverTaxonomy(t *testing.T) {
	defs := RepoDefinitions()
	byName := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Color == "" {
			t.Errorf("label %q has no color", d.Name)
		}
		byName[d.Name] = true
	}
	for name := range GitHubCategoryLabels {
		if !byName[name] {
			t.Errorf("category label %q missing from repo definitions", name)
		}
	}
	for name := range GitHubStatusLabels {
		if !byName[name] {
			t.Errorf("status label %q missing from repo definitions", name)
		}
	}
}
