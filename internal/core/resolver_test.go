package core

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, root string, rel string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("#\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func newTestResolver(root string) *Resolver {
	return &Resolver{
		Root:          root,
		CandidateDirs: []string{root, filepath.Join(root, "scripts"), filepath.Join(root, "notebooks")},
		ExcludeDirs:   []string{".git", ".venv", "venv", "__pycache__", "data"},
	}
}

func TestResolver_ExactPathWins(t *testing.T) {
	root := t.TempDir()
	want := touch(t, root, "notebooks/fetch.py")
	touch(t, root, "scripts/notebooks/fetch.py")

	got, err := newTestResolver(root).Resolve("notebooks/fetch.py")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestResolver_AbsolutePath(t *testing.T) {
	root := t.TempDir()
	want := touch(t, t.TempDir(), "elsewhere.py")

	got, err := newTestResolver(root).Resolve(want)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

// Candidate directories are tried in their configured order.
func TestResolver_CandidateOrder(t *testing.T) {
	root := t.TempDir()
	want := touch(t, root, "scripts/build.py")
	touch(t, root, "notebooks/build.py")

	got, err := newTestResolver(root).Resolve("build.py")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestResolver_RecursiveSearchSkipsExcluded(t *testing.T) {
	root := t.TempDir()
	touch(t, root, ".venv/lib/deep.py")
	touch(t, root, "data/raw/deep.py")
	want := touch(t, root, "pipelines/b/deep.py")
	touch(t, root, "pipelines/c/deep.py")

	got, err := newTestResolver(root).Resolve("deep.py")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Errorf("got %s, want %s (first in lexical order)", got, want)
	}
}

func TestResolver_NotFoundWithSuggestions(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "notebooks/Procesar_Datos_v2.py")
	touch(t, root, "etl/procesar_datos_old.py")
	touch(t, root, "etl/procesar_datos.txt")
	touch(t, root, ".git/procesar_datos_hook.py")

	_, err := newTestResolver(root).Resolve("procesar_datos.py")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	nf := err.(*NotFoundError)
	want := []string{"etl/procesar_datos_old.py", "notebooks/Procesar_Datos_v2.py"}
	if !reflect.DeepEqual(nf.Suggestions, want) {
		t.Errorf("suggestions = %v, want %v", nf.Suggestions, want)
	}
}

func TestResolver_SuggestionsCapped(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		touch(t, root, filepath.Join("many", "job_"+string(rune('a'+i))+".py"))
	}
	r := newTestResolver(root)
	if got := r.Suggest("job.py"); len(got) != DefaultMaxSuggestions {
		t.Errorf("len = %d, want %d", len(got), DefaultMaxSuggestions)
	}
	r.MaxSuggestions = 3
	if got := r.Suggest("job.py"); len(got) != 3 || got[0] != "many/job_a.py" {
		t.Errorf("capped suggestions = %v", got)
	}
}
