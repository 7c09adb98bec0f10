package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTokensImportAndLookup(t *testing.T) {
	env := setupCLITestEnv(t)
	vocab := filepath.Join(t.TempDir(), "vocab.tsv")
	if err := os.WriteFile(vocab, []byte("<unk>\t0\n<s>\t0\n▁the\t-1.5\n"), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}

	requireContains(t, env.run(t, "tokens", "import", vocab), "Imported 3 token(s)")
	requireContains(t, env.run(t, "tokens", "import", vocab), "Imported 0 token(s)")

	out := env.run(t, "tokens", "lookup", "▁the", "missing")
	requireContains(t, out, "▁the\t2")
	requireContains(t, out, "missing\t(not found)")

	out = env.run(t, "tokens", "lookup", "--id", "1")
	requireContains(t, out, "1\t<s>")
}

func TestWordsTopOnEmptyStore(t *testing.T) {
	env := setupCLITestEnv(t)
	requireContains(t, env.run(t, "words", "top"), "No words counted yet")
	requireContains(t, env.run(t, "words", "count", "anything"), "anything\t0")
}
