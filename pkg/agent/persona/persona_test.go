package persona

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	t.Parallel()
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if p.Name != "Suresh" || p.ShareStarted != "Started sharing property video on screen" {
		t.Fatalf("persona=%+v", p)
	}
}

func TestLoad_OverridesOnlyGivenKeys(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "persona.yaml")
	body := "name: Priya\ngreeting: \"Hello {name}, welcome back.\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if p.Name != "Priya" || p.RenderGreeting("Sam") != "Hello Sam, welcome back." {
		t.Fatalf("persona=%+v", p)
	}
	if p.Unavailable != Default().Unavailable {
		t.Fatalf("unavailable text was not kept from defaults")
	}
}

func TestLoad_RejectsAnswerWithoutSources(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte("answer: nothing here\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "{sources}") {
		t.Fatalf("err=%v, want sources validation error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v, want not exist", err)
	}
}

func TestRender_Placeholders(t *testing.T) {
	t.Parallel()
	p := Default()
	if got := p.RenderInstructions("there"); !strings.HasSuffix(got, "The users name is there") {
		t.Fatalf("instructions=%q", got)
	}
	if got := p.RenderStatus("pool homes"); !strings.Contains(got, `"pool homes"`) {
		t.Fatalf("status=%q", got)
	}
	answer := p.RenderAnswer("condos", "Source 1: two bed")
	if !strings.Contains(answer, "regarding 'condos'") || !strings.Contains(answer, "\n\nSource 1: two bed\n\n") {
		t.Fatalf("answer=%q", answer)
	}
	if p.RenderNoMatch("x") == p.RenderFailed("x") {
		t.Fatalf("no-match and failed texts must differ")
	}
	if got := p.RenderShareFailed(errors.New("boom")); got != "Failed to share screen: boom" {
		t.Fatalf("share failed=%q", got)
	}
}
