package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Limit int    `yaml:"limit"`
}

func (s *sample) Validate() error {
	if s.Limit < 0 {
		return errors.New("limit must be >= 0")
	}
	return nil
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	p := writeYAML(t, "name: ${SAMPLE_NAME}\nlimit: 3\n")

	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "from-env" || s.Limit != 3 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_RunsValidator(t *testing.T) {
	p := writeYAML(t, "limit: -1\n")
	var s sample
	err := Load(p, &s)
	if err == nil || !strings.Contains(err.Error(), "validation") {
		t.Errorf("err = %v, want validation failure", err)
	}
}

func TestLoadOptional_MissingKeepsDefaults(t *testing.T) {
	s := sample{Name: "default", Limit: 2}
	found, err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), &s)
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if found {
		t.Error("found = true for missing file")
	}
	if s.Name != "default" || s.Limit != 2 {
		t.Errorf("defaults changed: %+v", s)
	}
}

func TestLoadOptional_OverlaysFile(t *testing.T) {
	s := sample{Name: "default", Limit: 2}
	p := writeYAML(t, "limit: 9\n")
	found, err := LoadOptional(p, &s)
	if err != nil || !found {
		t.Fatalf("LoadOptional = %v, %v", found, err)
	}
	if s.Name != "default" || s.Limit != 9 {
		t.Errorf("got %+v", s)
	}
}

func TestLoadOptional_EmptyNameValidates(t *testing.T) {
	s := sample{Limit: -5}
	if _, err := LoadOptional("", &s); err == nil {
		t.Error("expected validation error")
	}
}
