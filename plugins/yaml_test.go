package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/reefcomp/internal/grade"
	"github.com/kingrea/reefcomp/internal/raster"
)

const sampleDefinition = `id: BlueGreenRatio
version: 1.0.0
description: Blue minus green, stretched for display
outputs:
  - name: ratio
    terms:
      - {band: blue, coefficient: 1}
      - {band: green, coefficient: -1}
    stretch: {min: -0.05, max: 0.05}
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "BlueGreenRatio" || def.Layer != grade.LayerMarine || def.Kernel != raster.KernelBilinear {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if len(def.Outputs) != 1 || len(def.Outputs[0].Terms) != 2 {
		t.Fatalf("outputs = %+v", def.Outputs)
	}
}

func TestParseDefinitionYAMLErrors(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"no version":  "id: X\noutputs: [{name: a, terms: [{band: blue, coefficient: 1}]}]\n",
		"no outputs":  "id: X\nversion: 1\n",
		"bad layer":   "id: X\nversion: 1\nlayer: sky\noutputs: [{name: a, terms: [{band: blue, coefficient: 1}]}]\n",
		"bad stretch": "id: X\nversion: 1\noutputs: [{name: a, terms: [{band: blue, coefficient: 1}], stretch: {min: 1, max: 0}}]\n",
		"spaced id":   "id: Blue Green\nversion: 1\noutputs: [{name: a, terms: [{band: blue, coefficient: 1}]}]\n",
	}
	for name, doc := range cases {
		if _, err := ParseDefinitionYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadDirReadsYAML(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "ratio.yaml")
	if err := os.WriteFile(path, []byte(sampleDefinition), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	defs, err := LoadDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 || defs[0].Path != path {
		t.Fatalf("defs = %+v", defs)
	}
}

func TestMultiDocumentFileDeclaresSeveralGrades(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "sentinel2.yml")
	doc := sampleDefinition + "---\n---\n" + strings.Replace(sampleDefinition, "id: BlueGreenRatio", "id: GreenBlueRatio", 1)
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	defs, err := LoadDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("defs = %+v", defs)
	}
	if defs[0].Definition.ID != "BlueGreenRatio" || defs[0].Path != path+"#1" {
		t.Fatalf("first = %+v", defs[0])
	}
	if defs[1].Definition.ID != "GreenBlueRatio" || defs[1].Path != path+"#2" {
		t.Fatalf("second = %+v", defs[1])
	}
	if _, err := ParseDefinitionYAML([]byte(doc)); err == nil {
		t.Fatalf("ParseDefinitionYAML should reject several documents")
	}
}

func TestInvalidDocumentNamesFile(t *testing.T) {
	root := t.TempDir()
	doc := sampleDefinition + "---\nid: Broken\n"
	if err := os.WriteFile(filepath.Join(root, "broken.yaml"), []byte(doc), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	_, err := LoadDir(root)
	if err == nil || !strings.Contains(err.Error(), "broken.yaml") {
		t.Fatalf("expected error naming the file, got %v", err)
	}
}

func TestLoadDirMissing(t *testing.T) {
	defs, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", defs)
	}
}
