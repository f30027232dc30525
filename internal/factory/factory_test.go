package factory

import (
	"testing"

	"go-spot-counter/internal/config"
	apperrors "go-spot-counter/internal/errors"
)

func TestStrategyFactory_CreateBinarizer(t *testing.T) {
	f := NewStrategyFactory()
	tests := []struct {
		name     BinarizerType
		expected string
		wantErr  bool
	}{
		{"", "fixed", false},
		{"fixed", "fixed", false},
		{"Adaptive", "adaptive", false},
		{"otsu", "", true},
	}

	for _, tt := range tests {
		b, err := f.CreateBinarizer(tt.name)
		if tt.wantErr {
			if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
				t.Errorf("%q: expected validation error, got %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.name, err)
		}
		if b.Name() != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.name, tt.expected, b.Name())
		}
	}
}

func TestStrategyFactory_CreateExtractor(t *testing.T) {
	f := NewStrategyFactory()
	for _, name := range []string{"contour", "hough", "watershed"} {
		e, err := f.CreateExtractor(ExtractorType(name))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if e.Name() != name {
			t.Errorf("Expected %s, got %s", name, e.Name())
		}
	}
	if e, _ := f.CreateExtractor(""); e.Name() != "contour" {
		t.Errorf("Expected contour default, got %s", e.Name())
	}
	if _, err := f.CreateExtractor("blob"); err == nil {
		t.Error("Expected error for unknown extractor")
	}
}

func TestStrategyFactory_Names(t *testing.T) {
	f := NewStrategyFactory()
	if got := f.Binarizers(); len(got) != 2 || got[0] != "adaptive" || got[1] != "fixed" {
		t.Errorf("Unexpected binarizers: %v", got)
	}
	if got := f.Extractors(); len(got) != 3 || got[0] != "contour" {
		t.Errorf("Unexpected extractors: %v", got)
	}
}

func TestArchiveFactory(t *testing.T) {
	f := NewArchiveFactory()

	a, err := f.CreateArchive(&config.Config{ArchiveBackend: config.ArchiveNone})
	if err != nil || a.Backend() != "none" {
		t.Errorf("Expected noop archive, got %v, %v", a, err)
	}

	a, err = f.CreateArchive(&config.Config{ArchiveBackend: config.ArchiveLocal, ArchiveDir: t.TempDir()})
	if err != nil || a.Backend() != "local" {
		t.Errorf("Expected local archive, got %v, %v", a, err)
	}

	if _, err := f.CreateArchive(&config.Config{ArchiveBackend: "s3"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
