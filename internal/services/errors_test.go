package services_test

import (
	"errors"
	"strings"
	"testing"

	"ferry/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "form-driver", "submit", "post failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"form-driver", "submit", "post failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "records", "mark", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestDetailsClassifiesMarkers(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		expect services.ErrorKind
	}{
		{"validation", services.Wrap(services.ErrValidation, "mapping", "map", "missing date", nil), services.KindValidation},
		{"timeout", services.Wrap(services.ErrTimeout, "processor", "submit", "", errors.New("deadline")), services.KindTimeout},
		{"plain", errors.New("raw"), services.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			details := services.Details(tc.err)
			if details.Kind != tc.expect {
				t.Fatalf("expected kind %s, got %s", tc.expect, details.Kind)
			}
			if details.Hint == "" {
				t.Fatal("expected hint to be populated")
			}
		})
	}

	if details := services.Details(nil); details.Kind != "" {
		t.Fatalf("expected empty details for nil error, got %+v", details)
	}
}
