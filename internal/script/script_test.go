package script

import (
	"strings"
	"testing"

	"rendergate/internal/pkg/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		topic string
		want  Family
	}{
		{"simple_harmonic_motion", FamilyPhysicsMotion},
		{"pendulum_basics", FamilyPhysicsMotion},
		{"quadratic_equation", FamilyMathEquation},
		{"pythagorean_theorem", FamilyGeometry},
		{"dna_replication", FamilyBiologyProcess},
		{"binary_search_algorithm", FamilyComputerScience},
		{"periodic_table_trends", FamilyGeneral},
		{"", FamilyGeneral},
	}
	for _, tc := range tests {
		if got := Classify(tc.topic); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.topic, got, tc.want)
		}
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// A topic matching two buckets resolves to the first in priority
	// order: physics before math.
	if got := Classify("wave_equation"); got != FamilyPhysicsMotion {
		t.Errorf("Classify(wave_equation) = %s, want %s", got, FamilyPhysicsMotion)
	}
}

func TestGenerateProducesSafeScripts(t *testing.T) {
	g := NewGenerator(nil)

	topics := []string{
		"simple_harmonic_motion",
		"quadratic_equation",
		"pythagorean_theorem",
		"dna_replication",
		"binary_search_algorithm",
		"some_unclassified_topic",
	}

	for _, topic := range topics {
		t.Run(topic, func(t *testing.T) {
			s, err := g.Generate(topic)
			if err != nil {
				t.Fatalf("Generate(%q) failed: %v", topic, err)
			}
			if s.Body == "" {
				t.Fatal("empty script body")
			}
			if !strings.Contains(s.Body, "class "+SceneName+"(Scene):") {
				t.Errorf("script does not declare scene %s", SceneName)
			}

			for _, imp := range s.Imports {
				if !allowedImports[imp] {
					t.Errorf("script imports %q which is outside the allowlist", imp)
				}
			}
			if len(s.Imports) == 0 {
				t.Error("expected at least one import to be recorded")
			}

			for _, re := range forbiddenConstructs {
				if m := re.FindString(s.Body); m != "" {
					t.Errorf("script contains forbidden construct %q", m)
				}
			}
		})
	}
}

func TestGenerateNeverFailsForUnmatchedTopics(t *testing.T) {
	g := NewGenerator(nil)
	s, err := g.Generate("completely_novel_subject")
	if err != nil {
		t.Fatalf("expected fallback generation to succeed, got %v", err)
	}
	if s.Family != FamilyGeneral {
		t.Errorf("family = %s, want %s", s.Family, FamilyGeneral)
	}
}

func TestGenerateRejectsHostileTitles(t *testing.T) {
	g := NewGenerator(nil)

	// The validator rejects these upstream; the generator's own scan of
	// the finished source is the second line of defense.
	_, err := g.Generate(`motion"); import os; ("`)
	if err == nil {
		t.Fatal("expected smuggled import to be rejected by the source scan")
	}
	if !errors.IsCode(err, errors.CodeUnsafeContent) {
		t.Errorf("code = %s, want %s", errors.GetCode(err), errors.CodeUnsafeContent)
	}
}

func TestCheckPolicy(t *testing.T) {
	t.Run("disallowed import", func(t *testing.T) {
		err := checkPolicy("import manim\n", []string{"manim", "requests"})
		if err == nil {
			t.Fatal("expected rejection")
		}
		if !errors.IsCode(err, errors.CodeUnsafeContent) {
			t.Errorf("code = %s, want %s", errors.GetCode(err), errors.CodeUnsafeContent)
		}
	})

	t.Run("dynamic execution", func(t *testing.T) {
		if checkPolicy(`eval("1+1")`, nil) == nil {
			t.Error("expected eval to be rejected")
		}
	})

	t.Run("process invocation", func(t *testing.T) {
		if checkPolicy(`subprocess.run(["ls"])`, nil) == nil {
			t.Error("expected subprocess use to be rejected")
		}
	})

	t.Run("dunder access", func(t *testing.T) {
		if checkPolicy(`x.__class__`, nil) == nil {
			t.Error("expected dunder access to be rejected")
		}
	})

	t.Run("filesystem escape", func(t *testing.T) {
		if checkPolicy(`path = "../secrets"`, nil) == nil {
			t.Error("expected path escape to be rejected")
		}
	})

	t.Run("network call", func(t *testing.T) {
		if checkPolicy(`url = "https://example.com"`, nil) == nil {
			t.Error("expected network reference to be rejected")
		}
	})

	t.Run("clean body passes", func(t *testing.T) {
		if err := checkPolicy("from manim import *\nimport numpy as np\n", []string{"manim", "numpy"}); err != nil {
			t.Errorf("expected clean body to pass, got %v", err)
		}
	})
}

func TestScanImports(t *testing.T) {
	body := "from manim import *\nimport numpy as np\nimport numpy.linalg\nx = 1\n"
	got := scanImports(body)
	want := []string{"manim", "numpy"}
	if len(got) != len(want) {
		t.Fatalf("scanImports = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scanImports[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
