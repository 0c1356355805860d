package texrag

import (
	"strings"
	"testing"
)

func TestExtractSnippetBasicOverlap(t *testing.T) {
	content := "The gradient update minimizes the loss. The learning rate controls step size. Convergence follows from convexity."
	answerWords := significantWords("The gradient update uses the learning rate to minimize the loss.")

	snippet := extractSnippet(content, answerWords)
	if snippet == "" {
		t.Fatal("expected non-empty snippet")
	}
	if !strings.Contains(snippet, "gradient") {
		t.Errorf("expected snippet to mention gradient, got: %q", snippet)
	}
}

func TestExtractSnippetNoOverlap(t *testing.T) {
	content := "The quick brown fox jumps over the lazy dog."
	answerWords := significantWords("quantum computing uses superconducting qubits")

	snippet := extractSnippet(content, answerWords)
	if snippet != "" {
		t.Errorf("expected empty snippet when no overlap, got: %q", snippet)
	}
}

func TestExtractSnippetEmptyInputs(t *testing.T) {
	if s := extractSnippet("", map[string]bool{"test": true}); s != "" {
		t.Errorf("expected empty for empty content, got: %q", s)
	}
	if s := extractSnippet("some content here.", nil); s != "" {
		t.Errorf("expected empty for nil answerWords, got: %q", s)
	}
	if s := extractSnippet("some content here.", map[string]bool{}); s != "" {
		t.Errorf("expected empty for empty answerWords, got: %q", s)
	}
}

func TestExtractSnippetRespectsMaxLen(t *testing.T) {
	content := "First sentence about gradients. Second sentence about convergence rates. " +
		"Third sentence about stability analysis. Fourth sentence about boundary conditions. " +
		"Fifth sentence about numerical integration. Sixth sentence about error bounds."
	answerWords := significantWords("gradients convergence stability boundary integration bounds")

	snippet := extractSnippet(content, answerWords)
	if len(snippet) > snippetMaxLen {
		t.Errorf("snippet exceeds max length: %d > %d", len(snippet), snippetMaxLen)
	}
}

func TestSignificantWords(t *testing.T) {
	words := significantWords("The estimator converges quickly. This is very important for accuracy.")

	for _, want := range []string{"estimator", "converges", "important", "accuracy"} {
		if !words[want] {
			t.Errorf("expected %q in significant words", want)
		}
	}

	// Stop words and short words stay out.
	for _, skip := range []string{"this", "very", "the", "is"} {
		if words[skip] {
			t.Errorf("%q should be excluded", skip)
		}
	}
}

func TestSnippetSplitSentences(t *testing.T) {
	text := "First sentence. Second sentence? Third sentence! Final text without period"
	sentences := snippetSplitSentences(text)

	if len(sentences) != 4 {
		t.Fatalf("expected 4 sentences, got %d: %v", len(sentences), sentences)
	}
	if sentences[0] != "First sentence." {
		t.Errorf("sentence 0: got %q", sentences[0])
	}
	if sentences[1] != "Second sentence?" {
		t.Errorf("sentence 1: got %q", sentences[1])
	}
	if sentences[2] != "Third sentence!" {
		t.Errorf("sentence 2: got %q", sentences[2])
	}
	if sentences[3] != "Final text without period" {
		t.Errorf("sentence 3: got %q", sentences[3])
	}
}

func TestSnippetSplitSentencesKeepsFormulaWhole(t *testing.T) {
	// The decimal point inside the math span must not end the sentence.
	text := "The rate is $$x = 1.5 y$$ per step. Next sentence follows."
	sentences := snippetSplitSentences(text)

	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(sentences), sentences)
	}
	if !strings.Contains(sentences[0], "$$x = 1.5 y$$") {
		t.Errorf("formula torn apart: %q", sentences[0])
	}
}

func TestExtractSnippetAdjacentSentences(t *testing.T) {
	content := "Setup is straightforward. The estimator converges linearly. The rate depends on curvature."
	answerWords := significantWords("estimator converges rate curvature")

	snippet := extractSnippet(content, answerWords)
	if !strings.Contains(snippet, "converges") {
		t.Errorf("expected convergence mention in snippet: %q", snippet)
	}
}
