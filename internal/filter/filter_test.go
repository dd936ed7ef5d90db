package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/rrsc/internal/policy"
)

type fakeClassifier struct {
	class Classification
	err   error
}

func (f *fakeClassifier) Classify(content string) (Classification, error) { return f.class, f.err }

func TestAdapter_Allow_PassesThrough(t *testing.T) {
	a := New(nil, "")
	out, err := a.Filter(policy.StrategyAllow, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.Content)
	assert.False(t, out.Blocked)
}

func TestAdapter_Block_EmptiesContent(t *testing.T) {
	a := New(nil, "")
	out, err := a.Filter(policy.StrategyBlock, "hello world")
	require.NoError(t, err)
	assert.True(t, out.Blocked)
	assert.Empty(t, out.Content)
}

func TestAdapter_Remove_StripsFlaggedSpan(t *testing.T) {
	classifier := &fakeClassifier{class: Classification{Flagged: true, Spans: []Span{{Start: 6, End: 11}}}}
	a := New(classifier, "")
	out, err := a.Filter(policy.StrategyRemove, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello ", out.Content)
}

func TestAdapter_Replace_UsesReplacementToken(t *testing.T) {
	classifier := &fakeClassifier{class: Classification{Flagged: true, Spans: []Span{{Start: 0, End: 5}}}}
	a := New(classifier, "###")
	out, err := a.Filter(policy.StrategyReplace, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "### world", out.Content)
}

func TestAdapter_NotFlagged_ContentUnchanged(t *testing.T) {
	classifier := &fakeClassifier{class: Classification{Flagged: false}}
	a := New(classifier, "")
	out, err := a.Filter(policy.StrategySanitize, "clean text")
	require.NoError(t, err)
	assert.Equal(t, "clean text", out.Content)
}

func TestAdapter_MissingClassifier_RaisesRuleEvaluationFailed(t *testing.T) {
	a := New(nil, "")
	_, err := a.Filter(policy.StrategyMark, "hello")
	require.Error(t, err)
}

func TestAdapter_Sanitize_RewritesSpanInsteadOfReplacing(t *testing.T) {
	classifier := &fakeClassifier{class: Classification{
		Flagged:     true,
		Spans:       []Span{{Start: 0, End: 21}},
		ContentType: ContentTypeHTML,
	}}
	a := New(classifier, "###")
	out, err := a.Filter(policy.StrategySanitize, "<script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotEqual(t, "### world", out.Content)
	assert.Contains(t, out.Content, "&lt;script")
	assert.NotContains(t, out.Content, "###")
}

func TestAdapter_Sanitize_CommandContentStripsShellMetacharacters(t *testing.T) {
	classifier := &fakeClassifier{class: Classification{
		Flagged:     true,
		Spans:       []Span{{Start: 0, End: 13}},
		ContentType: ContentTypeCommand,
	}}
	a := New(classifier, "###")
	out, err := a.Filter(policy.StrategySanitize, "rm -rf / ; ls")
	require.NoError(t, err)
	assert.NotContains(t, out.Content, ";")
}

func TestAdapter_Sanitize_URLAddsMissingScheme(t *testing.T) {
	classifier := &fakeClassifier{class: Classification{
		Flagged:     true,
		Spans:       []Span{{Start: 0, End: 14}},
		ContentType: ContentTypeURL,
	}}
	a := New(classifier, "###")
	out, err := a.Filter(policy.StrategySanitize, "example.com/x?")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x?", out.Content)
}

type fakeRecorder struct{ calls []string }

func (f *fakeRecorder) RecordFilterStrategy(strategy string) { f.calls = append(f.calls, strategy) }

func TestAdapter_WithRecorder_RecordsEveryStrategyApplied(t *testing.T) {
	rec := &fakeRecorder{}
	a := New(nil, "").WithRecorder(rec)

	_, err := a.Filter(policy.StrategyAllow, "hi")
	require.NoError(t, err)
	_, err = a.Filter(policy.StrategyBlock, "hi")
	require.NoError(t, err)

	assert.Equal(t, []string{"allow", "block"}, rec.calls)
}

func TestAdapter_Sanitize_DefaultStripsSpecialCharacters(t *testing.T) {
	classifier := &fakeClassifier{class: Classification{
		Flagged: true,
		Spans:   []Span{{Start: 0, End: 11}},
	}}
	a := New(classifier, "###")
	out, err := a.Filter(policy.StrategySanitize, "h@ck3r$ yo!")
	require.NoError(t, err)
	assert.NotContains(t, out.Content, "@")
	assert.NotContains(t, out.Content, "$")
}
