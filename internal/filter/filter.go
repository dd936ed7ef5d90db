// Package filter implements the content filter adapter of spec.md §4.6 /
// §1: it applies a named strategy to content, delegating classification
// decisions to an external ML-style classifier collaborator (out of
// scope per spec.md §1 — only the contract is implemented here).
// Grounded on the teacher's internal/auth collaborator-contract style
// (narrow interface, concrete adapter, sentinel errors).
package filter

import (
	"strings"

	"github.com/agentfabric/rrsc/internal/policy"
	"github.com/agentfabric/rrsc/internal/ports"
)

// Classification is what the external classifier collaborator returns
// about a span of content.
type Classification struct {
	Flagged     bool
	Categories  []string
	Spans       []Span // character ranges the classifier flagged, if any
	ContentType ContentType
}

// ContentType names the shape of content being classified, driving which
// transform StrategySanitize applies to a flagged span.
type ContentType string

const (
	ContentTypeHTML    ContentType = "html"
	ContentTypeCommand ContentType = "command"
	ContentTypeURL     ContentType = "url"
	ContentTypeText    ContentType = ""
)

// Span is a half-open [Start, End) character range into the original content.
type Span struct {
	Start, End int
}

// Classifier is the external content-classification collaborator
// contract (spec.md §1 "language-detection, and ML-style content
// classification specifics" are out of scope; only this contract lives
// in the core).
type Classifier interface {
	Classify(content string) (Classification, error)
}

// StrategyRecorder is notified of every strategy this Adapter applies,
// the collaborator seam internal/metrics.Registry.RecordFilterStrategy
// satisfies (the original's per-strategy FilterStats counters).
type StrategyRecorder interface {
	RecordFilterStrategy(strategy string)
}

// Adapter applies a policy.FilterStrategy to content, consulting the
// Classifier collaborator when the strategy needs span information
// (Remove, Replace, Mark, Sanitize).
type Adapter struct {
	classifier  Classifier
	replacement string
	recorder    StrategyRecorder
}

// New constructs an Adapter. replacement defaults to "***" when empty.
func New(classifier Classifier, replacement string) *Adapter {
	if replacement == "" {
		replacement = "***"
	}
	return &Adapter{classifier: classifier, replacement: replacement}
}

// WithRecorder attaches a StrategyRecorder, returning the Adapter for chaining.
func (a *Adapter) WithRecorder(recorder StrategyRecorder) *Adapter {
	a.recorder = recorder
	return a
}

var _ policy.Filterer = (*Adapter)(nil)

// Filter implements policy.Filterer.
func (a *Adapter) Filter(strategy policy.FilterStrategy, content string) (policy.FilterOutcome, error) {
	if a.recorder != nil {
		a.recorder.RecordFilterStrategy(string(strategy))
	}
	switch strategy {
	case policy.StrategyAllow:
		return policy.FilterOutcome{Strategy: strategy, Content: content}, nil
	case policy.StrategyBlock:
		return policy.FilterOutcome{Strategy: strategy, Content: "", Blocked: true}, nil
	case policy.StrategyRemove, policy.StrategyReplace, policy.StrategyMark, policy.StrategySanitize:
		return a.filterSpans(strategy, content)
	default:
		return policy.FilterOutcome{}, ports.Newf(ports.KindInternal, "evaluate_rule", "unknown filter strategy %q", strategy)
	}
}

func (a *Adapter) filterSpans(strategy policy.FilterStrategy, content string) (policy.FilterOutcome, error) {
	if a.classifier == nil {
		return policy.FilterOutcome{}, ports.Newf(ports.KindInternal, "evaluate_rule", "filter strategy %q requires a configured classifier", strategy)
	}
	class, err := a.classifier.Classify(content)
	if err != nil {
		return policy.FilterOutcome{}, ports.New(ports.KindExternal, "classify", err).WithRetryable(true)
	}
	if !class.Flagged || len(class.Spans) == 0 {
		return policy.FilterOutcome{Strategy: strategy, Content: content}, nil
	}

	var b strings.Builder
	cursor := 0
	for _, span := range class.Spans {
		if span.Start < cursor || span.End > len(content) || span.Start > span.End {
			continue // classifier returned a malformed span; skip rather than corrupt content
		}
		b.WriteString(content[cursor:span.Start])
		switch strategy {
		case policy.StrategyRemove:
			// write nothing for the flagged span
		case policy.StrategyReplace:
			b.WriteString(a.replacement)
		case policy.StrategySanitize:
			b.WriteString(sanitizeSpan(content[span.Start:span.End], class.ContentType))
		case policy.StrategyMark:
			b.WriteString("[[" + content[span.Start:span.End] + "]]")
		}
		cursor = span.End
	}
	b.WriteString(content[cursor:])

	return policy.FilterOutcome{Strategy: strategy, Content: b.String()}, nil
}

// sanitizeSpan rewrites a flagged span in place rather than replacing it
// outright, choosing the transform by content type.
func sanitizeSpan(span string, ct ContentType) string {
	switch ct {
	case ContentTypeHTML:
		return sanitizeHTML(span)
	case ContentTypeCommand:
		return sanitizeCommand(span)
	case ContentTypeURL:
		return sanitizeURL(span)
	default:
		return sanitizeDefault(span)
	}
}

var htmlReplacer = strings.NewReplacer(
	"<script", "&lt;script",
	"</script>", "&lt;/script&gt;",
	"javascript:", "disabled-javascript:",
	"onerror=", "disabled-onerror=",
	"onclick=", "disabled-onclick=",
	"<iframe", "&lt;iframe",
	"</iframe>", "&lt;/iframe&gt;",
)

func sanitizeHTML(content string) string {
	return htmlReplacer.Replace(content)
}

var commandReplacer = strings.NewReplacer(
	";", "", "|", "", "&&", "", "||", "",
	">", "", "<", "", "$", "", "`", "", "(", "", ")", "",
)

func sanitizeCommand(content string) string {
	return commandReplacer.Replace(content)
}

func sanitizeURL(content string) string {
	if strings.HasPrefix(content, "http://") || strings.HasPrefix(content, "https://") {
		return content
	}
	return "https://" + content
}

func sanitizeDefault(content string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '\t', r == '\n', r == '\r':
			return r
		case r == '.', r == ',', r == '!', r == '?':
			return r
		default:
			return -1
		}
	}, content)
}
