// Package generator produces blog-post drafts for a topic, either through the
// Gemini API or a deterministic fallback used when the model is unreachable.
package generator

import (
	"context"
	"fmt"
	"strings"
)

// Draft is a generated blog post before it is persisted.
type Draft struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	SEOTips []string `json:"seoTips"`
}

// Generator produces a draft for a topic.
type Generator interface {
	Generate(ctx context.Context, topic string) (Draft, error)
}

// FallbackDraft returns a templated draft for a topic. It carries enough
// structure to be useful when the model call fails or no API key is
// configured; the caller still owes a credit for the stored result.
func FallbackDraft(topic string) Draft {
	topic = strings.TrimSpace(topic)
	title := fmt.Sprintf("%s: A Practical Introduction", capitalize(topic))
	content := fmt.Sprintf(
		"## Why %[1]s matters\n\n"+
			"%[1]s touches more of your audience than you might expect. This post walks through the essentials: what %[1]s is, why it matters now, and how to get started without overcommitting.\n\n"+
			"## Getting started with %[1]s\n\n"+
			"Start small. Pick one concrete aspect of %[1]s, learn it well, and build outward from there. Most teams fail by trying to adopt everything at once.\n\n"+
			"## Common mistakes\n\n"+
			"The most common mistake with %[1]s is skipping the fundamentals. Invest in the basics before reaching for advanced techniques.\n\n"+
			"## Next steps\n\n"+
			"Pick one idea from this post and apply it this week. Small consistent progress beats a perfect plan.",
		topic)
	return Draft{
		Title:   title,
		Content: content,
		SEOTips: []string{
			fmt.Sprintf("Use %q in the title and first paragraph", topic),
			"Keep paragraphs short and scannable",
			"Add internal links to related posts",
		},
	}
}

// Fallback is a Generator that always returns the templated draft. It serves
// deployments without a model API key.
type Fallback struct{}

// Generate returns the templated draft for the topic.
func (Fallback) Generate(_ context.Context, topic string) (Draft, error) {
	return FallbackDraft(topic), nil
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
