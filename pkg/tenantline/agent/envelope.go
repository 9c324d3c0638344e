// Package agent – envelope.go guards tool outputs against context blow-up.
// Oversized results are summarized (or hard-truncated when summarization
// fails) and every result is wrapped in an envelope that tells the agent
// whether it is looking at complete or abridged data.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Envelope formats.
const (
	FormatVerbatim   = "verbatim"
	FormatSummarized = "summarized"
	FormatTruncated  = "truncated"
)

// DefaultEnvelopeThreshold is the character count above which a raw tool
// output is summarized before entering the conversation.
const DefaultEnvelopeThreshold = 10000

const envelopeSummaryInstructions = "Summarize this tool output for an assistant that needs to act on it. " +
	"Preserve every concrete fact: names, dates, amounts, identifiers, counts. " +
	"Drop formatting noise and repetition. Output plain text."

// ResultEnvelope wraps a tool result. Callers distinguish complete data
// (verbatim, ReturnedCount == ItemCount) from abridged data purely from
// these fields, without inspecting Content.
type ResultEnvelope struct {
	Format        string `json:"format"`
	ItemCount     int    `json:"item_count"`
	ReturnedCount int    `json:"returned_count"`
	Content       string `json:"content"`
}

// Validate enforces the envelope invariants.
func (e ResultEnvelope) Validate() error {
	if e.ReturnedCount > e.ItemCount {
		return fmt.Errorf("envelope: returned_count %d > item_count %d", e.ReturnedCount, e.ItemCount)
	}
	if e.Format == FormatVerbatim && e.ReturnedCount != e.ItemCount {
		return fmt.Errorf("envelope: verbatim requires returned_count == item_count (%d != %d)", e.ReturnedCount, e.ItemCount)
	}
	return nil
}

// Encode renders the envelope as the JSON fed back to the generation
// capability as the tool-result content.
func (e ResultEnvelope) Encode() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// EnvelopeWrapper applies the summarization guard to raw tool outputs.
type EnvelopeWrapper struct {
	threshold  int
	summarizer Summarizer
	logger     *slog.Logger
}

// NewEnvelopeWrapper creates a wrapper with the given character threshold
// (<= 0 selects the default).
func NewEnvelopeWrapper(threshold int, summarizer Summarizer, logger *slog.Logger) *EnvelopeWrapper {
	if threshold <= 0 {
		threshold = DefaultEnvelopeThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvelopeWrapper{
		threshold:  threshold,
		summarizer: summarizer,
		logger:     logger.With("component", "envelope"),
	}
}

// Wrap envelopes a raw tool output. Outputs at or below the threshold pass
// through verbatim with ReturnedCount == ItemCount. Larger outputs are
// summarized; all items are still represented, so the counts stay equal but
// the format flags the abridgement. If the summarizer fails, the output is
// hard-truncated instead and ReturnedCount drops below ItemCount.
func (w *EnvelopeWrapper) Wrap(ctx context.Context, toolName, raw string, itemCount int) ResultEnvelope {
	if itemCount < 1 {
		itemCount = 1
	}

	if len(raw) <= w.threshold {
		return ResultEnvelope{
			Format:        FormatVerbatim,
			ItemCount:     itemCount,
			ReturnedCount: itemCount,
			Content:       raw,
		}
	}

	if w.summarizer != nil {
		summary, err := w.summarizer.Summarize(ctx, envelopeSummaryInstructions, raw)
		if err == nil && summary != "" {
			w.logger.Info("tool output summarized",
				"tool", toolName,
				"raw_chars", len(raw),
				"summary_chars", len(summary),
				"items", itemCount,
			)
			return ResultEnvelope{
				Format:        FormatSummarized,
				ItemCount:     itemCount,
				ReturnedCount: itemCount,
				Content:       summary,
			}
		}
		if err != nil {
			w.logger.Error("tool output summarization failed, falling back to truncation",
				"tool", toolName, "error", err)
		}
	}

	// Truncation keeps a prefix, so estimate the surviving items by the
	// kept fraction of the raw bytes. A single item larger than the
	// threshold rounds down to zero: none of it survived whole. Clamped
	// strictly below itemCount so truncation is always visible.
	returned := min(itemCount*w.threshold/len(raw), itemCount-1)
	return ResultEnvelope{
		Format:        FormatTruncated,
		ItemCount:     itemCount,
		ReturnedCount: returned,
		Content:       raw[:w.threshold] + "... [truncated]",
	}
}
