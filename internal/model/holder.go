package model

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/dimfocus/internal/observe"
)

// Holder publishes the current TrainedModel to concurrent readers. Readers
// call Current on every operation and keep the returned pointer for its
// duration; writers replace the pointer wholesale.
//
// The zero value holds no model and is ready to use.
type Holder struct {
	current atomic.Pointer[TrainedModel]
	metrics *observe.Metrics
}

// NewHolder returns an empty Holder that records swaps to m. A nil m uses
// [observe.DefaultMetrics].
func NewHolder(m *observe.Metrics) *Holder {
	return &Holder{metrics: m}
}

// Current returns the live model or [ErrModelNotLoaded].
func (h *Holder) Current() (*TrainedModel, error) {
	m := h.current.Load()
	if m == nil {
		return nil, ErrModelNotLoaded
	}
	return m, nil
}

// Loaded reports whether a model is available.
func (h *Holder) Loaded() bool {
	return h.current.Load() != nil
}

// Swap installs m and returns the previous model (nil if none). source labels
// the swap in metrics and logs ("train", "load", "reload").
func (h *Holder) Swap(ctx context.Context, m *TrainedModel, source string) *TrainedModel {
	old := h.current.Swap(m)

	met := h.metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	selected := 0
	if m != nil {
		selected = m.SelectedCount()
	}
	met.RecordModelSwap(ctx, source, selected)

	attrs := []any{"source", source, "selected_dimensions", selected}
	if m != nil {
		attrs = append(attrs, "model_id", m.ID().String())
	}
	if old != nil {
		attrs = append(attrs, "previous_id", old.ID().String())
	}
	observe.Logger(ctx).Info("trained model swapped", attrs...)
	return old
}
