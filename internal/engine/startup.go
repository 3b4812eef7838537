package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable. Backends that manage
// models locally also get model pulled when it is missing, with progress
// output written to w.
func EnsureReady(ctx context.Context, e Engine, model string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%s backend is not reachable; please ensure it is started", e.Name())
	}

	mm, ok := e.(ModelManager)
	if !ok || model == "" {
		fmt.Fprintf(w, "%s backend: ready\n", e.Name())
		return nil
	}

	if !mm.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := mm.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, float64(p.Completed)/float64(p.Total)*100)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)

	if wm, ok := e.(Warmer); ok {
		wm.Warm(ctx, model, w)
	}
	return nil
}
