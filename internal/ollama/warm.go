package ollama

import (
	"context"
	"fmt"
	"io"
	"time"
)

const warmTimeout = 30 * time.Second

// Warm loads model into memory with a trivial chat so the first extraction
// does not pay the cold-load penalty. Failure is reported to w, not returned.
func Warm(ctx context.Context, c *Client, model string, w io.Writer) {
	warmCtx, cancel := context.WithTimeout(ctx, warmTimeout)
	defer cancel()
	if _, err := c.Chat(warmCtx, model, []Message{{Role: "user", Content: "ping"}}, nil); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", model, err)
		return
	}
	fmt.Fprintf(w, "model %s: warm\n", model)
}
