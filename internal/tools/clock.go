package tools

import (
	"context"
	"time"
)

// ClockTool reports the current time. Tiny, but it gives plans a tool with
// no arguments and no failure modes.
type ClockTool struct {
	Now func() time.Time
}

func NewClockTool() *ClockTool {
	return &ClockTool{Now: time.Now}
}

func (c *ClockTool) Name() string { return "clock" }

func (c *ClockTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return c.Now().UTC().Format(time.RFC3339), nil
}
