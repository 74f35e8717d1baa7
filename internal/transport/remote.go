package transport

import (
	"context"
	"strings"

	"cyclex/internal/hal"
)

// RemoteLogPrefix marks log records mixed into the telemetry stream so
// consumers of the CSV can skip them.
const RemoteLogPrefix = "# "

// RemoteLog forwards log records to a line sink (logx.RemoteSender).
type RemoteLog struct {
	Line hal.Line
}

func (r RemoteLog) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	if text == "" {
		return nil
	}
	return r.Line.TransmitLine(RemoteLogPrefix + text)
}
