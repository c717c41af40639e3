// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package streaming

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pdiddy/deep-research/pkg/types"
)

// WriteSSE writes evt as one Server-Sent Events frame. The data line holds
// the whole event as JSON.
func WriteSSE(w io.Writer, evt types.EngineEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if evt.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", evt.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}

// WriteComment writes an SSE comment line, used for heartbeats.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}
