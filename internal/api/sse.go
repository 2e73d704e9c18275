package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/grepshot/grepshot/internal/pipeline"
)

// handleProcessEvents streams pipeline state changes as server-sent events
// until the run stops or the client disconnects.
func handleProcessEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ch := deps.Pipeline.Subscribe()
		defer deps.Pipeline.Unsubscribe(ch)

		// Send the current state first so clients that connect mid-run
		// do not start blind. If the run already stopped there will be
		// no further updates, so finish the stream right away.
		current := deps.Pipeline.Progress()
		writeSSEEvent(w, "progress", current)
		flusher.Flush()
		if !current.Running {
			writeSSEEvent(w, "done", current)
			flusher.Flush()
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case state, open := <-ch:
				if !open {
					return
				}
				writeSSEEvent(w, "progress", state)
				flusher.Flush()
				if !state.Running {
					writeSSEEvent(w, "done", state)
					flusher.Flush()
					return
				}
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, state pipeline.State) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
