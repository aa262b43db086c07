package http

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/driftline/compex/internal/dataset"
	"github.com/driftline/compex/internal/metrics"
	"github.com/driftline/compex/internal/simulate"
)

// streamBatchSize caps the rows carried per websocket message.
const streamBatchSize = 1000

// StreamMessage is the envelope for the simulation stream. Type is one of
// "batch", "complete" or "error".
type StreamMessage struct {
	Type    string       `json:"type"`
	Batch   *StreamBatch `json:"batch,omitempty"`
	Events  int          `json:"events,omitempty"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}

// StreamBatch carries a contiguous slice of simulated events in both
// coordinate systems.
type StreamBatch struct {
	Offset   int                  `json:"offset"`
	Uniform  map[string][]float64 `json:"uniform"`
	Physical map[string][]float64 `json:"physical"`
}

// handleSimulateStream upgrades the connection, reads one SimulateRequest
// message, and streams the simulated event set back in batches followed by a
// completion message. Any failure is reported as an error message before the
// close.
func (s *Server) handleSimulateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	var req SimulateRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeStreamError(conn, "invalid_json", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeStreamError(conn, "validation_failed", err.Error())
		return
	}
	tbl, tails, cop, err := req.models()
	if err != nil {
		writeStreamError(conn, "invalid_model", err.Error())
		return
	}

	timer := s.metrics.StartStage(metrics.StageSimulate)
	res, err := simulate.Joint(tbl, tails, cop, req.Mu, req.Years, req.Seed)
	if err != nil {
		timer.Stop(metrics.ResultError)
		writeStreamError(conn, "simulation_failed", err.Error())
		return
	}
	timer.Stop(metrics.ResultSuccess)
	s.metrics.AddSimulatedEvents(res.Physical.Rows())

	// Drain client messages so a close from the other side ends the stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	total := res.Physical.Rows()
	for off := 0; off < total; off += streamBatchSize {
		end := min(off+streamBatchSize, total)
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		default:
		}
		msg := StreamMessage{Type: "batch", Batch: &StreamBatch{
			Offset:   off,
			Uniform:  sliceColumns(res.Uniform, off, end),
			Physical: sliceColumns(res.Physical, off, end),
		}}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	if err := conn.WriteJSON(StreamMessage{Type: "complete", Events: total}); err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}

func writeStreamError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(StreamMessage{Type: "error", Code: code, Message: message})
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, code))
}

func sliceColumns(t *dataset.Table, from, to int) map[string][]float64 {
	out := make(map[string][]float64, len(t.Columns()))
	for _, name := range t.Columns() {
		col, err := t.Column(name)
		if err != nil {
			continue
		}
		out[name] = col[from:to]
	}
	return out
}
