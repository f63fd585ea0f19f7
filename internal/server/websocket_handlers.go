package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/toraxia/internal/i18n"
	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketRequest asks for an analysis of an uploaded image ("analyze") or
// for more classes of a retained analysis ("explain").
type WebSocketRequest struct {
	Type       string   `json:"type"`
	Image      []byte   `json:"image,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	AnalysisID string   `json:"id,omitempty"`
	Classes    []string `json:"classes,omitempty"`
	Language   string   `json:"lang,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketResponse is one streamed message. A request produces an
// "analysis" message (analyze only), one "explanation" per class and a final
// "done", or a single "error".
type WebSocketResponse struct {
	Type        string                      `json:"type"`
	Status      string                      `json:"status"` // processing, completed, error
	Progress    float64                     `json:"progress"`
	AnalysisID  string                      `json:"analysis_id,omitempty"`
	Result      *pipeline.Result            `json:"result,omitempty"`
	Explanation *pipeline.ExplanationResult `json:"explanation,omitempty"`
	Overlay     string                      `json:"overlay,omitempty"`
	Error       string                      `json:"error,omitempty"`
	ErrorType   string                      `json:"error_type,omitempty"`
	RequestID   string                      `json:"request_id,omitempty"`
}

// explainWebSocketHandler streams explanations over a WebSocket connection.
func (s *Server) explainWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(conn)
}

// handleWebSocketConnection processes messages until the client goes away.
func (s *Server) handleWebSocketConnection(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(conn, data)
		}
	}
}

// handleWebSocketMessage processes one request message.
func (s *Server) handleWebSocketMessage(conn WebSocketConnWriter, data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	requestID := uuid.NewString()
	tr := i18n.New(s.language)
	if req.Language != "" {
		tr = i18n.New(req.Language)
	}

	switch req.Type {
	case "analyze":
		s.processWebSocketAnalyze(conn, req, tr, requestID)
	case "explain":
		s.processWebSocketExplain(conn, req, tr, requestID)
	default:
		s.sendWebSocketError(conn, requestID, "invalid_request", "Unsupported request type: "+req.Type)
	}
}

func (s *Server) processWebSocketAnalyze(conn WebSocketConnWriter, req WebSocketRequest, tr *i18n.Translator, requestID string) {
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, requestID, "invalid_request", "No image data provided")
		return
	}
	if int64(len(req.Image)) > s.maxUploadMB*1024*1024 {
		s.sendWebSocketError(conn, requestID, "invalid_request", "Image too large")
		return
	}
	uploadSizeBytes.Observe(float64(len(req.Image)))

	img, _, err := utils.DecodeImage(bytes.NewReader(req.Image))
	if err != nil {
		s.sendWebSocketError(conn, requestID, "invalid_request", fmt.Sprintf("Failed to decode image: %v", err))
		return
	}
	if err := utils.ValidateImageConstraints(img, s.constraints); err != nil {
		s.sendWebSocketError(conn, requestID, "invalid_request", err.Error())
		return
	}

	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "analysis",
		Status:    "processing",
		RequestID: requestID,
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	an, err := s.analyze(ctx, img)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "processing_error", fmt.Sprintf("Analysis failed: %v", err))
		return
	}
	res, err := pipeline.NewResult(an, tr)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "processing_error", err.Error())
		return
	}
	res.File = req.Filename

	total := float64(len(req.Classes) + 1)
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:       "analysis",
		Status:     "processing",
		Progress:   1 / total,
		AnalysisID: an.ID,
		Result:     res,
		Overlay:    encodeOverlay(an.Explanation),
		RequestID:  requestID,
	})
	s.streamExplanations(conn, an, req.Classes, tr, requestID, 1, total)
}

func (s *Server) processWebSocketExplain(conn WebSocketConnWriter, req WebSocketRequest, tr *i18n.Translator, requestID string) {
	an, err := s.sessions.Get(req.AnalysisID)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "not_found", "Analysis not found or expired")
		return
	}
	if len(req.Classes) == 0 {
		s.sendWebSocketError(conn, requestID, "invalid_request", "No classes provided")
		return
	}
	s.streamExplanations(conn, an, req.Classes, tr, requestID, 0, float64(len(req.Classes)))
}

// streamExplanations sends one message per class. Unknown classes produce an
// error message but do not stop the stream.
func (s *Server) streamExplanations(conn WebSocketConnWriter, an *pipeline.Analysis, classes []string,
	tr *i18n.Translator, requestID string, done, total float64,
) {
	for _, name := range classes {
		done++
		ex, err := s.explainClass(an, name, tr)
		if err != nil {
			s.sendWebSocketError(conn, requestID, "explain_error", err.Error())
			continue
		}
		res := pipeline.NewExplanationResult(ex, tr)
		s.sendWebSocketResponse(conn, WebSocketResponse{
			Type:        "explanation",
			Status:      "processing",
			Progress:    done / total,
			AnalysisID:  an.ID,
			Explanation: &res,
			Overlay:     encodeOverlay(ex),
			RequestID:   requestID,
		})
	}
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:       "done",
		Status:     "completed",
		Progress:   1,
		AnalysisID: an.ID,
		RequestID:  requestID,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
