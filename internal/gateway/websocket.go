package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-reader/internal/controller"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/loqalabs/loqa-reader/internal/surface"
)

const writeWait = 5 * time.Second

// Actions a websocket client may send.
const (
	ActionReadAloud    = "readAloud"
	ActionStopPlayback = "stopPlayback"
	ActionPause        = "pause"
	ActionResume       = "resume"
	ActionToggle       = "toggle"
	ActionSkip         = "skip"
	ActionGetSettings  = "getSettings"
	ActionSaveSettings = "saveSettings"
)

// ClientMessage is one inbound websocket frame.
type ClientMessage struct {
	ID       string                   `json:"id,omitempty"`
	Action   string                   `json:"action"`
	Text     string                   `json:"text,omitempty"`
	Settings *protocol.SettingsRecord `json:"settings,omitempty"`
}

// ReplyMessage answers a ClientMessage with the same id.
type ReplyMessage struct {
	Type     string                   `json:"type"`
	ID       string                   `json:"id,omitempty"`
	Action   string                   `json:"action"`
	Outcome  string                   `json:"outcome"`
	Error    string                   `json:"error,omitempty"`
	Settings *protocol.SettingsRecord `json:"settings,omitempty"`
}

// WebsocketHandler serves /ws?surface=<id>. The connection is the surface:
// UI events are written to it and closing it removes the controller it
// installed.
type WebsocketHandler struct {
	ctx      context.Context
	registry *surface.Registry
	settings SettingsStore
	timeout  time.Duration
	origins  map[string]struct{}
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWebsocketHandler accepts browser connections from the daemon's own
// host and from allowedOrigins. Clients that send no Origin header are not
// browsers and are accepted.
func NewWebsocketHandler(ctx context.Context, registry *surface.Registry, store SettingsStore, timeout time.Duration, allowedOrigins []string, log *slog.Logger) *WebsocketHandler {
	h := &WebsocketHandler{
		ctx:      ctx,
		registry: registry,
		settings: store,
		timeout:  timeout,
		origins:  make(map[string]struct{}, len(allowedOrigins)),
		log:      log.With(slog.String("component", "gateway-ws")),
	}
	for _, origin := range allowedOrigins {
		if o := normalizeOrigin(origin); o != "" {
			h.origins[o] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WebsocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := h.origins[normalizeOrigin(origin)]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	h.log.Warn("websocket origin rejected", slog.String("origin", origin))
	return false
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	surfaceID := strings.TrimSpace(r.URL.Query().Get("surface"))
	if surfaceID == "" {
		http.Error(w, "surface query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slogError(err))
		return
	}
	defer conn.Close()

	ui := &wsSurface{conn: conn, log: h.log.With(slog.String("surface_id", surfaceID))}
	defer h.registry.RemoveOwned(surfaceID, ui)

	h.log.Info("surface connected", slog.String("surface_id", surfaceID))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read ended", slog.String("surface_id", surfaceID), slogError(err))
			}
			h.log.Info("surface disconnected", slog.String("surface_id", surfaceID))
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ui.writeJSON(ReplyMessage{Type: "reply", Outcome: protocol.OutcomeError, Error: "invalid message"})
			continue
		}
		ui.writeJSON(h.dispatch(surfaceID, ui, msg))
	}
}

func (h *WebsocketHandler) dispatch(surfaceID string, ui *wsSurface, msg ClientMessage) ReplyMessage {
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()

	var reply protocol.CommandReply
	var rec *protocol.SettingsRecord
	switch msg.Action {
	case ActionReadAloud:
		reply = readReply(h.registry.Read(ctx, surfaceID, ui, msg.Text))
	case ActionStopPlayback:
		reply = protocol.CommandReply{Outcome: h.registry.Stop(ctx, surfaceID).String()}
	case ActionPause, ActionResume, ActionToggle, ActionSkip:
		result, err := h.registry.Control(ctx, surfaceID, msg.Action)
		if err != nil {
			reply = errorReply(err)
		} else {
			reply = protocol.CommandReply{Outcome: result.String()}
		}
	case ActionGetSettings:
		stored, err := h.settings.Get(ctx)
		if err != nil {
			reply = errorReply(err)
			break
		}
		wire := toWire(stored)
		rec = &wire
		reply = protocol.CommandReply{Outcome: protocol.OutcomeDelivered}
	case ActionSaveSettings:
		if msg.Settings == nil {
			reply = protocol.CommandReply{Outcome: protocol.OutcomeInvalid, Error: "settings are required"}
			break
		}
		reply = saveReply(saveSettings(ctx, h.settings, *msg.Settings))
	default:
		reply = protocol.CommandReply{Outcome: protocol.OutcomeError, Error: "unknown action " + msg.Action}
	}

	return ReplyMessage{
		Type:     "reply",
		ID:       msg.ID,
		Action:   msg.Action,
		Outcome:  reply.Outcome,
		Error:    reply.Error,
		Settings: rec,
	}
}

// wsSurface writes UI events to one websocket connection. Writes come from
// both the read loop and the controller loop.
type wsSurface struct {
	connMu sync.Mutex
	conn   *websocket.Conn
	log    *slog.Logger
}

var _ controller.Surface = (*wsSurface)(nil)

func (s *wsSurface) ShowProgress(p controller.Progress) { s.send(progressEvent(p)) }

func (s *wsSurface) Hide() { s.send(protocol.UIEvent{Type: protocol.UIHide}) }

func (s *wsSurface) SetPauseLabel(label string) {
	s.send(protocol.UIEvent{Type: protocol.UIPauseLabel, Label: label})
}

func (s *wsSurface) SetNextEnabled(enabled bool) {
	s.send(protocol.UIEvent{Type: protocol.UINextEnabled, Enabled: enabled})
}

func (s *wsSurface) Notice(message string) {
	s.send(protocol.UIEvent{Type: protocol.UINotice, Message: message})
}

func (s *wsSurface) OpenSettings() { s.send(protocol.UIEvent{Type: protocol.UIOpenSettings}) }

func (s *wsSurface) send(ev protocol.UIEvent) {
	ev.Timestamp = time.Now().UTC()
	s.writeJSON(ev)
}

func (s *wsSurface) writeJSON(v any) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Debug("websocket write failed", slogError(err))
	}
}
