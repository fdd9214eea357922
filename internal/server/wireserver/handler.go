package wireserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/internal/core/service"
)

// Handler dispatches request envelopes to the domain services and answers
// with ack or err envelopes.
type Handler struct {
	registry *service.RegistryService
	verify   *service.VerifyService
	resolver *service.ResolverService
	relay    *service.RelayService
	liveness *service.LivenessService
	hub      *Hub
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(registry *service.RegistryService, verify *service.VerifyService, resolver *service.ResolverService, relay *service.RelayService, liveness *service.LivenessService, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		verify:   verify,
		resolver: resolver,
		relay:    relay,
		liveness: liveness,
		hub:      hub,
		logger:   logger,
	}
}

// Wire request bodies. Connection identity is supplied by the transport,
// never trusted from the payload.

type sessionCheckBody struct {
	SessionID string `json:"session_id"`
}

type sessionCreateBody struct {
	SessionID   string `json:"session_id"`
	Passphrase  string `json:"passphrase"`
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

type sessionJoinBody struct {
	SessionID   string `json:"session_id"`
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

type verifyRequestBody struct {
	SessionID   string `json:"session_id"`
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	Challenge   string `json:"challenge"`
}

type verifySubmitBody struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
}

type clipUpdateBody struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Subtype   string `json:"subtype"`
	Timestamp int64  `json:"timestamp"`
}

type fileBroadcastBody struct {
	SessionID string `json:"session_id"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	Content   string `json:"content"`
}

type fileMetadataBody struct {
	SessionID  string `json:"session_id"`
	TransferID string `json:"transfer_id"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	Size       int    `json:"size"`
	ChunkCount int    `json:"chunk_count"`
}

type fileChunkBody struct {
	SessionID  string `json:"session_id"`
	TransferID string `json:"transfer_id"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Data       string `json:"data"`
}

type pongBody struct {
	SessionID string `json:"session_id"`
}

// Handle dispatches one request envelope.
func (h *Handler) Handle(ctx context.Context, c *Conn, env *Envelope) {
	switch env.Type {
	case TypeSessionCheck:
		h.handleSessionCheck(ctx, c, env)
	case TypeSessionCreate:
		h.handleSessionCreate(ctx, c, env)
	case TypeSessionJoin:
		h.handleSessionJoin(ctx, c, env)
	case TypeSessionLeave:
		h.handleSessionLeave(ctx, c, env)
	case TypeVerifyRequest:
		h.handleVerifyRequest(ctx, c, env)
	case TypeVerifySubmit:
		h.handleVerifySubmit(ctx, c, env)
	case TypeClipUpdate:
		h.handleClipUpdate(ctx, c, env)
	case TypeClipGet:
		h.handleClipGet(ctx, c, env)
	case TypeFileBroadcast:
		h.handleFileBroadcast(ctx, c, env)
	case TypeFileMetadata:
		h.handleFileMetadata(ctx, c, env)
	case TypeFileChunk:
		h.handleFileChunk(ctx, c, env)
	case TypePong:
		h.handlePong(ctx, c, env)
	default:
		h.writeError(c, env.ID, domain.ErrInvalidArgument.WithDetails("unknown message type "+env.Type))
	}
}

// Disconnect cleans up after a closed connection: any pending verification
// is cancelled and the member is removed from its session.
func (h *Handler) Disconnect(ctx context.Context, c *Conn) {
	h.verify.CancelConn(c.ID())
	if sessionID := c.Session(); sessionID != "" {
		h.hub.LeaveRoom(sessionID, c.ID())
		h.registry.Leave(ctx, sessionID, c.ID())
	}
	h.hub.Unregister(c.ID())
}

func (h *Handler) handleSessionCheck(ctx context.Context, c *Conn, env *Envelope) {
	var body sessionCheckBody
	if !h.decode(c, env, &body) {
		return
	}
	resp, err := h.registry.CheckSession(ctx, body.SessionID)
	if err != nil {
		h.writeError(c, env.ID, err)
		return
	}
	h.writeAck(c, env.ID, resp)
}

func (h *Handler) handleSessionCreate(ctx context.Context, c *Conn, env *Envelope) {
	var body sessionCreateBody
	if !h.decode(c, env, &body) {
		return
	}
	resp, err := h.registry.CreateSession(ctx, &service.CreateSessionRequest{
		SessionID:   body.SessionID,
		Passphrase:  body.Passphrase,
		ConnID:      c.ID(),
		ClientID:    body.ClientID,
		Name:        body.Name,
		Fingerprint: body.Fingerprint,
	})
	if err != nil {
		h.writeError(c, env.ID, err)
		return
	}
	h.bind(c, body.SessionID)
	h.writeAck(c, env.ID, map[string]any{
		"success":        true,
		"is_new_session": resp.IsNewSession,
		"member":         resp.Member,
		"member_count":   resp.MemberCount,
	})
}

func (h *Handler) handleSessionJoin(ctx context.Context, c *Conn, env *Envelope) {
	var body sessionJoinBody
	if !h.decode(c, env, &body) {
		return
	}
	resp, err := h.registry.JoinSession(ctx, &service.JoinSessionRequest{
		SessionID:   body.SessionID,
		ConnID:      c.ID(),
		ClientID:    body.ClientID,
		Name:        body.Name,
		Fingerprint: body.Fingerprint,
	})
	if err != nil {
		h.writeError(c, env.ID, err)
		return
	}
	h.bind(c, body.SessionID)
	h.writeAck(c, env.ID, resp)
}

func (h *Handler) handleSessionLeave(ctx context.Context, c *Conn, env *Envelope) {
	sessionID := c.Session()
	if sessionID != "" {
		h.hub.LeaveRoom(sessionID, c.ID())
		h.registry.Leave(ctx, sessionID, c.ID())
		c.BindSession("")
	}
	h.writeAck(c, env.ID, map[string]any{"left": sessionID != ""})
}

func (h *Handler) handleVerifyRequest(ctx context.Context, c *Conn, env *Envelope) {
	var body verifyRequestBody
	if !h.decode(c, env, &body) {
		return
	}
	resp, err := h.verify.RequestJoin(ctx, &service.RequestJoinRequest{
		SessionID:   body.SessionID,
		ConnID:      c.ID(),
		ClientID:    body.ClientID,
		Name:        body.Name,
		Fingerprint: body.Fingerprint,
		Challenge:   body.Challenge,
	})
	if err != nil {
		h.writeError(c, env.ID, err)
		return
	}
	if resp.AutoAuthorized {
		h.bind(c, body.SessionID)
	}
	h.writeAck(c, env.ID, resp)
}

func (h *Handler) handleVerifySubmit(ctx context.Context, c *Conn, env *Envelope) {
	var body verifySubmitBody
	if !h.decode(c, env, &body) {
		return
	}
	// An approved joiner becomes part of the session room. Attach the
	// connection before the verdict lands so the member-joined and roster
	// broadcasts reach the new member too.
	var target *Conn
	if body.Approved {
		if tc, ok := h.hub.Conn(body.RequestID); ok {
			target = tc
			h.hub.JoinRoom(body.SessionID, target)
		}
	}
	err := h.verify.SubmitVerdict(ctx, &service.SubmitVerdictRequest{
		SessionID:     body.SessionID,
		VoucherConnID: c.ID(),
		TargetConnID:  body.RequestID,
		Approved:      body.Approved,
	})
	if err != nil {
		if target != nil {
			h.hub.LeaveRoom(body.SessionID, target.ID())
		}
		h.writeError(c, env.ID, err)
		return
	}
	if target != nil {
		target.BindSession(body.SessionID)
	}
	h.writeAck(c, env.ID, map[string]any{"recorded": true})
}

func (h *Handler) handleClipUpdate(ctx context.Context, c *Conn, env *Envelope) {
	var body clipUpdateBody
	if !h.decode(c, env, &body) {
		return
	}
	resp, err := h.resolver.Apply(ctx, &service.ApplyRequest{
		SessionID: h.sessionOf(c, body.SessionID),
		ConnID:    c.ID(),
		Type:      domain.ContentType(body.Type),
		Content:   body.Content,
		Subtype:   body.Subtype,
		Timestamp: body.Timestamp,
	})
	if err != nil {
		h.writeError(c, env.ID, err)
		return
	}
	h.writeAck(c, env.ID, resp)
}

func (h *Handler) handleClipGet(ctx context.Context, c *Conn, env *Envelope) {
	var body sessionCheckBody
	if !h.decode(c, env, &body) {
		return
	}
	state, err := h.registry.GetClipboard(ctx, h.sessionOf(c, body.SessionID), c.ID())
	if err != nil {
		h.writeError(c, env.ID, err)
		return
	}
	h.writeAck(c, env.ID, map[string]any{"state": state})
}

func (h *Handler) handleFileBroadcast(ctx context.Context, c *Conn, env *Envelope) {
	var body fileBroadcastBody
	if !h.decode(c, env, &body) {
		return
	}
	err := h.relay.RelayFile(ctx, &service.RelayFileRequest{
		SessionID: h.sessionOf(c, body.SessionID),
		ConnID:    c.ID(),
		FileName:  body.FileName,
		MimeType:  body.MimeType,
		Content:   body.Content,
	})
	if err != nil {
		h.writeError(c, env.ID, err)
		return
	}
	h.writeAck(c, env.ID, map[string]any{"relayed": true})
}

func (h *Handler) handleFileMetadata(ctx context.Context, c *Conn, env *Envelope) {
	var body fileMetadataBody
	if !h.decode(c, env, &body) {
		return
	}
	resp, err := h.relay.RelayMetadata(ctx, &service.RelayMetadataRequest{
		SessionID:  h.sessionOf(c, body.SessionID),
		ConnID:     c.ID(),
		TransferID: body.TransferID,
		FileName:   body.FileName,
		MimeType:   body.MimeType,
		Size:       body.Size,
		ChunkCount: body.ChunkCount,
	})
	if err != nil {
		h.writeError(c, env.ID, err)
		return
	}
	h.writeAck(c, env.ID, resp)
}

func (h *Handler) handleFileChunk(ctx context.Context, c *Conn, env *Envelope) {
	var body fileChunkBody
	if !h.decode(c, env, &body) {
		return
	}
	err := h.relay.RelayChunk(ctx, &service.RelayChunkRequest{
		SessionID:  h.sessionOf(c, body.SessionID),
		ConnID:     c.ID(),
		TransferID: body.TransferID,
		Index:      body.Index,
		Total:      body.Total,
		Data:       body.Data,
	})
	if err != nil {
		h.writeError(c, env.ID, err)
		return
	}
	h.writeAck(c, env.ID, map[string]any{"relayed": true})
}

// handlePong records a probe answer. Pongs carry no request id and get no
// reply; a rejected pong is answered by the session-invalid event the
// liveness service emits.
func (h *Handler) handlePong(ctx context.Context, c *Conn, env *Envelope) {
	var body pongBody
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return
		}
	}
	_ = h.liveness.HandlePong(ctx, h.sessionOf(c, body.SessionID), c.ID())
}

// sessionOf prefers the explicit session ID and falls back to the
// connection's binding.
func (h *Handler) sessionOf(c *Conn, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return c.Session()
}

// bind attaches the connection to its session room.
func (h *Handler) bind(c *Conn, sessionID string) {
	c.BindSession(sessionID)
	h.hub.JoinRoom(sessionID, c)
}

func (h *Handler) decode(c *Conn, env *Envelope, into any) bool {
	if len(env.Data) == 0 {
		h.writeError(c, env.ID, domain.ErrMissingArgument.WithDetails("envelope has no data"))
		return false
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		h.writeError(c, env.ID, domain.ErrInvalidArgument.WithDetails("malformed data: "+err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeAck(c *Conn, id string, data any) {
	env, err := NewAck(id, data)
	if err != nil {
		h.logger.Error("ack marshal failed", "error", err)
		return
	}
	if err := c.write(env); err != nil {
		_ = c.Close()
	}
}

func (h *Handler) writeError(c *Conn, id string, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		de = domain.ErrInternalServer
		h.logger.Error("request failed", "conn_id", c.ID(), "error", err)
	}
	if werr := c.write(NewError(id, de.Code, de.Error())); werr != nil {
		_ = c.Close()
	}
}
