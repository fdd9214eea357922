package service

import (
	"context"
	"log/slog"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/internal/telemetry/metric"
)

// RelayService forwards file payloads between session members. The server
// is a pure relay: payload bytes pass through verbatim, nothing is
// buffered or reassembled, and per-connection write ordering is the only
// ordering guarantee chunked transfers rely on.
//
// Small files travel as one file-broadcast message. Larger ones are split
// by the sending peer into a metadata message followed by ordered chunks;
// the server forwards each message to the same recipient set as it
// arrives and keeps no transfer state.
type RelayService struct {
	store   SessionStore
	bcast   Broadcaster
	logger  *slog.Logger
	metrics *metric.Registry
}

// NewRelayService creates a RelayService.
func NewRelayService(store SessionStore, bcast Broadcaster, logger *slog.Logger, metrics *metric.Registry) *RelayService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayService{
		store:   store,
		bcast:   bcast,
		logger:  logger,
		metrics: metrics,
	}
}

// FileBroadcastPayload is the body of file-broadcast events: a complete
// file in one message.
type FileBroadcastPayload struct {
	SessionID string `json:"session_id"`
	OriginID  string `json:"origin_id"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type,omitempty"`
	Size      int    `json:"size"`
	Content   string `json:"content"` // opaque, relayed as received
}

// FileMetadataPayload is the body of file-metadata events: the header of a
// chunked transfer.
type FileMetadataPayload struct {
	SessionID  string `json:"session_id"`
	TransferID string `json:"transfer_id"`
	OriginID   string `json:"origin_id"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type,omitempty"`
	Size       int    `json:"size"`
	ChunkCount int    `json:"chunk_count"`
	ChunkSize  int    `json:"chunk_size"`
}

// FileChunkPayload is the body of file-chunk events.
type FileChunkPayload struct {
	SessionID  string `json:"session_id"`
	TransferID string `json:"transfer_id"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Data       string `json:"data"` // opaque, relayed as received
	Last       bool   `json:"last"`
}

// recipients resolves the authorized active members of a session other
// than the sender, failing if the sender itself is not authorized.
func (s *RelayService) recipients(ctx context.Context, sessionID, connID string) ([]string, string, error) {
	var (
		conns    []string
		originID string
	)
	err := s.store.View(ctx, sessionID, func(sess *domain.Session) error {
		sender, ok := sess.Members[connID]
		if !ok || !sender.Authorized {
			return domain.ErrNotAuthorized.WithDetails("sender is not an authorized session member")
		}
		originID = sender.ClientID
		for _, m := range sess.Members {
			if m.ConnID != connID && m.Active && m.Authorized {
				conns = append(conns, m.ConnID)
			}
		}
		return nil
	})
	if err != nil {
		if domain.IsDomainError(err, "CM-AUTH-4030") {
			s.bcast.Send(connID, EventSessionInvalid, SessionInvalidPayload{
				SessionID: sessionID,
				Reason:    "not an authorized member of this session",
			})
		}
		return nil, "", err
	}
	return conns, originID, nil
}

// RelayFileRequest is a complete single-message file broadcast.
type RelayFileRequest struct {
	SessionID string
	ConnID    string
	FileName  string
	MimeType  string
	Content   string
}

// RelayFile forwards a complete file to the sender's session peers.
func (s *RelayService) RelayFile(ctx context.Context, req *RelayFileRequest) error {
	if req.SessionID == "" || req.ConnID == "" {
		return domain.ErrMissingArgument.WithDetails("session_id and conn_id are required")
	}

	conns, originID, err := s.recipients(ctx, req.SessionID, req.ConnID)
	if err != nil {
		return err
	}

	s.bcast.SendConns(conns, EventFileBroadcast, FileBroadcastPayload{
		SessionID: req.SessionID,
		OriginID:  originID,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
		Size:      len(req.Content),
		Content:   req.Content,
	})
	if s.metrics != nil {
		s.metrics.BytesRelayed.Add(float64(len(req.Content) * len(conns)))
		s.metrics.EventsFanout.Observe(float64(len(conns)))
	}
	s.logger.Debug("file relayed",
		"session_id", req.SessionID,
		"size", len(req.Content),
		"recipients", len(conns))
	return nil
}

// RelayMetadataRequest opens a chunked transfer.
type RelayMetadataRequest struct {
	SessionID  string
	ConnID     string
	TransferID string // generated if empty
	FileName   string
	MimeType   string
	Size       int
	ChunkCount int
}

// RelayMetadataResponse carries the transfer ID the chunks must reference.
type RelayMetadataResponse struct {
	TransferID string `json:"transfer_id"`
}

// RelayMetadata forwards a chunked-transfer header to the sender's peers.
func (s *RelayService) RelayMetadata(ctx context.Context, req *RelayMetadataRequest) (*RelayMetadataResponse, error) {
	if req.SessionID == "" || req.ConnID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("session_id and conn_id are required")
	}
	if req.ChunkCount <= 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("chunk_count must be positive")
	}

	transferID := req.TransferID
	if transferID == "" {
		var err error
		transferID, err = domain.GenerateTransferID()
		if err != nil {
			return nil, err
		}
	}

	conns, originID, err := s.recipients(ctx, req.SessionID, req.ConnID)
	if err != nil {
		return nil, err
	}

	s.bcast.SendConns(conns, EventFileMetadata, FileMetadataPayload{
		SessionID:  req.SessionID,
		TransferID: transferID,
		OriginID:   originID,
		FileName:   req.FileName,
		MimeType:   req.MimeType,
		Size:       req.Size,
		ChunkCount: req.ChunkCount,
		ChunkSize:  domain.ChunkSize,
	})
	s.logger.Debug("transfer opened",
		"session_id", req.SessionID,
		"transfer_id", transferID,
		"chunks", req.ChunkCount)
	return &RelayMetadataResponse{TransferID: transferID}, nil
}

// RelayChunkRequest is one chunk of an open transfer.
type RelayChunkRequest struct {
	SessionID  string
	ConnID     string
	TransferID string
	Index      int
	Total      int
	Data       string
}

// RelayChunk forwards one chunk to the sender's peers. The recipient set
// is resolved per chunk: a member that joins mid-transfer receives a tail
// of chunks it cannot assemble and is expected to discard them.
func (s *RelayService) RelayChunk(ctx context.Context, req *RelayChunkRequest) error {
	if req.SessionID == "" || req.ConnID == "" || req.TransferID == "" {
		return domain.ErrMissingArgument.WithDetails("session_id, conn_id and transfer_id are required")
	}
	if req.Index < 0 || req.Total <= 0 || req.Index >= req.Total {
		return domain.ErrInvalidArgument.WithDetails("chunk index out of range")
	}

	conns, _, err := s.recipients(ctx, req.SessionID, req.ConnID)
	if err != nil {
		return err
	}

	s.bcast.SendConns(conns, EventFileChunk, FileChunkPayload{
		SessionID:  req.SessionID,
		TransferID: req.TransferID,
		Index:      req.Index,
		Total:      req.Total,
		Data:       req.Data,
		Last:       req.Index == req.Total-1,
	})
	if s.metrics != nil {
		s.metrics.ChunksRelayed.Inc()
		s.metrics.BytesRelayed.Add(float64(len(req.Data) * len(conns)))
	}
	return nil
}
