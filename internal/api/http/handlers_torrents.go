package apihttp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"torrentd/internal/domain"
)

// handlerTimeout caps command execution so a wedged backend never blocks a
// handler indefinitely.
const handlerTimeout = 30 * time.Second

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAddTorrent(w, r)
	case http.MethodGet:
		s.handleListTorrents(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type addTorrentRequest struct {
	Magnet   string                   `json:"magnet,omitempty"`
	Metainfo []byte                   `json:"metainfo,omitempty"`
	FilePath string                   `json:"filePath,omitempty"`
	Options  domain.AddTorrentOptions `json:"options,omitempty"`
}

type addTorrentResponse struct {
	ID domain.TorrentID `json:"id"`
}

func (s *Server) handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	var body addTorrentRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}

	request := domain.AddTorrent{
		ID: uuid.New(),
		Source: domain.TorrentSource{
			Magnet:   strings.TrimSpace(body.Magnet),
			Metainfo: body.Metainfo,
			FilePath: strings.TrimSpace(body.FilePath),
		},
		Options: body.Options,
	}
	if err := request.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	if err := s.workflow.AddTorrent(ctx, request); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addTorrentResponse{ID: request.ID})
}

type torrentList struct {
	Items []domain.TorrentStatus `json:"items"`
	Count int                    `json:"count"`
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	if s.inspector == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "inspector not configured")
		return
	}
	statuses, err := s.inspector.ListTorrents(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if statuses == nil {
		statuses = []domain.TorrentStatus{}
	}
	writeJSON(w, http.StatusOK, torrentList{Items: statuses, Count: len(statuses)})
}

// handleTorrentByID routes /api/torrents/{id} and /api/torrents/{id}/{action}.
func (s *Server) handleTorrentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/torrents/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := parseTorrentID(idPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid torrent id")
		return
	}

	if action == "" {
		switch r.Method {
		case http.MethodGet:
			s.handleGetTorrent(w, r, id)
		case http.MethodDelete:
			s.handleRemoveTorrent(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	s.handleTorrentAction(w, r, id, action)
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	if s.inspector == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "inspector not configured")
		return
	}
	status, err := s.inspector.GetTorrent(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRemoveTorrent(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	withData, err := parseBoolQuery(r.URL.Query().Get("withData"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid withData")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	if err := s.workflow.RemoveTorrent(ctx, id, domain.RemoveTorrent{WithData: withData}); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTorrentAction(w http.ResponseWriter, r *http.Request, id domain.TorrentID, action string) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	switch action {
	case "pause":
		s.requirePost(w, r, func() error { return s.workflow.PauseTorrent(ctx, id) })
	case "resume":
		s.requirePost(w, r, func() error { return s.workflow.ResumeTorrent(ctx, id) })
	case "reannounce":
		s.requirePost(w, r, func() error { return s.workflow.Reannounce(ctx, id) })
	case "recheck":
		s.requirePost(w, r, func() error { return s.workflow.Recheck(ctx, id) })
	case "sequential":
		s.handleSequential(w, r, ctx, id)
	case "limits":
		s.handleTorrentLimits(w, r, ctx, id)
	case "selection":
		s.handleSelection(w, r, ctx, id)
	case "options":
		s.handleOptions(w, r, ctx, id)
	case "trackers":
		s.handleTrackers(w, r, ctx, id)
	case "webseeds":
		s.handleWebSeeds(w, r, ctx, id)
	case "move":
		s.handleMove(w, r, ctx, id)
	case "deadline":
		s.handleDeadline(w, r, ctx, id)
	case "peers":
		s.handlePeers(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
	}
}

// requirePost runs a body-less command for POST requests.
func (s *Server) requirePost(w http.ResponseWriter, r *http.Request, run func() error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := run(); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sequentialRequest struct {
	Sequential bool `json:"sequential"`
}

func (s *Server) handleSequential(w http.ResponseWriter, r *http.Request, ctx context.Context, id domain.TorrentID) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body sequentialRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if err := s.workflow.SetSequential(ctx, id, body.Sequential); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTorrentLimits(w http.ResponseWriter, r *http.Request, ctx context.Context, id domain.TorrentID) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body domain.TorrentRateLimit
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if err := s.workflow.UpdateLimits(ctx, &id, body); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGlobalLimits serves PUT /api/limits, the session-wide rate caps.
func (s *Server) handleGlobalLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body domain.TorrentRateLimit
	if !decodeJSONBody(w, r, &body) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()
	if err := s.workflow.UpdateLimits(ctx, nil, body); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request, ctx context.Context, id domain.TorrentID) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body domain.FileSelectionUpdate
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if err := s.workflow.UpdateSelection(ctx, id, body); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request, ctx context.Context, id domain.TorrentID) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body domain.TorrentOptionsUpdate
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if err := s.workflow.UpdateOptions(ctx, id, body); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrackers(w http.ResponseWriter, r *http.Request, ctx context.Context, id domain.TorrentID) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body domain.TorrentTrackersUpdate
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if err := s.workflow.UpdateTrackers(ctx, id, body); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSeeds(w http.ResponseWriter, r *http.Request, ctx context.Context, id domain.TorrentID) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body domain.TorrentWebSeedsUpdate
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if err := s.workflow.UpdateWebSeeds(ctx, id, body); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	DownloadDir string `json:"downloadDir"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, ctx context.Context, id domain.TorrentID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body moveRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	dir := strings.TrimSpace(body.DownloadDir)
	if dir == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "downloadDir is required")
		return
	}
	if err := s.workflow.MoveTorrent(ctx, id, dir); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deadlineRequest struct {
	FileIndex  int   `json:"fileIndex"`
	Offset     int64 `json:"offset"`
	DeadlineMs int64 `json:"deadlineMs"`
}

func (s *Server) handleDeadline(w http.ResponseWriter, r *http.Request, ctx context.Context, id domain.TorrentID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body deadlineRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if body.FileIndex < 0 || body.Offset < 0 || body.DeadlineMs < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "fileIndex, offset and deadlineMs must be non-negative")
		return
	}
	deadline := time.Duration(body.DeadlineMs) * time.Millisecond
	if err := s.workflow.SetPieceDeadline(ctx, id, body.FileIndex, body.Offset, deadline); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type peersResponse struct {
	Items []domain.PeerSnapshot `json:"items"`
	Count int                   `json:"count"`
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.inspector == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "inspector not configured")
		return
	}
	peers, err := s.inspector.Peers(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if peers == nil {
		peers = []domain.PeerSnapshot{}
	}
	writeJSON(w, http.StatusOK, peersResponse{Items: peers, Count: len(peers)})
}

type capabilitiesResponse struct {
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	names := s.workflow.Capabilities().Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, capabilitiesResponse{Capabilities: names})
}
