package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ba-agent-core/internal/errors"
	"ba-agent-core/internal/filestore"
	"ba-agent-core/pkg/types"
)

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
	TokensUsed     int    `json:"tokens_used"`
	SessionTokens  int    `json:"session_tokens"`
	DurationMS     int64  `json:"duration_ms"`
}

func (r *Router) handleChat(w http.ResponseWriter, req *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		errors.New(errors.KindBadInput, "malformed chat request body").WriteHTTPError(w)
		return
	}
	if body.Message == "" {
		errors.New(errors.KindBadInput, "message cannot be empty").WriteHTTPError(w)
		return
	}

	user, err := userFromContext(req.Context())
	if err != nil {
		errors.New(errors.KindNotPermitted, "missing session").WriteHTTPError(w)
		return
	}

	conversationID := body.ConversationID
	if conversationID == "" {
		conversationID = "conv_" + user.SessionID
	}

	result := r.loop.Handle(req.Context(), conversationID, body.Message)
	if !result.Success {
		errors.New(errors.KindInternal, result.Error).WriteHTTPError(w)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: result.ConversationID,
		Response:       result.Response,
		TokensUsed:     result.TokensUsed,
		SessionTokens:  result.SessionTokens,
		DurationMS:     result.DurationMS,
	})
}

func (r *Router) handleFileUpload(w http.ResponseWriter, req *http.Request) {
	user, err := userFromContext(req.Context())
	if err != nil {
		errors.New(errors.KindNotPermitted, "missing session").WriteHTTPError(w)
		return
	}

	category := types.Category(req.URL.Query().Get("category"))
	if !category.Valid() {
		errors.New(errors.KindBadInput, "unknown or missing category query parameter").WriteHTTPError(w)
		return
	}

	content, err := io.ReadAll(io.LimitReader(req.Body, 64<<20))
	if err != nil {
		errors.Wrap(errors.KindBadInput, "failed to read upload body", err).WriteHTTPError(w)
		return
	}

	ref, err := r.files.Store(category, content, storeOptionsFromRequest(req, user))
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ref)
}

func (r *Router) handleFileList(w http.ResponseWriter, req *http.Request) {
	user, err := userFromContext(req.Context())
	if err != nil {
		errors.New(errors.KindNotPermitted, "missing session").WriteHTTPError(w)
		return
	}
	category := types.Category(req.URL.Query().Get("category"))
	if !category.Valid() {
		errors.New(errors.KindBadInput, "unknown or missing category query parameter").WriteHTTPError(w)
		return
	}

	files, err := r.files.ListFiles(category, user.SessionID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (r *Router) handleFileFetch(w http.ResponseWriter, req *http.Request) {
	user, err := userFromContext(req.Context())
	if err != nil {
		errors.New(errors.KindNotPermitted, "missing session").WriteHTTPError(w)
		return
	}

	ref := types.FileRef{
		Category: types.Category(chi.URLParam(req, "category")),
		FileID:   chi.URLParam(req, "fileID"),
	}
	if !user.toCaller().CanAccess(ref) {
		errors.New(errors.KindNotPermitted, "not permitted to access this file").WriteHTTPError(w)
		return
	}

	content, err := r.files.Retrieve(ref)
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(content)
}

func (r *Router) handleFileDelete(w http.ResponseWriter, req *http.Request) {
	user, err := userFromContext(req.Context())
	if err != nil {
		errors.New(errors.KindNotPermitted, "missing session").WriteHTTPError(w)
		return
	}

	ref := types.FileRef{
		Category: types.Category(chi.URLParam(req, "category")),
		FileID:   chi.URLParam(req, "fileID"),
	}
	if !user.toCaller().CanAccess(ref) {
		errors.New(errors.KindNotPermitted, "not permitted to delete this file").WriteHTTPError(w)
		return
	}

	deleted, err := r.files.Delete(ref)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if !deleted {
		errors.New(errors.KindNotFound, "file not found").WriteHTTPError(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func storeOptionsFromRequest(req *http.Request, user User) filestore.StoreOptions {
	return filestore.StoreOptions{
		Filename:  req.URL.Query().Get("filename"),
		SessionID: user.SessionID,
		MIME:      req.Header.Get("Content-Type"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeStoreErr(w http.ResponseWriter, err error) {
	if rtErr, ok := err.(*errors.RuntimeError); ok {
		rtErr.WriteHTTPError(w)
		return
	}
	errors.Wrap(errors.KindInternal, "file store operation failed", err).WriteHTTPError(w)
}
