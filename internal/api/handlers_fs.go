package api

import (
	"net/http"

	"github.com/delacroix-m/sandrun/protocol"
)

type writeFileRequest struct {
	Path          string `json:"path"`
	Text          string `json:"text,omitempty"`
	ContentBase64 string `json:"contentBase64,omitempty"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateWriteRequest(req.Path, req.Text, req.ContentBase64); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	content, encoding := req.Text, "utf-8"
	if req.ContentBase64 != "" {
		content, encoding = req.ContentBase64, "base64"
	}

	result, err := s.files.WriteFile(req.Path, content, encoding)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":      result.Path,
		"timestamp": result.Timestamp.UnixMilli(),
	})
}

type readFileRequest struct {
	Path     string `json:"path"`
	MaxBytes int64  `json:"maxBytes,omitempty"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req readFileRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if req.Path == "" {
		writeValidationError(w, "path is required", nil)
		return
	}
	if err := validateMaxBytes(req.MaxBytes); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	maxBytes := req.MaxBytes
	if maxBytes == 0 {
		maxBytes = protocol.DefaultMaxReadBytes
	}

	result, err := s.files.ReadFile(req.Path, maxBytes)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content":  result.Content,
		"encoding": result.Encoding,
		"isBinary": result.IsBinary,
		"mimeType": result.MimeType,
		"size":     result.Size,
	})
}

type pathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if req.Path == "" {
		writeValidationError(w, "path is required", nil)
		return
	}
	if err := s.files.DeleteFile(req.Path); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

type renameRequest struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if req.OldPath == "" || req.NewPath == "" {
		writeValidationError(w, "oldPath and newPath are required", nil)
		return
	}
	if err := s.files.RenameFile(req.OldPath, req.NewPath); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

type moveRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if req.Src == "" || req.Dst == "" {
		writeValidationError(w, "src and dst are required", nil)
		return
	}
	if err := s.files.MoveFile(req.Src, req.Dst); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

type mkdirRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if req.Path == "" {
		writeValidationError(w, "path is required", nil)
		return
	}
	if err := s.files.Mkdir(req.Path, req.Recursive); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

type listFilesRequest struct {
	Path          string `json:"path"`
	Recursive     bool   `json:"recursive,omitempty"`
	IncludeHidden bool   `json:"includeHidden,omitempty"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	var req listFilesRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if req.Path == "" {
		writeValidationError(w, "path is required", nil)
		return
	}
	entries, err := s.files.ListFiles(req.Path, req.Recursive, req.IncludeHidden)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": entries})
}
