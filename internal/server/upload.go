package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MuhamedUsman/letstream/internal/artifact"
	"github.com/MuhamedUsman/letstream/internal/catalog"
	"github.com/MuhamedUsman/letstream/internal/upload"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// createUploadHandler opens a chunked upload session. The client declares
// the file up front and commits to a chunk count; every chunk but the last
// must then carry ceil(fileSize/totalChunks) bytes, which must fit the
// configured per-chunk cap.
func (s *Server) createUploadHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		FileName    string `json:"fileName"`
		FileSize    uint64 `json:"fileSize"`
		MimeType    string `json:"mimeType"`
		TotalChunks int    `json:"totalChunks"`
		FolderID    string `json:"folderId"`
	}
	if err := s.readJSON(w, r, &input); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}

	maxSize := s.Config.Upload.MaxFileSizeBytes()
	maxChunk := s.Config.Upload.MaxChunkSizeBytes()
	switch {
	case input.FileName == "":
		s.badRequestResponse(w, r, errors.New("fileName must be provided"))
		return
	case input.FileSize == 0:
		s.badRequestResponse(w, r, errors.New("fileSize must be greater than zero"))
		return
	case input.FileSize > maxSize:
		s.quotaExceededResponse(w, r,
			fmt.Errorf("fileSize exceeds the %s limit", humanize.IBytes(maxSize)))
		return
	case input.TotalChunks > 0 && ceilDiv(input.FileSize, uint64(input.TotalChunks)) > maxChunk:
		s.badRequestResponse(w, r,
			fmt.Errorf("%d chunks of a %s file exceed the %s chunk limit, send more chunks",
				input.TotalChunks, humanize.IBytes(input.FileSize), humanize.IBytes(maxChunk)))
		return
	}

	uploadID := uuid.NewString()
	sess, err := s.Uploads.Create(uploadID, upload.Meta{
		RequesterID: requesterFrom(r),
		FileName:    input.FileName,
		FileSize:    input.FileSize,
		MimeType:    input.MimeType,
		TotalChunks: input.TotalChunks,
		FolderID:    input.FolderID,
	})
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrTooManyChunks):
			s.quotaExceededResponse(w, r, err)
		case errors.Is(err, upload.ErrAlreadyExists):
			s.conflictResponse(w, r, "an upload with this id already exists, retry the request")
		default:
			s.serverErrorResponse(w, r, err)
		}
		return
	}

	data := envelop{
		"uploadId":    sess.UploadID,
		"chunkSize":   ceilDiv(sess.FileSize, uint64(sess.TotalChunks)),
		"totalChunks": sess.TotalChunks,
	}
	if err = s.writeJSON(w, data, http.StatusCreated, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

// uploadStatusHandler reports session progress including the missing chunk
// indices, the list a client resumes from after an interrupted upload.
func (s *Server) uploadStatusHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	missing, err := s.Uploads.Missing(sess.UploadID)
	if err != nil {
		s.notFoundResponse(w, r)
		return
	}
	data := envelop{
		"uploadId":      sess.UploadID,
		"fileName":      sess.FileName,
		"fileSize":      sess.FileSize,
		"status":        sess.Status(),
		"received":      sess.Received,
		"totalChunks":   sess.TotalChunks,
		"complete":      sess.Complete(),
		"missingChunks": missing,
	}
	if err = s.writeJSON(w, data, http.StatusOK, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

// uploadChunkHandler ingests one chunk: bytes to the artifact store first,
// then the index into the session record. Re-submitting an index replaces
// the stored bytes and leaves the tally unchanged, so clients retry freely.
func (s *Server) uploadChunkHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		s.badRequestResponse(w, r, err)
		return
	}
	if index < 0 || index >= sess.TotalChunks {
		s.badRequestResponse(w, r,
			fmt.Errorf("chunk index %d not in [0, %d)", index, sess.TotalChunks))
		return
	}

	maxChunk := s.Config.Upload.MaxChunkSizeBytes()
	body := http.MaxBytesReader(w, r.Body, int64(maxChunk))
	if _, err = s.Artifacts.SaveChunk(r.Context(), sess.UploadID, index, body); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.quotaExceededResponse(w, r,
				fmt.Errorf("chunk exceeds the %s limit", humanize.IBytes(maxChunk)))
			return
		}
		s.serverErrorResponse(w, r, err)
		return
	}

	progress, err := s.Uploads.AddChunk(sess.UploadID, index)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			// session reaped while the bytes were in flight, drop the
			// orphaned chunk object so nothing lingers unaccounted for
			if derr := s.Artifacts.DeleteChunks(r.Context(), sess.UploadID); derr != nil {
				slog.Error("dropping orphaned chunk artifacts", "uploadId", sess.UploadID, "err", derr)
			}
			s.notFoundResponse(w, r)
			return
		}
		s.badRequestResponse(w, r, err)
		return
	}

	data := envelop{
		"received": progress.Received,
		"total":    progress.Total,
		"complete": progress.Complete(),
	}
	if err = s.writeJSON(w, data, http.StatusOK, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

// completeUploadHandler assembles a finished upload into a catalog resource.
// Exactly one caller may finalize a session; the claim is released on
// assembly failure so the client can retry.
func (s *Server) completeUploadHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ownedSession(w, r); !ok {
		return
	}
	uploadID := r.PathValue("id")
	sess, err := s.Uploads.BeginFinalize(uploadID)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrNotFound):
			s.notFoundResponse(w, r)
		case errors.Is(err, upload.ErrNotComplete):
			s.conflictResponse(w, r, "upload is not complete, check its status for missing chunks")
		case errors.Is(err, upload.ErrFinalizing):
			s.conflictResponse(w, r, "upload is already being finalized")
		default:
			s.serverErrorResponse(w, r, err)
		}
		return
	}

	// the session says every index arrived; verify the objects are really
	// there before concatenating, a lost artifact must fail the finalize,
	// not produce a silently truncated file
	missing, err := s.Artifacts.MissingChunks(r.Context(), uploadID, sess.TotalChunks)
	if err != nil {
		s.Uploads.EndFinalize(uploadID)
		s.serverErrorResponse(w, r, err)
		return
	}
	if len(missing) > 0 {
		s.Uploads.EndFinalize(uploadID)
		s.conflictResponse(w, r, envelop{
			"message":       "chunk artifacts are missing, re-upload them and complete again",
			"missingChunks": missing,
		})
		return
	}

	resourceID := uuid.NewString()
	size, err := s.Artifacts.Assemble(r.Context(), uploadID, sess.TotalChunks, artifact.FileKey(resourceID))
	if err != nil {
		s.Uploads.EndFinalize(uploadID)
		s.serverErrorResponse(w, r, err)
		return
	}
	if uint64(size) != sess.FileSize {
		// declared size was off, the assembled bytes are authoritative
		slog.Warn("assembled size differs from declared fileSize",
			"uploadId", uploadID, "declared", sess.FileSize, "assembled", size)
	}

	res := catalog.Resource{
		ID:        resourceID,
		Name:      sess.FileName,
		Size:      uint64(size),
		MimeType:  sess.MimeType,
		Key:       artifact.FileKey(resourceID),
		OwnerID:   sess.RequesterID,
		FolderID:  sess.FolderID,
		CreatedAt: time.Now(),
	}
	s.Catalog.Put(res)
	s.Uploads.Remove(uploadID)
	if err = s.Artifacts.DeleteChunks(r.Context(), uploadID); err != nil {
		// the resource is live either way, the idle sweep cannot reach these
		// anymore so flag them for an operator
		slog.Error("deleting chunk artifacts after finalize", "uploadId", uploadID, "err", err)
	}
	slog.Info("upload finalized", "uploadId", uploadID,
		"resourceId", resourceID, "size", humanize.IBytes(uint64(size)))

	if err = s.writeJSON(w, resourceResponse(res), http.StatusCreated, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

// abortUploadHandler drops an in-progress session and its chunk artifacts.
func (s *Server) abortUploadHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	s.Uploads.Remove(sess.UploadID)
	if err := s.Artifacts.DeleteChunks(r.Context(), sess.UploadID); err != nil {
		s.serverErrorResponse(w, r, err)
		return
	}
	data := envelop{"status": "upload aborted"}
	if err := s.writeJSON(w, data, http.StatusOK, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

// ownedSession loads the {id} session and enforces the ownership contract:
// only the requester who created a session may inspect or mutate it. On
// failure the response has already been written.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (upload.Session, bool) {
	sess, err := s.Uploads.Get(r.PathValue("id"))
	if err != nil {
		s.notFoundResponse(w, r)
		return upload.Session{}, false
	}
	if sess.RequesterID != requesterFrom(r) {
		s.notOwnerResponse(w, r)
		return upload.Session{}, false
	}
	return sess, true
}
