package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MuhamedUsman/letstream/internal/catalog"
	"github.com/MuhamedUsman/letstream/internal/pool"
	"github.com/MuhamedUsman/letstream/internal/stream"
	"github.com/MuhamedUsman/letstream/internal/token"
)

// prepareDownloadHandler issues a one-time token for a catalog resource and
// returns the stream URL it can be redeemed at. Whether the requester may
// reach the resource at all (ownership, share links) is the fronting
// application's call, made before this endpoint is hit; here the token
// binds that already-authorized requester to the resource.
func (s *Server) prepareDownloadHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.Catalog.Get(r.PathValue("id"))
	if err != nil {
		s.notFoundResponse(w, r)
		return
	}
	ttl := s.Config.Token.TTL()
	tok, err := s.Tokens.Issue(res.ID, requesterFrom(r), ttl)
	if err != nil {
		s.serverErrorResponse(w, r, err)
		return
	}
	data := envelop{
		"token":     tok,
		"expiresAt": time.Now().Add(ttl),
		"streamUrl": "/api/v1/stream/" + tok,
	}
	if err = s.writeJSON(w, data, http.StatusCreated, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

// streamHandler redeems a download token and serves the resource bytes,
// honoring Range requests. Open-ended ranges are widened to a chunk sized
// for the resource, so players probing with "bytes=0-" get a sensible
// window instead of the whole file.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	grant, err := s.Tokens.Redeem(r.PathValue("token"))
	if err != nil {
		// expired, already redeemed, or never issued, the client cannot
		// tell the difference and neither should the response
		if errors.Is(err, token.ErrNotFound) {
			s.notFoundResponse(w, r)
			return
		}
		s.serverErrorResponse(w, r, err)
		return
	}
	res, err := s.Catalog.Get(grant.ResourceID)
	if err != nil {
		// resource removed between issue and redemption
		s.notFoundResponse(w, r)
		return
	}

	rng, err := stream.ParseRange(r.Header.Get("Range"), res.Size, s.Config.Stream.WindowBytes())
	if err != nil {
		s.rangeNotSatisfiableResponse(w, r, res.Size)
		return
	}
	if rng != nil && rng.OpenEnded {
		chunk := stream.ChooseChunkSize(res.Size, s.tiers...)
		resolved, err := stream.ResolveOpenEndedRange(rng.Start, res.Size, chunk)
		if err != nil {
			s.rangeNotSatisfiableResponse(w, r, res.Size)
			return
		}
		rng = &resolved
	}

	handle, err := s.Pool.Admit(grant.RequesterID, res.ID)
	if err != nil {
		if errors.Is(err, pool.ErrAdmissionDenied) {
			s.admissionDeniedResponse(w, r, err.Error())
			return
		}
		s.serverErrorResponse(w, r, err)
		return
	}
	// a client abort cancels r.Context, the copy below returns and this
	// release frees the slot right away; the pool sweep is the backstop
	// should the handler never unwind
	defer s.Pool.Release(handle)

	var offset, length int64 = 0, -1
	if rng != nil {
		offset, length = int64(rng.Start), int64(rng.Length())
	}
	rd, err := s.Artifacts.RangeReader(r.Context(), res.Key, offset, length)
	if err != nil {
		s.serverErrorResponse(w, r, err)
		return
	}
	defer rd.Close()

	status, headers := stream.Respond(stream.Transfer{
		Size:     res.Size,
		MimeType: res.MimeType,
		Filename: res.Name,
	}, rng, s.cache)
	for k, v := range headers {
		w.Header()[k] = v
	}
	w.WriteHeader(status)
	if _, err = io.Copy(w, rd); err != nil {
		// mid-transfer failures are almost always the client going away
		slog.Debug("range transfer cut short",
			"resourceId", res.ID, "requesterId", grant.RequesterID, "err", err)
	}
}

// resourceResponse is the JSON shape a finalized resource is reported as.
func resourceResponse(res catalog.Resource) envelop {
	return envelop{
		"resourceId": res.ID,
		"name":       res.Name,
		"size":       res.Size,
		"mimeType":   res.MimeType,
		"createdAt":  res.CreatedAt,
	}
}
