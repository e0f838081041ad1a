package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"homeserver/internal/api"
	"homeserver/internal/auth"
	"homeserver/internal/blobstore"
	"homeserver/internal/files"
	"homeserver/internal/models"
)

// requestBody lets the ingest writer release a Read that is blocked on a
// slow client once the upload has already failed.
type requestBody struct {
	io.ReadCloser
	rc *http.ResponseController
}

func (b requestBody) InterruptRead() error {
	return b.rc.SetReadDeadline(time.Now())
}

func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	owner, rawPath, ok := s.fileTarget(w, r)
	if !ok {
		return
	}

	req := files.PutRequest{
		Session:     sessionSecret(r),
		Owner:       owner,
		Path:        rawPath,
		ContentType: r.Header.Get("Content-Type"),
		Body:        requestBody{ReadCloser: r.Body, rc: http.NewResponseController(w)},
	}
	if r.ContentLength >= 0 {
		length := r.ContentLength
		req.ExpectedLength = &length
	}
	if raw := strings.TrimSpace(r.Header.Get(api.HeaderContentHash)); raw != "" {
		hash, err := models.ParseContentHash(raw)
		if err != nil {
			s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidHash))
			return
		}
		req.ExpectedHash = &hash
	}

	result, err := s.files.Put(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("ETag", result.Entry.Metadata.ETag())
	if !result.Created {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Location", r.URL.Path)
	s.writeJSON(w, http.StatusCreated, entryResponse(result.Entry))
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	owner, rawPath, ok := s.fileTarget(w, r)
	if !ok {
		return
	}
	if strings.HasSuffix(rawPath, "/") {
		s.listDirectory(w, r, owner, rawPath)
		return
	}

	file, err := s.files.Open(r.Context(), owner, rawPath)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	entry := file.Entry
	if etagMatches(r.Header.Get("If-None-Match"), entry.Metadata.ETag()) {
		setEntryHeaders(w, entry)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rng, partial, err := parseRange(r.Header.Get("Range"), entry.Metadata.Length)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", entry.Metadata.Length))
		s.writeServiceError(w, r, err)
		return
	}

	obj, err := file.Read(r.Context(), rng)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer obj.Body.Close()

	setEntryHeaders(w, obj.Entry)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Range.Length, 10))
	status := http.StatusOK
	if partial {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d",
			obj.Range.Offset, obj.Range.Offset+obj.Range.Length-1, obj.Entry.Metadata.Length))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	if _, err := io.Copy(w, obj.Body); err != nil {
		s.log().Warn("stream file", "owner", owner, "path", rawPath, "error", err)
	}
}

func (s *Server) handleHeadFile(w http.ResponseWriter, r *http.Request) {
	owner, rawPath, ok := s.fileTarget(w, r)
	if !ok {
		return
	}
	entry, err := s.files.Head(r.Context(), owner, rawPath)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	setEntryHeaders(w, entry)
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Metadata.Length, 10))
	if etagMatches(r.Header.Get("If-None-Match"), entry.Metadata.ETag()) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	owner, rawPath, ok := s.fileTarget(w, r)
	if !ok {
		return
	}
	if _, err := s.files.Delete(r.Context(), sessionSecret(r), owner, rawPath); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDirectory(w http.ResponseWriter, r *http.Request, owner models.PublicKey, rawDir string) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}
	reverse, err := queryBool(r, "reverse")
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}
	shallow, err := queryBool(r, "shallow")
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}

	paths, err := s.files.List(r.Context(), owner, rawDir, files.ListOptions{
		Reverse: reverse,
		Limit:   limit,
		Cursor:  r.URL.Query().Get("cursor"),
		Shallow: shallow,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var b strings.Builder
	for i, p := range paths {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(owner.URL(p))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, b.String())
}

// fileTarget extracts the owner and the path below it.
func (s *Server) fileTarget(w http.ResponseWriter, r *http.Request) (models.PublicKey, string, bool) {
	owner, err := models.ParsePublicKey(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidOwner))
		return "", "", false
	}
	rest := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		rest, err = url.PathUnescape(rest)
		if err != nil {
			s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("%w: %v", files.ErrInvalidPath, err), ErrCodeInvalidPath))
			return "", "", false
		}
	}
	return owner, "/" + rest, true
}

func sessionSecret(r *http.Request) string {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func setEntryHeaders(w http.ResponseWriter, entry *models.Entry) {
	h := w.Header()
	h.Set("Content-Type", entry.Metadata.ContentType)
	h.Set("ETag", entry.Metadata.ETag())
	h.Set("Last-Modified", entry.Metadata.ModifiedAt.UTC().Format(http.TimeFormat))
	h.Set("Accept-Ranges", "bytes")
}

func entryResponse(entry *models.Entry) api.EntryResponse {
	return api.EntryResponse{
		URL:         entry.Owner.URL(entry.Path.String()),
		Path:        entry.Path.String(),
		Hash:        entry.Metadata.Hash.String(),
		Length:      entry.Metadata.Length,
		ContentType: entry.Metadata.ContentType,
		CreatedAt:   entry.Metadata.CreatedAt,
		ModifiedAt:  entry.Metadata.ModifiedAt,
	}
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

var errMultipleRanges = errors.New("multiple ranges are not supported")

// parseRange reads a single "bytes=" range against an object of size bytes.
// partial is false when the header is absent.
func parseRange(header string, size int64) (rng blobstore.ByteRange, partial bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return blobstore.FullRange, false, nil
	}
	byteRange, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return rng, false, fmt.Errorf("%w: unsupported unit in %q", files.ErrRangeNotSatisfied, header)
	}
	if strings.Contains(byteRange, ",") {
		return rng, false, fmt.Errorf("%w: %v", files.ErrRangeNotSatisfied, errMultipleRanges)
	}
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(byteRange), "-")
	if !ok {
		return rng, false, fmt.Errorf("%w: malformed range %q", files.ErrRangeNotSatisfied, header)
	}

	if startRaw == "" {
		suffix, perr := strconv.ParseInt(endRaw, 10, 64)
		if perr != nil || suffix <= 0 || size == 0 {
			return rng, false, fmt.Errorf("%w: %q", files.ErrRangeNotSatisfied, header)
		}
		suffix = min(suffix, size)
		return blobstore.ByteRange{Offset: size - suffix, Length: suffix}, true, nil
	}

	start, perr := strconv.ParseInt(startRaw, 10, 64)
	if perr != nil || start < 0 || start >= size {
		return rng, false, fmt.Errorf("%w: %q against %d bytes", files.ErrRangeNotSatisfied, header, size)
	}
	if endRaw == "" {
		return blobstore.ByteRange{Offset: start, Length: size - start}, true, nil
	}
	end, perr := strconv.ParseInt(endRaw, 10, 64)
	if perr != nil || end < start {
		return rng, false, fmt.Errorf("%w: %q", files.ErrRangeNotSatisfied, header)
	}
	end = min(end, size-1)
	return blobstore.ByteRange{Offset: start, Length: end - start + 1}, true, nil
}
