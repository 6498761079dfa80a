package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sitecrew/construction-api/utils"
	"go.uber.org/zap"
)

const (
	defaultMaxBodyBytes  = 64 << 20
	multipartMemoryBytes = 8 << 20
)

// WithMaxBodyBytes caps the size of request bodies accepted by Handler
func WithMaxBodyBytes(n int64) Option {
	return func(p *Pipeline) { p.maxBodyBytes = n }
}

// Handler adapts route to an http.HandlerFunc
func (p *Pipeline) Handler(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := p.DecodeRequest(w, r)
		outcome := p.Run(r.Context(), route, req)
		WriteOutcome(w, outcome, p.logger)
	}
}

// DecodeRequest extracts headers, path params, body fields and files from r.
// Body decoding errors are carried in the request rather than returned.
func (p *Pipeline) DecodeRequest(w http.ResponseWriter, r *http.Request) Request {
	limit := p.maxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	req := Request{
		Authorization: r.Header.Get("Authorization"),
		PathParams:    pathParams(r),
		RequestID:     middleware.GetReqID(r.Context()),
		ClientIP:      clientIP(r),
		UserAgent:     r.UserAgent(),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		req.Payload, req.Files, req.DecodeErr = decodeMultipart(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			req.DecodeErr = err
			break
		}
		req.Payload = formValues(r.PostForm)
	default:
		req.Payload, req.DecodeErr = decodeJSON(r.Body)
	}
	if req.Payload == nil {
		req.Payload = map[string]interface{}{}
	}
	return req
}

// clientIP returns the remote host. RealIP middleware has already applied forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func pathParams(r *http.Request) map[string]string {
	params := map[string]string{}
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}
	for i, key := range rctx.URLParams.Keys {
		if key == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

func decodeJSON(body io.Reader) (map[string]interface{}, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return payload, nil
}

func decodeMultipart(r *http.Request) (map[string]interface{}, []File, error) {
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		return nil, nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	payload := formValues(r.MultipartForm.Value)

	var files []File
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := readPart(field, fh)
			if err != nil {
				return nil, nil, err
			}
			files = append(files, f)
		}
	}
	return payload, files, nil
}

func readPart(field string, fh *multipart.FileHeader) (File, error) {
	src, err := fh.Open()
	if err != nil {
		return File{}, fmt.Errorf("failed to open part %s: %w", fh.Filename, err)
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return File{}, fmt.Errorf("failed to read part %s: %w", fh.Filename, err)
	}
	return File{
		FormField:   field,
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

// formValues flattens single-valued form fields to strings and keeps repeated ones as lists
func formValues(values map[string][]string) map[string]interface{} {
	payload := make(map[string]interface{}, len(values))
	for k, v := range values {
		switch len(v) {
		case 0:
		case 1:
			payload[k] = v[0]
		default:
			payload[k] = v
		}
	}
	return payload
}

// WriteOutcome writes outcome as a JSON response
func WriteOutcome(w http.ResponseWriter, outcome Outcome, logger *zap.Logger) {
	if outcome.Succeeded() {
		if err := utils.WriteJSON(w, outcome.HTTPStatus, utils.SuccessResponse{Data: outcome.Payload}); err != nil {
			logger.Error("failed to write response", zap.Error(err))
		}
		return
	}
	WriteFailure(w, outcome.Failure, logger)
}

// WriteFailure writes a failure body with the status matching its kind
func WriteFailure(w http.ResponseWriter, f *Failure, logger *zap.Logger) {
	if f == nil {
		f = NewInternalError(errors.New("missing failure detail"))
	}
	if f.Status == StatusAuthFailure {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	body := utils.ErrorResponse{
		Error:   f.Status.Code(),
		Message: f.PublicMessage(),
	}
	if details := f.Details(); details != nil {
		body.Details = details
	}
	if err := utils.WriteJSON(w, f.Status.HTTPStatus(), body); err != nil {
		logger.Error("failed to write error response", zap.Error(err), zap.String("outcome", string(f.Status)))
	}
}
