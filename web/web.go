// Package web dispatches the editor's requests to the sketchbook, the static
// assets and the build service.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bikappa/blockly-sketchbook/assets"
	"github.com/bikappa/blockly-sketchbook/buildservice"
	"github.com/bikappa/blockly-sketchbook/buildservice/types"
	"github.com/bikappa/blockly-sketchbook/sketchbook"
	"github.com/bikappa/blockly-sketchbook/web/server"
	"github.com/rs/zerolog"
)

// statusClientClosedRequest records a build abandoned by its client. Nobody
// reads the response.
const statusClientClosedRequest = 499

type Options struct {
	RootRedirect string
	LoadForm     string
	SaveForm     string
	MaxFormBytes int64
	// honour isNew=true by refusing to overwrite an existing sketch
	RejectOverwriteOnNew bool
}

type Server struct {
	sketchbook   *sketchbook.Sketchbook
	assets       *assets.Resolver
	buildService buildservice.BuildService
	forms        *Forms
	opts         Options
}

func NewServer(sb *sketchbook.Sketchbook, resolver *assets.Resolver, buildService buildservice.BuildService, forms *Forms, opts Options) (*Server, error) {
	if sb == nil || resolver == nil || buildService == nil || forms == nil {
		return nil, fmt.Errorf("sketchbook, assets, build service and forms are required")
	}
	if opts.MaxFormBytes <= 0 {
		opts.MaxFormBytes = 10 << 20
	}
	return &Server{
		sketchbook:   sb,
		assets:       resolver,
		buildService: buildService,
		forms:        forms,
		opts:         opts,
	}, nil
}

// Handler returns the server wrapped with request id, access log and panic recovery.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	return server.Chain(s,
		server.RequestIDHttpMiddleware,
		server.AccessLogHttpMiddleware(logger),
		server.RecoverHttpMiddleware,
	)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.serveGet(w, r)
	case http.MethodPost:
		s.servePost(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		writeError(w, http.StatusMethodNotAllowed, errorBody{
			Error: fmt.Sprintf("method %s not allowed", r.Method),
			Path:  r.URL.Path,
		})
	}
}

func (s *Server) serveGet(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/load_form":
		s.serveForm(w, r, s.opts.LoadForm)
	case "/save_form":
		s.serveForm(w, r, s.opts.SaveForm)
	case "/":
		w.Header().Set("Location", s.opts.RootRedirect)
		w.WriteHeader(http.StatusMovedPermanently)
	default:
		s.serveAsset(w, r)
	}
}

func (s *Server) serveForm(w http.ResponseWriter, r *http.Request, page string) {
	names, err := s.sketchbook.List()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	body, err := s.forms.Render(page, names)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.assets.Resolve(r.URL.Path)
	if err != nil {
		if assets.IsNotFound(err) {
			l := server.ContextLogger(r.Context())
			l.Debug().Err(err).Msg("asset not served")
			writeError(w, http.StatusNotFound, errorBody{
				Error: "File Not Found: " + r.URL.Path,
				Path:  r.URL.Path,
			})
			return
		}
		s.internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(asset.Data)
}

func (s *Server) servePost(w http.ResponseWriter, r *http.Request) {
	var handle func(http.ResponseWriter, *http.Request)
	switch r.URL.Path {
	case "/upload":
		handle = s.upload
	case "/save":
		handle = s.save
	case "/load":
		handle = s.load
	default:
		writeError(w, http.StatusNotFound, errorBody{
			Error: "Not Found: " + r.URL.Path,
			Path:  r.URL.Path,
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFormBytes)
	if err := r.ParseForm(); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: fmt.Sprintf("form body exceeds %d bytes", maxBytesErr.Limit),
				Path:  r.URL.Path,
			})
			return
		}
		writeError(w, http.StatusBadRequest, errorBody{
			Error: "malformed form body: " + err.Error(),
			Path:  r.URL.Path,
		})
		return
	}
	handle(w, r)
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	name, ok := requireField(w, r, "name")
	if !ok {
		return
	}
	code, ok := requireField(w, r, "code")
	if !ok {
		return
	}
	isNew := false
	if v, present := formValue(r, "isNew"); present && v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errorBody{
				Error: fmt.Sprintf("malformed field isNew: %q", v),
				Path:  r.URL.Path,
			})
			return
		}
		isNew = parsed
	}

	opts := sketchbook.SaveOptions{Exclusive: isNew && s.opts.RejectOverwriteOnNew}
	if err := s.sketchbook.Save(name, code, opts); err != nil {
		s.sketchError(w, r, err)
		return
	}
	writeText(w, fmt.Sprintf("File %s is saved", name))
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) {
	name, ok := requireField(w, r, "name")
	if !ok {
		return
	}
	code, err := s.sketchbook.Load(name)
	if err != nil {
		s.sketchError(w, r, err)
		return
	}
	writeText(w, code)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	code, ok := requireField(w, r, "code")
	if !ok {
		return
	}
	result, err := s.buildService.Build(r.Context(), types.BuildParameters{
		Code:      code,
		RequestID: server.ContextRequestID(r.Context()),
	})
	if err != nil {
		if errors.Is(err, buildservice.ErrTimeout) {
			body := errorBody{Error: err.Error(), Path: r.URL.Path}
			if result != nil {
				body.Output = result.Output
			}
			writeError(w, http.StatusGatewayTimeout, body)
			return
		}
		if errors.Is(err, context.Canceled) {
			l := server.ContextLogger(r.Context())
			l.Debug().Err(err).Msg("client went away during build")
			w.WriteHeader(statusClientClosedRequest)
			return
		}
		s.internalError(w, r, err)
		return
	}

	w.Header().Set("X-Build-Id", result.ID)
	w.Header().Set("X-Build-Status", string(result.Status))
	w.Header().Set("X-Build-Exit-Code", strconv.Itoa(result.ExitCode))
	writeText(w, result.Output)
}

func (s *Server) sketchError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sketchbook.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, sketchbook.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sketchbook.ErrExists):
		status = http.StatusConflict
	default:
		s.internalError(w, r, err)
		return
	}
	writeError(w, status, errorBody{Error: err.Error(), Path: r.URL.Path})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	l := server.ContextLogger(r.Context())
	l.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Path: r.URL.Path})
}

func formValue(r *http.Request, key string) (string, bool) {
	values, ok := r.PostForm[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func requireField(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v, ok := formValue(r, key)
	if !ok {
		writeError(w, http.StatusBadRequest, errorBody{
			Error: fmt.Sprintf("missing form field %q", key),
			Path:  r.URL.Path,
		})
	}
	return v, ok
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
