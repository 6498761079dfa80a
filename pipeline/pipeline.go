// Package pipeline runs mutating API requests through a fixed sequence of stages:
// authenticate, authorize, validate, resolve references, handle attachments,
// persist and respond. A failure at any stage ends the run with a typed outcome
// and no later stage executes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sitecrew/construction-api/auth"
	"github.com/sitecrew/construction-api/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Stage names a pipeline stage
type Stage string

const (
	StageAuthenticate Stage = "authenticate"
	StageAuthorize    Stage = "authorize"
	StageValidate     Stage = "validate"
	StageReferences   Stage = "references"
	StageAttachment   Stage = "attachment"
	StagePersist      Stage = "persist"
)

const tracerName = "github.com/sitecrew/construction-api/pipeline"

// TokenVerifier turns an Authorization header value into an identity
type TokenVerifier interface {
	Verify(header string) (auth.Identity, error)
}

// Request is one transport invocation
type Request struct {
	Authorization string
	PathParams    map[string]string
	Payload       map[string]interface{}
	Files         []File
	RequestID     string
	ClientIP      string
	UserAgent     string
	// DecodeErr is set when the transport could not decode the body.
	// It is reported after authentication and authorization have passed.
	DecodeErr error
}

// Input is what the persist stage receives once every check has passed
type Input struct {
	Route       string
	Identity    auth.Identity
	Payload     map[string]interface{}
	PathParams  map[string]string
	Attachments []StoredFile
	RequestID   string
	ClientIP    string
	UserAgent   string
}

// Param returns a path parameter
func (in Input) Param(name string) string {
	return in.PathParams[name]
}

// Persister writes the validated request and returns the response payload
type Persister func(ctx context.Context, in Input) (interface{}, error)

// Route is the declarative configuration of one mutating endpoint
type Route struct {
	Name          string
	Roles         RoleAllowList
	Rules         []validation.FieldRule
	References    []ReferenceCheck
	Attachment    *AttachmentSpec
	Persist       Persister
	SuccessStatus int
}

// Pipeline executes routes. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	verifier     TokenVerifier
	checker      ExistenceChecker
	attachments  *AttachmentHandler
	stageTimeout time.Duration
	maxBodyBytes int64
	logger       *zap.Logger
	tracer       trace.Tracer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithStageTimeout bounds each network stage. Zero disables the bound.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stageTimeout = d }
}

// WithTracer overrides the tracer used for stage spans
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New creates a pipeline
func New(verifier TokenVerifier, checker ExistenceChecker, store ObjectStore, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		verifier:    verifier,
		checker:     checker,
		attachments: NewAttachmentHandler(store),
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes route against req and returns its outcome. It never panics.
func (p *Pipeline) Run(ctx context.Context, route Route, req Request) (outcome Outcome) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+route.Name, trace.WithAttributes(
		attribute.String("pipeline.route", route.Name),
	))
	defer span.End()

	logger := p.logger.With(
		zap.String("route", route.Name),
		zap.String("request_id", req.RequestID),
	)

	defer func() {
		if r := recover(); r != nil {
			f := NewInternalError(fmt.Errorf("panic: %v", r))
			logger.Error("pipeline stage panicked", zap.Any("panic", r), zap.Stack("stack"))
			span.SetStatus(codes.Error, "panic")
			outcome = failed(f)
		}
	}()

	in, err := p.check(ctx, route, req, logger)
	if err != nil {
		return p.fail(span, logger, err)
	}

	var result interface{}
	err = p.stage(ctx, route, StagePersist, false, func(ctx context.Context) error {
		if route.Persist == nil {
			return NewInternalError(errors.New("route has no persist function"))
		}
		var perr error
		result, perr = route.Persist(ctx, in)
		return perr
	})
	if err != nil {
		return p.fail(span, logger, err)
	}

	status := route.SuccessStatus
	if status == 0 {
		status = http.StatusOK
	}
	logger.Debug("pipeline succeeded", zap.String("user_id", in.Identity.ID), zap.Int("status", status))
	return Outcome{Status: StatusSuccess, HTTPStatus: status, Payload: result}
}

// check runs every stage before persistence
func (p *Pipeline) check(ctx context.Context, route Route, req Request, logger *zap.Logger) (Input, error) {
	var identity auth.Identity
	err := p.stage(ctx, route, StageAuthenticate, false, func(context.Context) error {
		id, err := p.verifier.Verify(req.Authorization)
		if err != nil {
			return NewAuthFailure(authMessage(err), err)
		}
		identity = id
		return nil
	})
	if err != nil {
		return Input{}, err
	}

	err = p.stage(ctx, route, StageAuthorize, false, func(context.Context) error {
		var err error
		identity, err = route.Roles.Authorize(identity)
		return err
	})
	if err != nil {
		return Input{}, err
	}

	err = p.stage(ctx, route, StageValidate, false, func(context.Context) error {
		if req.DecodeErr != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(req.DecodeErr, &tooLarge) {
				return NewUnsupportedMedia(fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			}
			return NewValidationFailure([]validation.Violation{{Field: "body", Message: "Request body could not be decoded"}})
		}
		result := validation.Validate(req.Payload, route.Rules)
		if !result.Valid() {
			logger.Debug("validation failed", zap.Strings("fields", result.Fields()))
			return NewValidationFailure(result.Violations())
		}
		return nil
	})
	if err != nil {
		return Input{}, err
	}

	if len(route.References) > 0 {
		err = p.stage(ctx, route, StageReferences, true, func(ctx context.Context) error {
			return ResolveReferences(ctx, p.checker, route.References, req.Payload, req.PathParams)
		})
		if err != nil {
			return Input{}, err
		}
	}

	var stored []StoredFile
	if route.Attachment != nil {
		err = p.stage(ctx, route, StageAttachment, true, func(ctx context.Context) error {
			var err error
			stored, err = p.attachments.Handle(ctx, route.Attachment, req.Files)
			return err
		})
		if err != nil {
			return Input{}, err
		}
		if len(stored) > 0 {
			logger.Info("attachments stored", zap.Int("count", len(stored)), zap.String("bucket", route.Attachment.Bucket))
		}
	}

	return Input{
		Route:       route.Name,
		Identity:    identity,
		Payload:     req.Payload,
		PathParams:  req.PathParams,
		Attachments: stored,
		RequestID:   req.RequestID,
		ClientIP:    req.ClientIP,
		UserAgent:   req.UserAgent,
	}, nil
}

// stage runs fn inside its own span, bounding network stages with the stage timeout
func (p *Pipeline) stage(ctx context.Context, route Route, stage Stage, network bool, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+string(stage), trace.WithAttributes(
		attribute.String("pipeline.route", route.Name),
		attribute.String("pipeline.stage", string(stage)),
	))
	defer span.End()

	if network && p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	err := fn(ctx)
	if err != nil {
		f := AsFailure(err)
		if f.Status == StatusInternalError && errors.Is(err, context.DeadlineExceeded) && stage == StageAttachment {
			f = NewStorageFailure(err)
		}
		span.SetStatus(codes.Error, string(f.Status))
		span.SetAttributes(attribute.String("pipeline.outcome", string(f.Status)))
		return f
	}
	return nil
}

func (p *Pipeline) fail(span trace.Span, logger *zap.Logger, err error) Outcome {
	f := AsFailure(err)
	span.SetStatus(codes.Error, string(f.Status))

	fields := []zap.Field{zap.String("outcome", string(f.Status)), zap.String("message", f.Message)}
	switch f.Status {
	case StatusStorageFailure, StatusInternalError:
		logger.Error("pipeline failed", append(fields, zap.Error(f.Err))...)
	case StatusValidationFailure:
		logger.Info("pipeline rejected request", append(fields, zap.Int("violations", len(f.Violations)))...)
	case StatusNotFound:
		logger.Info("pipeline rejected request", append(fields, zap.String("field", f.Field))...)
	default:
		logger.Info("pipeline rejected request", fields...)
	}
	return failed(f)
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "Authentication required"
	case errors.Is(err, auth.ErrMalformedCredential):
		return "Authorization header must be of the form: Bearer <token>"
	case errors.Is(err, auth.ErrTokenExpired):
		return "Token has expired"
	default:
		return "Invalid token"
	}
}
