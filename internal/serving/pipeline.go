package serving

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dyluth/effectd/internal/dispatch"
	"github.com/dyluth/effectd/internal/logging"
	"github.com/dyluth/effectd/internal/resolver"
	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/knowledge"
	"github.com/dyluth/effectd/pkg/model"
	"go.uber.org/zap"
)

// Stage is a step of the per-request pipeline.
type Stage string

const (
	StageReceived    Stage = "received"
	StageResolving   Stage = "resolving"
	StageDecoding    Stage = "decoding"
	StageDispatching Stage = "dispatching"
	StageResponded   Stage = "responded"
)

// ReasonNoModel is the external reason for every "nothing usable to serve"
// outcome. Absent, stale, unregistered and undecodable records all look the
// same to callers.
const ReasonNoModel = "no usable effect model"

// Failure is a request that ended before a prediction was produced.
// Status and Reason go to the caller; Stage and Err are what actually
// happened and are only logged.
type Failure struct {
	Status int
	Stage  Stage // stage reported to the caller
	Reason string
	Actual Stage // stage the request really failed in
	Err    error
}

func (f *Failure) Error() string {
	return string(f.Actual) + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func noModel(actual Stage, err error) *Failure {
	return &Failure{
		Status: http.StatusNotFound,
		Stage:  StageResolving,
		Reason: ReasonNoModel,
		Actual: actual,
		Err:    err,
	}
}

func failure(status int, stage Stage, err error) *Failure {
	return &Failure{Status: status, Stage: stage, Reason: err.Error(), Actual: stage, Err: err}
}

// resolveHandle runs Resolving and Decoding for one key.
func (s *Server) resolveHandle(ctx context.Context, key knowledge.Key) (*model.Handle, *Failure) {
	reg, ok := s.catalog.Registry(key.Group)
	if !ok {
		return nil, &Failure{
			Status: http.StatusNotFound,
			Stage:  StageReceived,
			Reason: "unknown group " + key.Group,
			Actual: StageReceived,
			Err:    errUnknownGroup,
		}
	}

	resolvedAt := s.now()
	rec, err := s.resolver.Resolve(ctx, key, resolvedAt)
	switch {
	case err == nil:
	case errors.Is(err, resolver.ErrNotFound):
		return nil, noModel(StageResolving, err)
	case errors.Is(err, resolver.ErrStoreTimeout):
		return nil, &Failure{Status: http.StatusGatewayTimeout, Stage: StageResolving, Reason: "knowledge store timed out", Actual: StageResolving, Err: err}
	default:
		return nil, &Failure{Status: http.StatusServiceUnavailable, Stage: StageResolving, Reason: "knowledge store unavailable", Actual: StageResolving, Err: err}
	}

	if s.cache != nil {
		if h, ok := s.cache.Get(rec); ok {
			s.metrics.cacheLookup(true)
			return h, nil
		}
		s.metrics.cacheLookup(false)
	}

	value, err := blob.Decode(rec.ModelBlob, reg)
	if err != nil {
		fields := []zap.Field{
			zap.String("key", key.String()),
			zap.String("record_id", rec.ID),
			zap.String("blob_digest", blob.Digest(rec.ModelBlob)),
			zap.Error(err),
		}
		if blob.IsUnregistered(err) {
			s.metrics.integrityViolation(key.Group)
			s.logger.Warn("Stored model references an unregistered type",
				append(fields, logging.Event("integrity_violation"))...)
		} else {
			s.logger.Error("Failed to decode stored model",
				append(fields, logging.Event("decode_failed"))...)
		}
		return nil, noModel(StageDecoding, err)
	}

	h, err := model.NewHandle(rec, value)
	if err != nil {
		s.logger.Error("Stored model does not match its record",
			zap.String("key", key.String()),
			zap.String("record_id", rec.ID),
			logging.Event("handle_rejected"),
			zap.Error(err))
		return nil, noModel(StageDecoding, err)
	}

	if s.cache != nil {
		s.cache.Put(h, resolvedAt)
	}
	return h, nil
}

func (s *Server) predict(ctx context.Context, group string, req *PredictRequest) (float64, *Failure) {
	h, fail := s.resolveHandle(ctx, req.Key(group))
	if fail != nil {
		return 0, fail
	}

	y, err := dispatch.Predict(h, req.Features)
	if err != nil {
		return 0, failure(http.StatusNotFound, StageDispatching, err)
	}
	return y, nil
}

func (s *Server) forecast(ctx context.Context, group string, req *ForecastRequest) (map[string][]float64, *Failure) {
	out := make(map[string][]float64, len(req.Objectives))
	for _, objective := range req.Objectives {
		key := knowledge.Key{Subject: req.Subject, Group: group, Target: objective}
		h, fail := s.resolveHandle(ctx, key)
		if fail != nil {
			return nil, fail
		}

		ys, err := dispatch.Forecast(h, req.Amount)
		if err != nil {
			return nil, failure(http.StatusNotFound, StageDispatching, err)
		}
		out[objective] = ys
	}
	return out, nil
}

// logFailure records a failed request with its real stage and cause.
func (s *Server) logFailure(endpoint, group string, f *Failure, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.String("group", group),
		zap.String("stage", string(f.Actual)),
		zap.Int("status", f.Status),
		zap.Duration("elapsed", elapsed),
		zap.Error(f.Err),
	}
	if f.Status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", fields...)
		return
	}
	s.logger.Info("Request not served", fields...)
}
