// Provides middleware for standardizing HTTP handlers.

package server

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/maruel/arena/internal/server/dto"
	"github.com/maruel/arena/internal/server/ratelimit"
	"github.com/maruel/arena/internal/server/reqctx"
)

// Config holds transport settings shared by all handlers.
type Config struct {
	// MaxRequestBodyBytes bounds request bodies; zero means unlimited.
	MaxRequestBodyBytes int64
	// Limiters throttles requests per client IP; nil disables rate limiting.
	Limiters *ratelimit.Limiters
}

// addRequestMetadataToContext adds client IP and User-Agent to the context.
func addRequestMetadataToContext(ctx context.Context, r *http.Request) context.Context {
	ctx = reqctx.WithClientIP(ctx, reqctx.GetClientIP(r))
	ctx = reqctx.WithUserAgent(ctx, r.Header.Get("User-Agent"))
	return ctx
}

// checkRateLimit checks the request against its tier and sets the rate limit
// headers. It reports whether the request may proceed; if not, the 429
// response was written.
func checkRateLimit(w http.ResponseWriter, r *http.Request, limiters *ratelimit.Limiters) bool {
	tier := limiters.Match(r.Method, r.URL.Path)
	if tier == nil {
		return true
	}
	result := tier.Limiter.Allow(ratelimit.BuildKey(reqctx.GetClientIP(r), tier.Name))
	ratelimit.WriteHeaders(w, result)
	if !result.Allowed {
		writeAPIError(w, dto.RateLimitExceeded(int(result.RetryAfter.Seconds())))
		return false
	}
	return true
}

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Path parameters are extracted into struct fields tagged `path:"name"` and
// query parameters into fields tagged `query:"name"`.
// *In must implement dto.Validatable.
//
// Example:
//
//	type GetClanRequest struct {
//	    ID string `json:"-" path:"id"`
//	}
//
//	func (h *ClanHandler) Get(ctx context.Context, req *GetClanRequest) (*ClanResponse, error)
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := addRequestMetadataToContext(r.Context(), r)

		if !checkRateLimit(w, r, cfg.Limiters) {
			return
		}

		input := new(In)
		if !readAndDecodeBody(ctx, w, r, input, cfg) {
			return
		}
		populatePathParams(r, input)
		if err := populateQueryParams(r, input); err != nil {
			handleValidationError(ctx, w, err)
			return
		}

		if err := PtrIn(input).Validate(); err != nil {
			handleValidationError(ctx, w, err)
			return
		}

		output, err := fn(ctx, PtrIn(input))
		writeJSONResponse(ctx, w, r, output, err)
	})
}

// readAndDecodeBody reads the request body with size limit and decodes JSON into input.
// Returns false if an error occurred and was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, cfg *Config) bool {
	if cfg.MaxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxRequestBodyBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeAPIError(w, dto.PayloadTooLarge(maxBytesErr.Limit))
			return false
		}
		slog.ErrorContext(ctx, "Failed to read request body", "err", err)
		writeAPIError(w, dto.BadRequest("Failed to read request body"))
		return false
	}
	if len(body) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		if err := d.Decode(input); err != nil {
			slog.WarnContext(ctx, "Failed to decode request body", "err", err)
			writeAPIError(w, dto.NewAPIError(http.StatusBadRequest, dto.ErrorCodeInvalidFormat, "Invalid request body: "+err.Error()))
			return false
		}
	}
	return true
}

// writeJSONResponse writes a JSON response or error response. Successful POST
// requests answer 201.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, r *http.Request, output *Out, err error) {
	if err != nil {
		var ews dto.ErrorWithStatus
		if !errors.As(err, &ews) {
			ews = dto.Internal("internal error").Wrap(err)
		}
		if ews.StatusCode() >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "Handler error", "method", r.Method, "path", r.URL.Path, "err", err, "statusCode", ews.StatusCode(), "code", ews.Code(), "ip", reqctx.ClientIP(ctx), "userAgent", reqctx.UserAgent(ctx))
		} else {
			slog.DebugContext(ctx, "Handler error", "method", r.Method, "path", r.URL.Path, "err", err, "statusCode", ews.StatusCode(), "code", ews.Code(), "ip", reqctx.ClientIP(ctx))
		}
		writeAPIError(w, ews)
		return
	}
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// populatePathParams extracts path parameters from the request and populates
// struct fields tagged with `path:"paramName"`.
func populatePathParams(r *http.Request, input any) {
	elem, ok := structElem(input)
	if !ok {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("path")
		if tag == "" || field.Type.Kind() != reflect.String {
			continue
		}
		if v := r.PathValue(tag); v != "" {
			elem.Field(i).SetString(v)
		}
	}
}

// populateQueryParams extracts query parameters from the request and populates
// struct fields tagged with `query:"paramName"`. A []string field receives
// every occurrence of its parameter. A value that does not parse is a 400.
func populateQueryParams(r *http.Request, input any) error {
	elem, ok := structElem(input)
	if !ok {
		return nil
	}
	query := r.URL.Query()
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("query")
		if tag == "" {
			continue
		}
		fv := elem.Field(i)
		if field.Type == reflect.TypeFor[[]string]() {
			if vs := query[tag]; len(vs) != 0 {
				fv.Set(reflect.ValueOf(vs))
			}
			continue
		}
		v := query.Get(tag)
		if v == "" {
			continue
		}
		//nolint:exhaustive // Only the kinds used by request types are supported.
		switch field.Type.Kind() {
		case reflect.String:
			fv.SetString(v)
		case reflect.Int:
			n, err := strconv.Atoi(v)
			if err != nil {
				return dto.InvalidField(tag, "must be an integer").Wrap(err)
			}
			fv.SetInt(int64(n))
		case reflect.Bool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return dto.InvalidField(tag, "must be a boolean").Wrap(err)
			}
			fv.SetBool(b)
		default:
			if u, ok := fv.Addr().Interface().(encoding.TextUnmarshaler); ok {
				if err := u.UnmarshalText([]byte(v)); err != nil {
					return dto.InvalidField(tag, err.Error()).Wrap(err)
				}
			}
		}
	}
	return nil
}

func structElem(input any) (reflect.Value, bool) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return reflect.Value{}, false
	}
	elem := val.Elem()
	return elem, elem.Kind() == reflect.Struct
}

// handleValidationError handles a validation error from a request's Validate method.
func handleValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var ews dto.ErrorWithStatus
	if !errors.As(err, &ews) {
		ews = dto.BadRequest(err.Error())
	}
	slog.DebugContext(ctx, "Validation error", "err", err, "code", ews.Code(), "ip", reqctx.ClientIP(ctx), "userAgent", reqctx.UserAgent(ctx))
	writeAPIError(w, ews)
}

// writeAPIError writes an error response as JSON.
func writeAPIError(w http.ResponseWriter, e dto.ErrorWithStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode())
	response := dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: e.Code(), Message: e.Error()},
		Details: e.Details(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
