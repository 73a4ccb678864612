package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/middleware"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 1 << 20

// Common error messages shared across handlers
const (
	ErrMsgInvalidRequestBody = "Invalid request body"
	ErrMsgUnauthenticated    = "Authentication required"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// JSONResponse sends a JSON response and ensures slices are never null.
// Frontends iterate lists without null checks, so nil slices are encoded as [].
func JSONResponse(w http.ResponseWriter, data any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(normalizeSlices(data))
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// normalizeSlices recursively ensures all nil slices become empty slices.
// Types with their own JSON encoding and byte slices are left untouched.
func normalizeSlices(data any) any {
	if data == nil {
		return data
	}

	v := reflect.ValueOf(data)
	if v.Type() == timeType || v.Type().Implements(marshalerType) {
		return data
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return data
		}
		normalized := normalizeSlices(v.Elem().Interface())
		result := reflect.New(v.Elem().Type())
		result.Elem().Set(reflect.ValueOf(normalized))
		return result.Interface()

	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return data
		}
		if v.IsNil() {
			return reflect.MakeSlice(v.Type(), 0, 0).Interface()
		}
		result := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			setNormalized(result.Index(i), v.Index(i))
		}
		return result.Interface()

	case reflect.Struct:
		result := reflect.New(v.Type()).Elem()
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			setNormalized(result.Field(i), v.Field(i))
		}
		return result.Interface()
	}

	return data
}

// setNormalized stores the normalized form of src in dst. Interface-typed
// fields holding nil are copied as they are.
func setNormalized(dst, src reflect.Value) {
	switch src.Kind() {
	case reflect.Slice, reflect.Ptr, reflect.Struct:
		dst.Set(reflect.ValueOf(normalizeSlices(src.Interface())))
	default:
		dst.Set(src)
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(normalizeSlices(payload))
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal server error","code":"internal"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}

// respondWithAppError maps a classified error to its status and body.
// Internal errors are logged and never leak detail.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindInternal {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	respondWithJSON(w, apperrors.HTTPStatus(kind), ErrorResponse{
		Error: apperrors.Message(err),
		Code:  apperrors.Code(kind),
	})
}

// decodeJSON reads a size-limited JSON body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.InvalidArgument("Request body too large")
		}
		return apperrors.InvalidArgument(ErrMsgInvalidRequestBody)
	}
	return nil
}

// requireUser returns the authenticated caller or writes 401
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithAppError(w, r, apperrors.Unauthenticated(ErrMsgUnauthenticated))
		return "", false
	}
	return userID, true
}

// pathRound parses the {n} round number path value
func pathRound(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		return 0, apperrors.InvalidArgument("Invalid round number")
	}
	return n, nil
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Newf(apperrors.KindInvalidArgument, "Invalid %s", name)
	}
	return n, nil
}
