package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	grpcapi "github.com/therealutkarshpriyadarshi/lshapg/pkg/api/grpc"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/api/middleware"
)

// maxBodyBytes bounds request bodies; batch inserts are the largest
const maxBodyBytes = 64 << 20

// Handler translates HTTP requests into Index service calls
type Handler struct {
	client *grpcapi.Client
	health healthpb.HealthClient
}

// NewHandler creates a new REST API handler
func NewHandler(conn grpc.ClientConnInterface) *Handler {
	return &Handler{
		client: grpcapi.NewClient(conn),
		health: healthpb.NewHealthClient(conn),
	}
}

// outgoing forwards the caller's credentials and address to the gRPC server
func outgoing(r *http.Request) context.Context {
	pairs := []string{"x-forwarded-for", middleware.ClientIP(r)}
	if auth := r.Header.Get("Authorization"); auth != "" {
		pairs = append(pairs, "authorization", auth)
	}
	return metadata.AppendToOutgoingContext(r.Context(), pairs...)
}

// HealthCheck handles GET /v1/health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := h.health.Check(r.Context(), &healthpb.HealthCheckRequest{Service: grpcapi.ServiceName})
	if err != nil {
		writeError(w, fmt.Sprintf("Health check failed: %v", status.Convert(err).Message()), http.StatusServiceUnavailable)
		return
	}
	body, err := protojson.Marshal(resp)
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to encode health status: %v", err), http.StatusInternalServerError)
		return
	}
	code := http.StatusOK
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := h.client.Stats(outgoing(r), &grpcapi.StatsRequest{})
	if err != nil {
		writeRPCError(w, "Failed to get stats", err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

// Search handles POST /v1/search
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req grpcapi.SearchRequest
	if !decode(w, r, http.MethodPost, &req) {
		return
	}

	resp, err := h.client.Search(outgoing(r), &req)
	if err != nil {
		writeRPCError(w, "Search failed", err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

// SearchByID handles POST /v1/search/id
func (h *Handler) SearchByID(w http.ResponseWriter, r *http.Request) {
	var req grpcapi.SearchByIDRequest
	if !decode(w, r, http.MethodPost, &req) {
		return
	}

	resp, err := h.client.SearchByID(outgoing(r), &req)
	if err != nil {
		writeRPCError(w, "Search failed", err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

// Insert handles POST /v1/vectors
func (h *Handler) Insert(w http.ResponseWriter, r *http.Request) {
	var req grpcapi.InsertRequest
	if !decode(w, r, http.MethodPost, &req) {
		return
	}

	resp, err := h.client.Insert(outgoing(r), &req)
	if err != nil {
		writeRPCError(w, "Insert failed", err)
		return
	}
	writeJSON(w, resp, http.StatusCreated)
}

// BatchInsert handles POST /v1/vectors/batch
func (h *Handler) BatchInsert(w http.ResponseWriter, r *http.Request) {
	var req grpcapi.BatchInsertRequest
	if !decode(w, r, http.MethodPost, &req) {
		return
	}

	resp, err := h.client.BatchInsert(outgoing(r), &req)
	if err != nil {
		writeRPCError(w, "Batch insert failed", err)
		return
	}

	code := http.StatusCreated
	if resp.Failed > 0 {
		code = http.StatusMultiStatus
	}
	writeJSON(w, resp, code)
}

// Save handles POST /v1/save
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	var req grpcapi.SaveRequest
	if r.ContentLength != 0 {
		if !decode(w, r, http.MethodPost, &req) {
			return
		}
	} else if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := h.client.Save(outgoing(r), &req)
	if err != nil {
		writeRPCError(w, "Save failed", err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

// SetEf handles PUT /v1/ef
func (h *Handler) SetEf(w http.ResponseWriter, r *http.Request) {
	var req grpcapi.SetEfRequest
	if !decode(w, r, http.MethodPut, &req) {
		return
	}

	resp, err := h.client.SetEf(outgoing(r), &req)
	if err != nil {
		writeRPCError(w, "Failed to set ef", err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

// decode checks the method and decodes a JSON body into v, writing the
// error response itself when it returns false
func decode(w http.ResponseWriter, r *http.Request, method string, v any) bool {
	if r.Method != method {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// httpStatus maps gRPC codes onto HTTP status codes
func httpStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeRPCError(w http.ResponseWriter, prefix string, err error) {
	st := status.Convert(err)
	writeError(w, fmt.Sprintf("%s: %s", prefix, st.Message()), httpStatus(st.Code()))
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, message string, statusCode int) {
	middleware.WriteJSONError(w, message, statusCode)
}
