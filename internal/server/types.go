package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/access-engine/go-core/pkg/types"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Uri is the wire representation of an AccessUri. The scheme selects
// which addressing fields are required.
type Uri struct {
	Scheme      string `json:"scheme"`
	Uid         *int32 `json:"uid,omitempty"`
	Name        string `json:"name,omitempty"`
	PackageName string `json:"packageName,omitempty"`
	UserId      *int32 `json:"userId,omitempty"`
}

// ToAccessUri validates the wire URI and converts it.
func (u Uri) ToAccessUri() (types.AccessUri, error) {
	switch u.Scheme {
	case types.SchemeUid:
		if u.Uid == nil {
			return nil, fmt.Errorf("uid is required for scheme %q", u.Scheme)
		}
		return types.UidUri{Uid: *u.Uid}, nil
	case types.SchemePermission:
		if u.Name == "" {
			return nil, fmt.Errorf("name is required for scheme %q", u.Scheme)
		}
		return types.PermissionUri{PermissionName: u.Name}, nil
	case types.SchemeAppOp:
		if u.Name == "" {
			return nil, fmt.Errorf("name is required for scheme %q", u.Scheme)
		}
		return types.AppOpUri{OpName: u.Name}, nil
	case types.SchemePackage:
		if u.PackageName == "" {
			return nil, fmt.Errorf("packageName is required for scheme %q", u.Scheme)
		}
		if u.UserId == nil {
			return nil, fmt.Errorf("userId is required for scheme %q", u.Scheme)
		}
		return types.PackageUri{PackageName: u.PackageName, UserId: *u.UserId}, nil
	default:
		return nil, fmt.Errorf("unknown scheme %q", u.Scheme)
	}
}

// DecisionCheckRequest asks for the effective decision of a pair.
type DecisionCheckRequest struct {
	Subject Uri `json:"subject"`
	Object  Uri `json:"object"`
}

// DecisionCheckResponse carries the effective decision.
type DecisionCheckResponse struct {
	Decision string         `json:"decision"`
	Code     types.Decision `json:"code"`
}

// DecisionSetRequest records a new decision for a pair.
type DecisionSetRequest struct {
	Subject  Uri    `json:"subject"`
	Object   Uri    `json:"object"`
	Decision string `json:"decision"`
}

// ParseDecision maps a wire decision name to its code.
func ParseDecision(name string) (types.Decision, error) {
	switch name {
	case "default":
		return types.DecisionDefault, nil
	case "denied":
		return types.DecisionDenied, nil
	case "granted":
		return types.DecisionGranted, nil
	default:
		return types.DecisionDefault, fmt.Errorf("unknown decision %q", name)
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]interface{} `json:"checks,omitempty"`
}

// StatusResponse represents a service status response
type StatusResponse struct {
	Version      string                 `json:"version"`
	Uptime       string                 `json:"uptime"`
	CacheEnabled bool                   `json:"cacheEnabled"`
	CacheStats   map[string]interface{} `json:"cacheStats,omitempty"`
	ActiveUsers  int                    `json:"activeUsers"`
	Packages     int                    `json:"packages"`
	Timestamp    time.Time              `json:"timestamp"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	WriteJSON(w, status, ErrorResponse{Error: message, Details: details})
}
