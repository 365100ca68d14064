package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/access-engine/go-core/pkg/types"
)

// registeredSchemePairs mirrors the default policy registry. Requests
// for any other combination are rejected as bad input before they can
// reach the engine, where an unregistered pair is a fatal programming
// error rather than a caller mistake.
var registeredSchemePairs = map[[2]string]bool{
	{types.SchemeUid, types.SchemePermission}: true,
	{types.SchemeUid, types.SchemeAppOp}:      true,
	{types.SchemePackage, types.SchemeAppOp}:  true,
}

func parseUriPair(w http.ResponseWriter, subject, object Uri) (types.AccessUri, types.AccessUri, bool) {
	subjectUri, err := subject.ToAccessUri()
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid subject", map[string]interface{}{"error": err.Error()})
		return nil, nil, false
	}
	objectUri, err := object.ToAccessUri()
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid object", map[string]interface{}{"error": err.Error()})
		return nil, nil, false
	}
	if !registeredSchemePairs[[2]string{subjectUri.Scheme(), objectUri.Scheme()}] {
		WriteError(w, http.StatusBadRequest, "unsupported scheme pair", map[string]interface{}{
			"subjectScheme": subjectUri.Scheme(),
			"objectScheme":  objectUri.Scheme(),
		})
		return nil, nil, false
	}
	return subjectUri, objectUri, true
}

// decisionCheckHandler handles POST /v1/decisions/check
func (s *Server) decisionCheckHandler(w http.ResponseWriter, r *http.Request) {
	var req DecisionCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	subject, object, ok := parseUriPair(w, req.Subject, req.Object)
	if !ok {
		return
	}

	decision := s.engine.GetDecision(subject, object)
	WriteJSON(w, http.StatusOK, DecisionCheckResponse{
		Decision: decision.String(),
		Code:     decision,
	})
}

// decisionSetHandler handles PUT /v1/decisions
func (s *Server) decisionSetHandler(w http.ResponseWriter, r *http.Request) {
	var req DecisionSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	subject, object, ok := parseUriPair(w, req.Subject, req.Object)
	if !ok {
		return
	}

	decision, err := ParseDecision(req.Decision)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid decision", map[string]interface{}{"error": err.Error()})
		return
	}

	// A decision for an inactive user is a caller mistake at this
	// boundary, not an engine contract violation.
	if userId, scoped := subjectUserId(subject); scoped {
		if s.engine.State().UserState(userId) == nil {
			WriteError(w, http.StatusNotFound, "user not active", map[string]interface{}{"userId": userId})
			return
		}
	}

	s.engine.SetDecision(subject, object, decision)
	s.logger.Info("decision set",
		zap.String("subject", subject.String()),
		zap.String("object", object.String()),
		zap.String("decision", decision.String()),
	)
	WriteJSON(w, http.StatusOK, DecisionCheckResponse{Decision: decision.String(), Code: decision})
}

func subjectUserId(subject types.AccessUri) (int32, bool) {
	switch uri := subject.(type) {
	case types.UidUri:
		return uri.UserId(), true
	case types.PackageUri:
		return uri.UserId, true
	default:
		return 0, false
	}
}

// userAddedHandler handles POST /v1/lifecycle/users/{id}
func (s *Server) userAddedHandler(w http.ResponseWriter, r *http.Request) {
	userId, ok := parseUserId(w, r)
	if !ok {
		return
	}
	s.engine.OnUserAdded(userId)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"userId": userId, "active": true})
}

// userRemovedHandler handles DELETE /v1/lifecycle/users/{id}
func (s *Server) userRemovedHandler(w http.ResponseWriter, r *http.Request) {
	userId, ok := parseUserId(w, r)
	if !ok {
		return
	}
	s.engine.OnUserRemoved(userId)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"userId": userId, "active": false})
}

func parseUserId(w http.ResponseWriter, r *http.Request) (int32, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid user id", map[string]interface{}{"id": raw})
		return 0, false
	}
	return int32(id), true
}

// packageAddedHandler handles POST /v1/lifecycle/packages
func (s *Server) packageAddedHandler(w http.ResponseWriter, r *http.Request) {
	var pkg types.PackageState
	if err := json.NewDecoder(r.Body).Decode(&pkg); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}
	if pkg.PackageName == "" {
		WriteError(w, http.StatusBadRequest, "packageName is required", nil)
		return
	}
	if pkg.AppId <= 0 {
		WriteError(w, http.StatusBadRequest, "appId must be positive", nil)
		return
	}

	s.engine.OnPackageAdded(&pkg)
	WriteJSON(w, http.StatusOK, pkg)
}

// packageRemovedHandler handles DELETE /v1/lifecycle/packages/{name}
func (s *Server) packageRemovedHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	pkg, ok := s.engine.State().SystemState.PackageStates[name]
	if !ok {
		WriteError(w, http.StatusNotFound, "package not found", map[string]interface{}{"package": name})
		return
	}

	s.engine.OnPackageRemoved(pkg)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"package": name, "removed": true})
}
