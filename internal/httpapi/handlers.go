package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coverbridge/auth-service/internal/auth"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst. An empty body decodes to the zero
// value so endpoints with all-optional fields work without one.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) badBody(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, "validation_failed", "malformed request body")
}

// userPayload is the identity as rendered to its owner. Hashes, token
// digests and counters never leave the service.
type userPayload struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	Status     string     `json:"status"`
	Role       string     `json:"role"`
	MFAEnabled bool       `json:"mfaEnabled"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
}

func renderUser(id *identity.Identity) userPayload {
	return userPayload{
		ID:         id.ID,
		Username:   id.Username,
		Email:      id.Email,
		FirstName:  id.FirstName,
		LastName:   id.LastName,
		Status:     id.Status.String(),
		Role:       id.Role,
		MFAEnabled: id.MFAEnabled,
		LastLogin:  id.LastLogin,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		UserType  string `json:"userType"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}

	res, err := s.svc.Register(r.Context(), auth.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		UserType:  req.UserType,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}{UserID: res.UserID, Status: res.Status.String()})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UsernameOrEmail string `json:"usernameOrEmail"`
		Password        string `json:"password"`
		MFACode         string `json:"mfaCode"`
		BackupCode      string `json:"backupCode"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}

	res, err := s.svc.Login(r.Context(), auth.LoginInput{
		Identifier: req.UsernameOrEmail,
		Password:   req.Password,
		MFACode:    req.MFACode,
		BackupCode: req.BackupCode,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		AccessToken  string      `json:"accessToken"`
		RefreshToken string      `json:"refreshToken"`
		ExpiresIn    int         `json:"expiresIn"`
		User         userPayload `json:"user"`
	}{
		AccessToken:  res.Tokens.Access,
		RefreshToken: res.Tokens.Refresh,
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		User:         renderUser(res.Identity),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}

	res, err := s.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}{
		AccessToken: res.AccessToken,
		ExpiresIn:   int(s.tokens.AccessTTL().Seconds()),
	})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}

	// Whether the address exists is never visible here; only the throttle
	// refuses openly.
	if err := s.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}

	if err := s.svc.CompletePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}

	if err := s.svc.VerifyEmail(r.Context(), req.Token); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}

	if err := s.svc.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleEnableMFA(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req struct {
		TOTPSecret string `json:"totpSecret"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}

	enroll, err := s.svc.EnableMFA(r.Context(), claims.Subject, req.TOTPSecret)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Secret      string   `json:"secret,omitempty"`
		OTPAuthURL  string   `json:"otpauthUrl,omitempty"`
		BackupCodes []string `json:"backupCodes"`
	}{
		Secret:      enroll.Secret,
		OTPAuthURL:  enroll.OTPAuthURL,
		BackupCodes: enroll.BackupCodes,
	})
}

func (s *Server) handleDisableMFA(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	if err := s.svc.DisableMFA(r.Context(), claims.Subject); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	s.svc.Logout(r.Context(), claims.Subject)
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	id, err := s.svc.Identity(r.Context(), claims.Subject)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		User userPayload `json:"user"`
	}{User: renderUser(id)})
}

func (s *Server) handleAdminUnlock(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req struct {
		UsernameOrEmail string `json:"usernameOrEmail"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}

	if err := s.svc.Unlock(r.Context(), actorFrom(claims), req.UsernameOrEmail); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req struct {
		UsernameOrEmail string `json:"usernameOrEmail"`
		Status          string `json:"status"`
	}
	if err := decode(w, r, &req); err != nil {
		s.badBody(w)
		return
	}
	status, err := identity.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    "validation_failed",
			Message: "request validation failed",
			Fields:  map[string]string{"status": "must be one of: pending, active, inactive, suspended"},
		})
		return
	}

	if err := s.svc.SetStatus(r.Context(), actorFrom(claims), req.UsernameOrEmail, status); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusOK)
}

// handleMetrics renders the counter snapshot as JSON, keyed by the same
// names the scrape endpoint exports.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := s.metrics.TakeSnapshot()
	out := make(map[string]uint64, len(snapshot.Counters)+1)
	for _, def := range metrics.Defs() {
		out[def.Name] = snapshot.Counters[def.ID]
	}
	out["auth_audit_dropped_total"] = s.emitter.Dropped()
	writeJSON(w, http.StatusOK, out)
}
