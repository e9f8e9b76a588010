package api

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"medtrack/m/domain"
	"medtrack/m/internal/applog"
	"medtrack/m/internal/inventory"
	"medtrack/m/internal/validate"
)

// ResetCodeTTL is how long an SMS reset code stays valid.
const ResetCodeTTL = 15 * time.Minute

const resetSentMessage = "If this user exists and has a mobile number, a code has been sent."

// Authentication helpers

type authClaims struct {
	UserID     int64  `json:"user_id"`
	Role       string `json:"role"`
	LocationID int64  `json:"location_id"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(u domain.User) (string, error) {
	now := h.now()
	claims := authClaims{
		UserID:     u.ID,
		Role:       u.Role,
		LocationID: u.LocationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		u, err := h.inv.User(r.Context(), claims.UserID)
		if err != nil || !u.IsActive {
			applog.Security(r, "rejected_token", map[string]any{"user_id": claims.UserID})
			respondError(w, http.StatusUnauthorized, "account is inactive or no longer exists")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, u.ID)
		ctx = context.WithValue(ctx, ctxRole, u.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	current := currentRole(r)
	if current == "" {
		respondError(w, http.StatusUnauthorized, "missing role")
		return false
	}
	for _, allowedRole := range allowed {
		if current == allowedRole {
			return true
		}
	}
	applog.Security(r, "forbidden_role", map[string]any{"role": current})
	respondError(w, http.StatusForbidden, "insufficient permissions")
	return false
}

// requireSupervisor loads the caller and checks the supervisor flag, which
// is not carried in the token so revocation takes effect immediately.
func (h *Handler) requireSupervisor(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	u, err := h.inv.User(r.Context(), currentUserID(r))
	if err != nil {
		respondServiceError(w, r, "load_user", err)
		return u, false
	}
	if !u.IsActive || !u.IsSupervisor {
		applog.Security(r, "forbidden_supervisor", nil)
		respondError(w, http.StatusForbidden, "supervisor access required")
		return u, false
	}
	return u, true
}

// Auth Handlers

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Success bool        `json:"success"`
	Token   string      `json:"token"`
	User    domain.User `json:"user"`
}

func (h *Handler) findUser(ctx context.Context, username string) (domain.User, error) {
	var u domain.User
	err := h.db.GetContext(ctx, &u, `SELECT `+inventory.UserColumns()+` FROM users u JOIN locations l ON l.id = u.location_id WHERE u.username = ?`, username)
	return u, err
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.findUser(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		applog.Security(r, "login_failed", map[string]any{"username": req.Username})
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.IsActive {
		applog.Security(r, "login_inactive", map[string]any{"username": req.Username})
		respondError(w, http.StatusUnauthorized, "Account is inactive")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		applog.Security(r, "login_failed", map[string]any{"username": req.Username})
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.generateToken(user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}
	applog.Audit(r, "login", map[string]any{"user_id": user.ID})
	respondJSON(w, http.StatusOK, authResponse{Success: true, Token: token, User: user})
}

type changePasswordRequest struct {
	Username    string `json:"username,omitempty"`
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "oldPassword and newPassword are required")
		return
	}
	if !validate.Password(req.NewPassword) {
		respondError(w, http.StatusBadRequest, "password must be 8-64 characters with a letter and a digit")
		return
	}

	uid := currentUserID(r)
	var hash string
	if err := h.db.GetContext(r.Context(), &hash, `SELECT password_hash FROM users WHERE id = ?`, uid); err != nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.OldPassword)) != nil {
		applog.Security(r, "change_password_failed", nil)
		respondError(w, http.StatusUnauthorized, "Invalid current password")
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}
	if _, err := h.db.ExecContext(r.Context(), `UPDATE users SET password_hash = ?, must_change_password = 0, version = version + 1 WHERE id = ?`, string(hashed), uid); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update password")
		return
	}
	applog.Audit(r, "change_password", nil)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func resetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		respondError(w, http.StatusBadRequest, "Username is required")
		return
	}
	sent := map[string]any{"success": true, "message": resetSentMessage}

	user, err := h.findUser(r.Context(), strings.TrimSpace(req.Username))
	if err != nil || !user.IsActive || user.MobileNumber == "" {
		applog.Security(r, "forgot_password_unknown", map[string]any{"username": req.Username})
		respondJSON(w, http.StatusOK, sent)
		return
	}

	code, err := resetCode()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate code")
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure code")
		return
	}
	expiry := h.now().Add(ResetCodeTTL).UTC().Format(domain.TimestampLayout)
	if _, err := h.db.ExecContext(r.Context(), `UPDATE users SET reset_token = ?, reset_token_expiry = ?, version = version + 1 WHERE id = ?`,
		string(hashed), expiry, user.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to store code")
		return
	}

	if h.notifier != nil {
		body := fmt.Sprintf("Your FUNLHN Password Reset Code is: %s. Expires in 15 mins.", code)
		if err := h.notifier.SMS(r.Context(), user.MobileNumber, body); err != nil {
			applog.Error(r, "forgot_password_sms", err, nil)
		}
	}
	applog.Audit(r, "forgot_password", map[string]any{"target_user": user.ID})
	respondJSON(w, http.StatusOK, sent)
}

type resetPasswordRequest struct {
	Username    string `json:"username"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Code == "" || req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	code, ok := validate.ResetCode(req.Code)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid code")
		return
	}
	if !validate.Password(req.NewPassword) {
		respondError(w, http.StatusBadRequest, "password must be 8-64 characters with a letter and a digit")
		return
	}

	var row struct {
		ID     int64          `db:"id"`
		Token  sql.NullString `db:"reset_token"`
		Expiry sql.NullString `db:"reset_token_expiry"`
	}
	err := h.db.GetContext(r.Context(), &row, `SELECT id, reset_token, reset_token_expiry FROM users WHERE username = ?`, strings.TrimSpace(req.Username))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if !row.Token.Valid || bcrypt.CompareHashAndPassword([]byte(row.Token.String), []byte(code)) != nil {
		applog.Security(r, "reset_password_bad_code", map[string]any{"username": req.Username})
		respondError(w, http.StatusBadRequest, "Invalid code")
		return
	}
	if !row.Expiry.Valid || row.Expiry.String < h.timestamp() {
		respondError(w, http.StatusBadRequest, "Code expired")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}
	_, err = h.db.ExecContext(r.Context(), `UPDATE users SET password_hash = ?, reset_token = NULL, reset_token_expiry = NULL,
		must_change_password = 0, version = version + 1 WHERE id = ?`, string(hashed), row.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update password")
		return
	}
	applog.Audit(r, "reset_password", map[string]any{"target_user": row.ID})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
