package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/studytrack/backend/internal/apierr"
	"github.com/studytrack/backend/internal/httpx"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

// Tokens issues and verifies HS256 access tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

func (t *Tokens) Issue(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(t.ttl).Unix(),
		"iat":     now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify returns the user id carried by a valid token.
func (t *Tokens) Verify(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("token carries no user")
	}
	return userID, nil
}

type Handler struct {
	db     *sql.DB
	tokens *Tokens
	log    *logger.Logger
}

func NewHandler(db *sql.DB, tokens *Tokens, log *logger.Logger) *Handler {
	return &Handler{db: db, tokens: tokens, log: log.With("service", "Auth")}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	if req.Email == "" || req.Name == "" || req.Password == "" {
		httpx.WriteError(w, h.log, apierr.InvalidRequest("Email, name, and password are required"))
		return
	}
	if len(req.Password) < 8 {
		httpx.WriteError(w, h.log, apierr.InvalidRequest("Password must be at least 8 characters"))
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httpx.WriteError(w, h.log, fmt.Errorf("hash password: %w", err))
		return
	}

	user := models.User{
		ID:        uuid.NewString(),
		Email:     req.Email,
		Name:      req.Name,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err = h.db.ExecContext(r.Context(),
		`INSERT INTO users (id, email, name, password, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Name, string(hashedPassword), user.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			httpx.WriteJSON(w, http.StatusConflict, models.ErrorResponse{Error: "An account with this email already exists", Code: "conflict"})
			return
		}
		httpx.WriteError(w, h.log, fmt.Errorf("create user: %w", err))
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		httpx.WriteError(w, h.log, fmt.Errorf("issue token: %w", err))
		return
	}

	h.log.Info("user registered", "user_id", user.ID)
	httpx.WriteJSON(w, http.StatusCreated, models.AuthResponse{Token: token, User: user})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, h.log, apierr.InvalidRequest("Email and password are required"))
		return
	}

	var (
		user           models.User
		hashedPassword string
		created        int64
	)
	err := h.db.QueryRowContext(r.Context(),
		`SELECT id, email, name, password, created_at FROM users WHERE email = $1`,
		req.Email,
	).Scan(&user.ID, &user.Email, &user.Name, &hashedPassword, &created)
	if errors.Is(err, sql.ErrNoRows) {
		httpx.WriteJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: "unauthorized"})
		return
	}
	if err != nil {
		httpx.WriteError(w, h.log, fmt.Errorf("load user: %w", err))
		return
	}
	user.CreatedAt = time.Unix(created, 0).UTC()

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		httpx.WriteJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: "unauthorized"})
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		httpx.WriteError(w, h.log, fmt.Errorf("issue token: %w", err))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, models.AuthResponse{Token: token, User: user})
}

func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	var (
		user    models.User
		created int64
	)
	err := h.db.QueryRowContext(r.Context(),
		`SELECT id, email, name, created_at FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Email, &user.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		httpx.WriteError(w, h.log, apierr.NotFound("User not found"))
		return
	}
	if err != nil {
		httpx.WriteError(w, h.log, fmt.Errorf("load user: %w", err))
		return
	}
	user.CreatedAt = time.Unix(created, 0).UTC()

	httpx.WriteJSON(w, http.StatusOK, user)
}

// isUniqueViolation recognises the unique-constraint errors of lib/pq and
// modernc sqlite.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
