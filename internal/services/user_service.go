package services

import (
	"context"
	"errors"
	"time"

	"linguachat-backend/internal/db"
	"linguachat-backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

type UserService struct {
	jwtSecret []byte
}

func NewUserService(jwtSecret string) *UserService {
	return &UserService{jwtSecret: []byte(jwtSecret)}
}

func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	lang := req.NativeLanguage
	if lang == "" {
		lang = "en"
	}

	var user models.User
	query := `INSERT INTO users (username, password_hash, native_language)
		VALUES ($1, $2, $3)
		RETURNING id, username, native_language, created_at`
	err = db.Pool.QueryRow(ctx, query, req.Username, string(hash), lang).
		Scan(&user.ID, &user.Username, &user.NativeLanguage, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUserExists
		}
		return nil, err
	}

	return &user, nil
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	var user models.User
	query := `SELECT id, username, password_hash FROM users WHERE username = $1`
	err := db.Pool.QueryRow(ctx, query, req.Username).Scan(&user.ID, &user.Username, &user.PasswordHash)
	if err != nil {
		return nil, errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	token, err := s.GenerateJWT(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	return &models.AuthResponse{
		Token:    token,
		Username: user.Username,
		UserID:   user.ID,
	}, nil
}

func (s *UserService) GetUser(ctx context.Context, id int) (*models.User, error) {
	var user models.User
	err := db.Pool.QueryRow(ctx,
		`SELECT id, username, native_language, push_token, created_at FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Username, &user.NativeLanguage, &user.PushToken, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetPushToken registers the device address notifications are sent to.
func (s *UserService) SetPushToken(ctx context.Context, userID int, token string) error {
	_, err := db.Pool.Exec(ctx, `UPDATE users SET push_token = $2 WHERE id = $1`, userID, token)
	return err
}

// ClearPushToken removes a device address after the provider reports it
// permanently gone, so future fan-outs skip it.
func (s *UserService) ClearPushToken(ctx context.Context, userID int) error {
	_, err := db.Pool.Exec(ctx, `UPDATE users SET push_token = NULL WHERE id = $1`, userID)
	return err
}

func (s *UserService) GenerateJWT(userID int, username string) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"exp":      time.Now().Add(time.Hour * 72).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *UserService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
