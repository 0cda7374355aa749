package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/repository"
)

const (
	defaultTokenTTL   = time.Hour
	tokenIssuer       = "autocue"
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,63}$`)

// operatorClaims carry the operator id in the subject.
type operatorClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// OperatorService registers operators and issues the HS256 tokens that
// guard the cue and node routes.
type OperatorService struct {
	repo       repository.OperatorRepo
	signingKey []byte
	tokenTTL   time.Duration
	log        *logger.Logger
	now        func() time.Time
}

func NewOperatorService(repo repository.OperatorRepo, signingKey string, tokenTTL time.Duration, log *logger.Logger) *OperatorService {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OperatorService{
		repo:       repo,
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
		log:        log,
		now:        time.Now,
	}
}

func normalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// SignUp creates an operator. Usernames are case-insensitive.
func (s *OperatorService) SignUp(ctx context.Context, username, password string) (int, error) {
	username = normalizeUsername(username)
	if !usernamePattern.MatchString(username) {
		return 0, fmt.Errorf("%w: username must be 3-64 chars of a-z, 0-9, '.', '_' or '-'", ErrInvalidOperator)
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return 0, fmt.Errorf("%w: password must be %d-%d bytes", ErrInvalidOperator, minPasswordLength, maxPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.Create(ctx, models.Operator{Username: username, PasswordHash: string(hash), CreatedAt: s.now()})
	if errors.Is(err, repository.ErrOperatorExists) {
		return 0, ErrOperatorExists
	}
	if err != nil {
		return 0, err
	}
	s.log.Infow("operator_created", "operator_id", id, "username", username)
	return id, nil
}

// SignIn checks the credentials and returns a signed token. Unknown users
// and wrong passwords are indistinguishable to the caller.
func (s *OperatorService) SignIn(ctx context.Context, username, password string) (string, error) {
	op, err := s.repo.GetByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return "", err
	}
	if op == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &operatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.Itoa(op.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
		Username: op.Username,
	})
	return token.SignedString(s.signingKey)
}

// ParseToken validates an operator token and returns the operator id.
func (s *OperatorService) ParseToken(accessToken string) (int, error) {
	var claims operatorClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := strconv.Atoi(claims.Subject)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return id, nil
}
