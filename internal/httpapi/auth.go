package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"ultrapos/backend/internal/domain"
	"ultrapos/backend/internal/service"
	"ultrapos/backend/internal/store"
	"ultrapos/backend/internal/xid"
)

// AuthManager is the identity collaborator: it turns credentials into a
// verified (tenant, role, cashier) triple and nothing else. The stock and
// settlement core only ever sees the resulting Actor.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	repo     store.Repository
	policy   service.Policy
	limiter  *attemptLimiter
}

type posClaims struct {
	jwtlib.RegisteredClaims
	TenantID string `json:"tenantId"`
	Role     string `json:"role"`
	Name     string `json:"name"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, repo store.Repository, policy service.Policy) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		repo:     repo,
		policy:   policy,
		limiter:  newAttemptLimiter(10, 5*time.Minute),
	}
}

// Signup provisions a new tenant with its first admin account and returns
// a ready-to-use session token.
func (a *AuthManager) Signup(ctx context.Context, req domain.SignupRequest) (domain.LoginResponse, error) {
	tenantName := strings.TrimSpace(req.TenantName)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if tenantName == "" {
		return domain.LoginResponse{}, fmt.Errorf("tenant name required")
	}
	if err := validateCredentials(username, req.Password); err != nil {
		return domain.LoginResponse{}, err
	}

	plan := strings.ToLower(strings.TrimSpace(req.Plan))
	if plan == "" {
		plan = domain.PlanBasic
	}
	switch plan {
	case domain.PlanBasic, domain.PlanPro, domain.PlanUltra:
	default:
		return domain.LoginResponse{}, fmt.Errorf("unknown plan %q", plan)
	}

	if _, err := a.repo.GetUserByUsername(ctx, username); err == nil {
		return domain.LoginResponse{}, fmt.Errorf("username already exists")
	}

	now := time.Now().UTC()
	tenant, err := a.repo.CreateTenant(ctx, domain.Tenant{
		ID:        xid.New("tnt"),
		Name:      tenantName,
		Plan:      plan,
		CreatedAt: now,
	})
	if err != nil {
		return domain.LoginResponse{}, err
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("failed to hash password")
	}

	user := domain.UserAccount{
		ID:           xid.New("usr"),
		TenantID:     tenant.ID,
		Username:     username,
		Name:         strings.TrimSpace(req.Name),
		Role:         domain.RoleAdmin,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}
	if err := a.repo.CreateUser(ctx, user); err != nil {
		return domain.LoginResponse{}, err
	}

	return a.session(user)
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !a.limiter.allow(username) {
		return domain.LoginResponse{}, fmt.Errorf("too many attempts, try again later")
	}

	user, err := a.repo.GetUserByUsername(ctx, username)
	if err != nil || !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	a.limiter.reset(username)
	return a.session(*user)
}

func (a *AuthManager) session(user domain.UserAccount) (domain.LoginResponse, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		TenantID:    user.TenantID,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.TenantID == "" {
		return domain.Actor{}, errors.New("invalid token claims")
	}
	return domain.Actor{
		TenantID: claims.TenantID,
		UserID:   sub,
		Name:     claims.Name,
		Role:     claims.Role,
	}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "ultrapos",
		},
		TenantID: user.TenantID,
		Role:     user.Role,
		Name:     user.Name,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// CreateUser adds a sub-user (usually a cashier) inside the actor's tenant.
// Gated on the tenant's plan through Policy, not hard-coded here.
func (a *AuthManager) CreateUser(ctx context.Context, actor domain.Actor, req domain.UserCreateRequest) (domain.UserAccount, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.UserAccount{}, fmt.Errorf("admin role required: %w", store.ErrForbidden)
	}

	tenant, err := a.repo.GetTenant(ctx, actor.TenantID)
	if err != nil {
		return domain.UserAccount{}, err
	}
	if !a.policy.CanManageUsers(tenant.Plan) {
		return domain.UserAccount{}, fmt.Errorf("plan %q cannot create sub-users: %w", tenant.Plan, store.ErrForbidden)
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if err := validateCredentials(username, req.Password); err != nil {
		return domain.UserAccount{}, err
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleCashier
	}
	if role != domain.RoleAdmin && role != domain.RoleCashier {
		return domain.UserAccount{}, fmt.Errorf("unknown role %q", role)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("failed to hash password")
	}

	user := domain.UserAccount{
		ID:           xid.New("usr"),
		TenantID:     actor.TenantID,
		Username:     username,
		Name:         strings.TrimSpace(req.Name),
		Role:         role,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.UserAccount{}, fmt.Errorf("username already exists")
		}
		return domain.UserAccount{}, err
	}
	return user, nil
}

func (a *AuthManager) ListUsers(ctx context.Context, actor domain.Actor) ([]domain.UserAccount, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required: %w", store.ErrForbidden)
	}
	return a.repo.ListUsers(ctx, actor.TenantID)
}

// EnsureAdmin creates the bootstrap tenant and admin account if the
// username does not exist yet. Used at startup against empty stores.
func (a *AuthManager) EnsureAdmin(ctx context.Context, tenantName string, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil
	}
	if _, err := a.repo.GetUserByUsername(ctx, username); err == nil {
		return nil
	}
	_, err := a.Signup(ctx, domain.SignupRequest{
		TenantName: tenantName,
		Plan:       domain.PlanUltra,
		Username:   username,
		Password:   password,
		Name:       "Administrator",
	})
	return err
}

func validateCredentials(username string, password string) error {
	if len(username) < 4 || strings.ContainsAny(username, " \t\r\n") {
		return fmt.Errorf("username must be at least 4 characters with no spaces")
	}
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	return nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// attemptLimiter throttles repeated failed logins per username within a
// rolling window.
type attemptLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	attempts map[string]attemptWindow
}

type attemptWindow struct {
	count int
	start time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{max: max, window: window, attempts: make(map[string]attemptWindow)}
}

func (l *attemptLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	win := l.attempts[key]
	if now.Sub(win.start) > l.window {
		win = attemptWindow{start: now}
	}
	win.count++
	l.attempts[key] = win
	return win.count <= l.max
}

func (l *attemptLimiter) reset(key string) {
	l.mu.Lock()
	delete(l.attempts, key)
	l.mu.Unlock()
}
