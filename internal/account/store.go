package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const tierCacheTTL = 5 * time.Minute
const tierCachePrefix = "voidgate:tier:"

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidLogin = errors.New("invalid email or password")
	ErrNotFound     = errors.New("account not found")
)

// User is a registered account row.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Tier         string
	CreatedAt    time.Time
}

// Store manages registered accounts in PostgreSQL with a Redis cache in
// front of tier lookups.
type Store struct {
	db          *pgxpool.Pool
	redis       *redis.Client
	tierLimits  map[string]int
	defaultTier string
}

func NewStore(db *pgxpool.Pool, rdb *redis.Client, tierLimits map[string]int, defaultTier string) *Store {
	return &Store{
		db:          db,
		redis:       rdb,
		tierLimits:  tierLimits,
		defaultTier: defaultTier,
	}
}

// Create registers a new account with a bcrypt-hashed password on the
// default tier.
func (s *Store) Create(ctx context.Context, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{Email: email, Tier: s.defaultTier}
	err = s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, tier)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, email, string(hash), s.defaultTier).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// Authenticate verifies an email/password pair. Missing account and wrong
// password collapse into one error so callers cannot probe which part failed.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, tier, created_at
		FROM users
		WHERE email = $1 AND is_active
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Tier, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidLogin
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidLogin
	}
	return &u, nil
}

// DailyLimit reports the request limit for the principal's tier. The tier
// reads through a short-lived Redis cache; the database row stays
// authoritative. Unknown accounts and unconfigured tiers are errors, which
// quota enforcement treats as denials.
func (s *Store) DailyLimit(ctx context.Context, principalID string) (int, error) {
	tier, err := s.tierFor(ctx, principalID)
	if err != nil {
		return 0, err
	}
	limit, ok := s.tierLimits[tier]
	if !ok {
		return 0, fmt.Errorf("no limit configured for tier %q", tier)
	}
	return limit, nil
}

func (s *Store) tierFor(ctx context.Context, principalID string) (string, error) {
	if s.redis != nil {
		tier, err := s.redis.Get(ctx, tierCachePrefix+principalID).Result()
		if err == nil && tier != "" {
			return tier, nil
		}
	}

	var tier string
	err := s.db.QueryRow(ctx, `
		SELECT tier FROM users WHERE id = $1 AND is_active
	`, principalID).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query tier: %w", err)
	}

	if s.redis != nil {
		s.redis.Set(ctx, tierCachePrefix+principalID, tier, tierCacheTTL)
	}
	return tier, nil
}
