package authd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/electra-analytics/electra/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("incorrect email or password")

	// ErrUserNotFound is returned when a user ID does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when adding an email twice.
	ErrUserExists = errors.New("user already exists")
)

// SeedUser is one entry of the users seed file.
type SeedUser struct {
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	AllowedTags  string `yaml:"allowed_tags"`
	PasswordHash string `yaml:"password_hash"`
}

type seedFile struct {
	Users []SeedUser `yaml:"users"`
}

type account struct {
	user models.User
	hash []byte
}

// UserStore holds the accounts of the reference backend in memory.
type UserStore struct {
	mu      sync.RWMutex
	byEmail map[string]*account
	byID    map[int64]*account
	nextID  int64
}

// NewUserStore creates an empty store.
func NewUserStore() *UserStore {
	return &UserStore{
		byEmail: make(map[string]*account),
		byID:    make(map[int64]*account),
		nextID:  1,
	}
}

// LoadUsers reads a YAML seed file into a new store.
func LoadUsers(path string) (*UserStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}

	store := NewUserStore()
	for _, u := range seed.Users {
		if u.PasswordHash == "" {
			return nil, fmt.Errorf("user %s: password_hash is required", u.Email)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %s: invalid password_hash: %w", u.Email, err)
		}
		if _, err := store.add(u, []byte(u.PasswordHash)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Add creates an account with a plain text password.
func (s *UserStore) Add(email, name string, role models.Role, allowedTags, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return s.add(SeedUser{Email: email, Name: name, Role: string(role), AllowedTags: allowedTags}, hash)
}

func (s *UserStore) add(u SeedUser, hash []byte) (*models.User, error) {
	email := normalizeEmail(u.Email)
	if email == "" {
		return nil, errors.New("email is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
	}

	role := models.Role(u.Role)
	if role == "" {
		role = models.RoleManager
	}

	acc := &account{
		user: models.User{
			ID:          s.nextID,
			Email:       email,
			Name:        u.Name,
			Role:        role,
			AllowedTags: u.AllowedTags,
		},
		hash: hash,
	}
	s.nextID++
	s.byEmail[email] = acc
	s.byID[acc.user.ID] = acc

	return acc.user.Clone(), nil
}

// Authenticate checks a password. Unknown users still pay for a bcrypt comparison.
func (s *UserStore) Authenticate(email, password string) (*models.User, error) {
	s.mu.RLock()
	acc, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return acc.user.Clone(), nil
}

// Get returns the user with id.
func (s *UserStore) Get(id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return acc.user.Clone(), nil
}

// Len returns the number of accounts.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// dummyHash is compared against for unknown emails.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("electra-dummy-password"), bcrypt.DefaultCost)
