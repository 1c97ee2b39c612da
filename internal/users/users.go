// Package users is the directory of customers and agents.
package users

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/cashxhq/cashx/internal/idgen"
)

var (
	// ErrUserNotFound is returned when a user doesn't exist
	ErrUserNotFound = errors.New("user not found")
	// ErrPhoneTaken is returned when registering a phone number already in use
	ErrPhoneTaken = errors.New("phone number already registered")
	// ErrInvalidInput is returned for malformed registration data
	ErrInvalidInput = errors.New("invalid input")
	// ErrWrongPIN is returned when a transaction PIN check fails
	ErrWrongPIN = errors.New("incorrect transaction PIN")
	// ErrNoPIN is returned when a user has not set a transaction PIN
	ErrNoPIN = errors.New("transaction PIN not set")
)

// User is a directory entry. Agents are users who have opted in to
// serving cash requests; the flag gates search candidacy, nothing else.
type User struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	IsAgent     bool      `json:"is_agent"`
	DeviceToken string    `json:"device_token,omitempty"`
	BankCode    string    `json:"bank_code,omitempty"`
	AccountNo   string    `json:"account_number,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	PINHash     string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FullName returns the display name used in dispatch payloads.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Store defines the user persistence interface.
type Store interface {
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	Update(ctx context.Context, user *User) error
	ListAgents(ctx context.Context) ([]*User, error)
}

// Service manages the user directory.
type Service struct {
	store Store
}

// NewService creates a user service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates a new user.
func (s *Service) Register(ctx context.Context, phone, firstName, lastName string, isAgent bool) (*User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.TrimSpace(firstName) == "" {
		return nil, ErrInvalidInput
	}
	if existing, err := s.store.GetByPhone(ctx, phone); err == nil && existing != nil {
		return nil, ErrPhoneTaken
	}

	now := time.Now()
	user := &User{
		ID:          idgen.WithPrefix("usr_"),
		PhoneNumber: phone,
		FirstName:   strings.TrimSpace(firstName),
		LastName:    strings.TrimSpace(lastName),
		IsAgent:     isAgent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// SetDeviceToken updates the push notification token for a user.
func (s *Service) SetDeviceToken(ctx context.Context, id, token string) (*User, error) {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	user.DeviceToken = token
	user.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetBankDetails records the payout account an agent receives escrow into.
func (s *Service) SetBankDetails(ctx context.Context, id, bankCode, accountNo string) (*User, error) {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	user.BankCode = bankCode
	user.AccountNo = accountNo
	user.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetAgent toggles whether a user serves cash requests.
func (s *Service) SetAgent(ctx context.Context, id string, isAgent bool) (*User, error) {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	user.IsAgent = isAgent
	user.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateLocation records a user's last known position.
func (s *Service) UpdateLocation(ctx context.Context, id string, lat, lon float64) (*User, error) {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Latitude = lat
	user.Longitude = lon
	user.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetPIN stores the transaction PIN as a salted hash.
func (s *Service) SetPIN(ctx context.Context, id, pin string) error {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	user.PINHash = hashPIN(user.ID, pin)
	user.UpdatedAt = time.Now()
	return s.store.Update(ctx, user)
}

// CheckPIN verifies a transaction PIN.
func (s *Service) CheckPIN(ctx context.Context, id, pin string) error {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if user.PINHash == "" {
		return ErrNoPIN
	}
	if subtle.ConstantTimeCompare([]byte(user.PINHash), []byte(hashPIN(user.ID, pin))) != 1 {
		return ErrWrongPIN
	}
	return nil
}

// hashPIN derives the stored hash. The user ID salts the digest so
// equal PINs don't share hashes.
func hashPIN(userID, pin string) string {
	sum := sha256.Sum256([]byte(userID + ":" + pin))
	return hex.EncodeToString(sum[:])
}

// ListAgents returns all users who can serve cash requests.
func (s *Service) ListAgents(ctx context.Context) ([]*User, error) {
	return s.store.ListAgents(ctx)
}
