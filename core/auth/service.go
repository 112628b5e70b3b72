package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
)

const (
	keyToken        = "auth_token"
	keyUser         = "auth_user"
	keyProfileImage = "profile_image:"
)

// KV is the client-side key-value storage.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Store persists the authenticated session and profile images.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Token returns the persisted bearer token, or ErrNotAuthenticated.
func (s *Store) Token(ctx context.Context) (string, error) {
	token, err := s.kv.Get(ctx, keyToken)
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return "", ErrNotAuthenticated
		}
		return "", errors.Wrap(err, "reading token")
	}
	return token, nil
}

func (s *Store) User(ctx context.Context) (User, error) {
	raw, err := s.kv.Get(ctx, keyUser)
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return User{}, ErrNotAuthenticated
		}
		return User{}, errors.Wrap(err, "reading user")
	}
	var usr User
	if err := json.Unmarshal([]byte(raw), &usr); err != nil {
		return User{}, errors.Wrap(err, "decoding user")
	}
	return usr, nil
}

func (s *Store) Save(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess.User)
	if err != nil {
		return errors.Wrap(err, "encoding user")
	}
	if err := s.kv.Set(ctx, keyToken, sess.Token); err != nil {
		return errors.Wrap(err, "saving token")
	}
	return errors.Wrap(s.kv.Set(ctx, keyUser, string(data)), "saving user")
}

func (s *Store) Clear(ctx context.Context) error {
	return errors.Wrap(s.kv.Delete(ctx, keyToken, keyUser), "clearing session")
}

// ProfileImage returns the decoded profile image of userID.
func (s *Store) ProfileImage(ctx context.Context, userID string) ([]byte, error) {
	raw, err := s.kv.Get(ctx, keyProfileImage+userID)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	return data, errors.Wrap(err, "decoding profile image")
}

// SetProfileImage stores data base64-encoded under userID.
func (s *Store) SetProfileImage(ctx context.Context, userID string, data []byte) error {
	return s.kv.Set(ctx, keyProfileImage+userID, base64.StdEncoding.EncodeToString(data))
}

type Service struct {
	backend  Backend
	store    *Store
	validate *validator.Validate
	logger   core.Logger
}

func NewService(backend Backend, store *Store, validate *validator.Validate, logger core.Logger) *Service {
	return &Service{backend: backend, store: store, validate: validate, logger: logger}
}

func (svc *Service) Login(ctx context.Context, creds Credentials) (User, error) {
	if err := creds.Validate(svc.validate); err != nil {
		return User{}, err
	}
	sess, err := svc.backend.Login(ctx, creds)
	if err != nil {
		return User{}, errors.Wrap(err, "logging in")
	}
	if err := svc.store.Save(ctx, sess); err != nil {
		return User{}, err
	}
	svc.logger.Info("user logged in", sess.User)
	return sess.User, nil
}

// Register creates an account and signs it in.
func (svc *Service) Register(ctx context.Context, reg Registration) (User, error) {
	if err := reg.Validate(svc.validate); err != nil {
		return User{}, err
	}
	sess, err := svc.backend.Register(ctx, reg)
	if err != nil {
		return User{}, errors.Wrap(err, "registering")
	}
	if err := svc.store.Save(ctx, sess); err != nil {
		return User{}, err
	}
	svc.logger.Info("user registered", sess.User)
	return sess.User, nil
}

func (svc *Service) Logout(ctx context.Context) error {
	return svc.store.Clear(ctx)
}

// CurrentUser returns the signed-in user. An expired session is cleared.
func (svc *Service) CurrentUser(ctx context.Context) (User, error) {
	if _, err := svc.Token(ctx); err != nil {
		return User{}, err
	}
	return svc.store.User(ctx)
}

// Token returns a still valid bearer token.
func (svc *Service) Token(ctx context.Context) (string, error) {
	token, err := svc.store.Token(ctx)
	if err != nil {
		return "", err
	}
	claims, err := ParseClaims(token)
	if err != nil {
		svc.logger.Warn("discarding unreadable token", err)
		_ = svc.store.Clear(ctx)
		return "", ErrNotAuthenticated
	}
	if claims.Expired(nowFunc()) {
		_ = svc.store.Clear(ctx)
		return "", ErrSessionExpired
	}
	return token, nil
}

func (svc *Service) ProfileImage(ctx context.Context, userID string) ([]byte, error) {
	return svc.store.ProfileImage(ctx, userID)
}

func (svc *Service) SetProfileImage(ctx context.Context, userID string, data []byte) error {
	if len(data) == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "image", Error: "this field is required"})
	}
	return errors.Wrap(svc.store.SetProfileImage(ctx, userID, data), "saving profile image")
}
