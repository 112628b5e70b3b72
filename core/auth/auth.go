package auth

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

var (
	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrSessionExpired   = errors.New("session expired")

	nowFunc = time.Now // mockable
)

type (
	User struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		Role        string `json:"role"`
		StudentRoll string `json:"studentRoll,omitempty"`
		AvatarPath  string `json:"avatarPath,omitempty"`
	}

	Credentials struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	Registration struct {
		Name        string `json:"name" validate:"required,notblank"`
		Email       string `json:"email" validate:"required,email"`
		Password    string `json:"password" validate:"required,min=6"`
		Role        string `json:"role" validate:"required,oneof=student teacher"`
		StudentRoll string `json:"studentRoll,omitempty" validate:"omitempty,roll"`
	}

	// Session is what the backend returns on login/registration.
	Session struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}

	// Claims are the fields the kiosk reads from the backend token. The signature is not checked here.
	Claims struct {
		UserID    string
		Email     string
		Role      string
		ExpiresAt time.Time
	}

	// Backend authenticates against the remote API.
	Backend interface {
		Login(ctx context.Context, creds Credentials) (Session, error)
		Register(ctx context.Context, reg Registration) (Session, error)
	}
)

func (u User) IsStudent() bool { return u.Role == RoleStudent }
func (u User) IsTeacher() bool { return u.Role == RoleTeacher }

func (c *Credentials) Validate(validate *validator.Validate) error {
	c.Email = core.CleanString(c.Email, true /* lower */)
	return validate.Struct(c)
}

func (r *Registration) Validate(validate *validator.Validate) error {
	r.Name = core.CleanString(r.Name)
	r.Email = core.CleanString(r.Email, true /* lower */)
	r.Role = core.CleanString(r.Role, true /* lower */)
	r.StudentRoll = core.CleanString(r.StudentRoll)
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.Role == RoleStudent && r.StudentRoll == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "studentRoll", Error: "this field is required"})
	}
	return nil
}

// ParseClaims reads the claims of a backend token without verifying its signature.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, mc); err != nil {
		return Claims{}, errors.Wrap(err, "parsing token")
	}

	var c Claims
	c.UserID, _ = mc["user_id"].(string)
	if c.UserID == "" {
		c.UserID, _ = mc["sub"].(string)
	}
	c.Email, _ = mc["email"].(string)
	c.Role, _ = mc["role"].(string)
	switch exp := mc["exp"].(type) {
	case float64:
		sec := int64(exp)
		c.ExpiresAt = time.Unix(sec, int64((exp-float64(sec))*1e9)).UTC()
	case nil:
	default:
		return Claims{}, errors.Errorf("parsing token: invalid exp %v", exp)
	}
	return c, nil
}

// Expired reports whether the token expired at now. Tokens without expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
