package student

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
)

type (
	Student struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Roll       string `json:"roll"`
		Email      string `json:"email"`
		AvatarPath string `json:"avatarPath,omitempty"`
	}

	NewStudent struct {
		Name     string `json:"name" validate:"required,notblank"`
		Email    string `json:"email" validate:"required,email"`
		Roll     string `json:"studentRoll" validate:"required,roll"`
		Password string `json:"password" validate:"required,min=6"`
	}

	UpdateStudent struct {
		Name  string `json:"name" validate:"required,notblank"`
		Email string `json:"email" validate:"required,email"`
		Roll  string `json:"roll" validate:"required,roll"`
	}

	// Repository is where students live; the backend in production.
	Repository interface {
		QueryStudents(ctx context.Context) ([]Student, error)
		CreateStudent(ctx context.Context, ns NewStudent) (Student, error)
		UpdateStudent(ctx context.Context, id string, us UpdateStudent) (Student, error)
		DeleteStudent(ctx context.Context, id string) error
	}
)

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.Roll = core.CleanString(ns.Roll)
	return validate.Struct(ns)
}

func (us *UpdateStudent) Validate(validate *validator.Validate) error {
	us.Name = core.CleanString(us.Name)
	us.Email = core.CleanString(us.Email, true /* lower */)
	us.Roll = core.CleanString(us.Roll)
	return validate.Struct(us)
}

type Service struct {
	repo     Repository
	validate *validator.Validate
}

func NewService(repo Repository, validate *validator.Validate) *Service {
	return &Service{repo: repo, validate: validate}
}

func (svc *Service) Query(ctx context.Context) ([]Student, error) {
	students, err := svc.repo.QueryStudents(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []Student{}
	}
	return students, nil
}

// GetByRoll finds a student by roll number among all students.
func (svc *Service) GetByRoll(ctx context.Context, roll string) (Student, error) {
	roll = core.CleanString(roll)
	students, err := svc.Query(ctx)
	if err != nil {
		return Student{}, err
	}
	for _, s := range students {
		if s.Roll == roll {
			return s, nil
		}
	}
	return Student{}, core.ErrNotFound
}

func (svc *Service) Create(ctx context.Context, ns NewStudent) (Student, error) {
	if err := ns.Validate(svc.validate); err != nil {
		return Student{}, err
	}
	s, err := svc.repo.CreateStudent(ctx, ns)
	return s, errors.Wrap(err, "creating student")
}

func (svc *Service) Update(ctx context.Context, id string, us UpdateStudent) (Student, error) {
	id = core.CleanString(id)
	if id == "" {
		return Student{}, core.ErrNotFound
	}
	if err := us.Validate(svc.validate); err != nil {
		return Student{}, err
	}
	s, err := svc.repo.UpdateStudent(ctx, id, us)
	return s, errors.Wrap(err, "updating student")
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	id = core.CleanString(id)
	if id == "" {
		return core.ErrNotFound
	}
	return errors.Wrap(svc.repo.DeleteStudent(ctx, id), "deleting student")
}
