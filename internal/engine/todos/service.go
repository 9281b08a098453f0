package todos

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("todo not found")
	ErrInvalidInput = errors.New("title is required")
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(orgID, createdBy, title, notes string) (*Todo, error) {
	if title == "" {
		return nil, ErrInvalidInput
	}

	now := time.Now().Unix()
	todo := &Todo{
		ID:             "todo_" + uuid.New().String(),
		OrganizationID: orgID,
		CreatedBy:      createdBy,
		Title:          title,
		Notes:          notes,
		Status:         StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(todo); err != nil {
		return nil, err
	}
	return todo, nil
}

func (s *Service) Get(orgID, id string) (*Todo, error) {
	todo, err := s.repo.GetByID(orgID, id)
	if err != nil {
		return nil, err
	}
	if todo == nil {
		return nil, ErrNotFound
	}
	return todo, nil
}

func (s *Service) List(orgID string) ([]*Todo, error) {
	return s.repo.ListByOrg(orgID)
}

func (s *Service) Update(orgID, id string, title, notes *string, done *bool) (*Todo, error) {
	todo, err := s.Get(orgID, id)
	if err != nil {
		return nil, err
	}

	if title != nil {
		if *title == "" {
			return nil, ErrInvalidInput
		}
		todo.Title = *title
	}
	if notes != nil {
		todo.Notes = *notes
	}
	if done != nil {
		if *done {
			todo.Status = StatusDone
			ts := time.Now().Unix()
			todo.CompletedAt = &ts
		} else {
			todo.Status = StatusOpen
			todo.CompletedAt = nil
		}
	}
	todo.UpdatedAt = time.Now().Unix()

	if err := s.repo.Update(todo); err != nil {
		return nil, err
	}
	return todo, nil
}

func (s *Service) Delete(orgID, id string) error {
	existed, err := s.repo.Delete(orgID, id)
	if err != nil {
		return err
	}
	if !existed {
		return ErrNotFound
	}
	return nil
}
