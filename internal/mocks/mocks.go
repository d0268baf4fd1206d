package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/repositories"
)

type ArchiveRepositoryMock struct {
	mock.Mock
}

func (m *ArchiveRepositoryMock) ArchiveMessage(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *ArchiveRepositoryMock) UpdateAnnotations(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type QueryServiceMock struct {
	mock.Mock
}

func (m *QueryServiceMock) RecentMessages(ctx context.Context, filter repositories.MessageFilter) ([]models.Message, error) {
	args := m.Called(ctx, filter)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *QueryServiceMock) SearchMessages(ctx context.Context, query, room string) ([]models.Message, error) {
	args := m.Called(ctx, query, room)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *QueryServiceMock) UnreadCounts(ctx context.Context, connID string) (map[string]int, error) {
	args := m.Called(ctx, connID)
	var counts map[string]int
	if val := args.Get(0); val != nil {
		counts = val.(map[string]int)
	}
	return counts, args.Error(1)
}

func (m *QueryServiceMock) Roster(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *QueryServiceMock) Rooms(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	var rooms map[string]int
	if val := args.Get(0); val != nil {
		rooms = val.(map[string]int)
	}
	return rooms, args.Error(1)
}
