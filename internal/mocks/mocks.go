package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"voxa-chat/internal/models"
	"voxa-chat/internal/realtime"
	"voxa-chat/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, key realtime.RoomKey, authorID uuid.UUID, body string, imageURL *string) (models.Message, error) {
	args := m.Called(ctx, key, authorID, body, imageURL)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) FetchRecent(ctx context.Context, key realtime.RoomKey, limit int) ([]models.Message, error) {
	args := m.Called(ctx, key, limit)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) Delete(ctx context.Context, messageID uuid.UUID) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListRecentWithRooms(ctx context.Context, limit int) ([]models.AdminMessage, error) {
	args := m.Called(ctx, limit)
	var list []models.AdminMessage
	if val := args.Get(0); val != nil {
		list = val.([]models.AdminMessage)
	}
	return list, args.Error(1)
}

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreatePrivateRoom(ctx context.Context, name string, creatorID uuid.UUID) (models.Room, error) {
	args := m.Called(ctx, name, creatorID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetByJoinCode(ctx context.Context, code string) (models.Room, error) {
	args := m.Called(ctx, code)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var list []models.Room
	if val := args.Get(0); val != nil {
		list = val.([]models.Room)
	}
	return list, args.Error(1)
}

func (m *RoomRepositoryMock) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) EnsureMember(ctx context.Context, roomID, userID uuid.UUID) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) ListMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error) {
	args := m.Called(ctx, roomID)
	var list []models.Membership
	if val := args.Get(0); val != nil {
		list = val.([]models.Membership)
	}
	return list, args.Error(1)
}

type ProfileRepositoryMock struct {
	mock.Mock
}

func (m *ProfileRepositoryMock) GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error) {
	args := m.Called(ctx, userID)
	var profile models.Profile
	if val := args.Get(0); val != nil {
		profile = val.(models.Profile)
	}
	return profile, args.Error(1)
}

func (m *ProfileRepositoryMock) DisplayNames(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	args := m.Called(ctx, userIDs)
	var names map[uuid.UUID]string
	if val := args.Get(0); val != nil {
		names = val.(map[uuid.UUID]string)
	}
	return names, args.Error(1)
}

func (m *ProfileRepositoryMock) ListProfiles(ctx context.Context) ([]models.AdminProfile, error) {
	args := m.Called(ctx)
	var list []models.AdminProfile
	if val := args.Get(0); val != nil {
		list = val.([]models.AdminProfile)
	}
	return list, args.Error(1)
}

func (m *ProfileRepositoryMock) UpdateProfile(ctx context.Context, userID uuid.UUID, username string, bio *string) (models.Profile, error) {
	args := m.Called(ctx, userID, username, bio)
	var profile models.Profile
	if val := args.Get(0); val != nil {
		profile = val.(models.Profile)
	}
	return profile, args.Error(1)
}

func (m *ProfileRepositoryMock) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *ProfileRepositoryMock) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MuteRepositoryMock struct {
	mock.Mock
}

func (m *MuteRepositoryMock) Mute(ctx context.Context, userID, mutedBy uuid.UUID) error {
	args := m.Called(ctx, userID, mutedBy)
	return args.Error(0)
}

func (m *MuteRepositoryMock) Unmute(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MuteRepositoryMock) ListMutes(ctx context.Context) ([]models.Mute, error) {
	args := m.Called(ctx)
	var list []models.Mute
	if val := args.Get(0); val != nil {
		list = val.([]models.Mute)
	}
	return list, args.Error(1)
}

var (
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
	_ repositories.RoomRepository    = (*RoomRepositoryMock)(nil)
	_ repositories.ProfileRepository = (*ProfileRepositoryMock)(nil)
	_ repositories.MuteRepository    = (*MuteRepositoryMock)(nil)
)
