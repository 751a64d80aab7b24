package lobby

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry is an in-process RoomRegistry with the same semantics as the
// PostgreSQL one: a per-room mutex stands in for the row lock, so concurrent
// joins against one room serialize while other rooms proceed independently.
// Used by tests and by development setups without a database.
type MemoryRegistry struct {
	mu     sync.RWMutex
	rooms  map[int64]*memoryRoom
	nextID int64

	// memberRooms holds the single membership a user may have, across all
	// rooms. Locked after the room entry, never the other way around.
	memberMu    sync.Mutex
	memberRooms map[string]int64 // userID -> roomID

	users *MemoryUserRepository // nickname lookups for ListMembers, may be nil
}

type memoryRoom struct {
	mu      sync.Mutex // the per-room lock; held for the full join/leave
	room    Room
	members []RoomPlayer
}

func NewMemoryRegistry(users *MemoryUserRepository) *MemoryRegistry {
	return &MemoryRegistry{
		rooms:       make(map[int64]*memoryRoom),
		memberRooms: make(map[string]int64),
		users:       users,
	}
}

func (m *MemoryRegistry) ListRooms(ctx context.Context) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]Room, 0, len(m.rooms))
	for _, entry := range m.rooms {
		entry.mu.Lock()
		rooms = append(rooms, entry.room)
		entry.mu.Unlock()
	}
	// newest first
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID > rooms[j].ID
		}
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (m *MemoryRegistry) GetRoom(ctx context.Context, roomID int64) (*Room, error) {
	m.mu.RLock()
	entry, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	room := entry.room
	return &room, nil
}

func (m *MemoryRegistry) CreateRoom(ctx context.Context, name string, maxPlayers int, createdBy string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.rooms[id] = &memoryRoom{
		room: Room{
			ID:         id,
			RoomName:   name,
			MaxPlayers: maxPlayers,
			GameStatus: StatusWaiting,
			CreatedBy:  createdBy,
			CreatedAt:  time.Now().UTC(),
		},
	}
	return id, nil
}

func (m *MemoryRegistry) JoinRoom(ctx context.Context, roomID int64, userID string) error {
	m.mu.RLock()
	entry, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return ErrRoomNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	m.memberMu.Lock()
	defer m.memberMu.Unlock()

	if current, ok := m.memberRooms[userID]; ok {
		if current == roomID {
			return ErrAlreadyMember
		}
		return ErrAlreadyInRoom
	}
	if entry.room.CurrentPlayers >= entry.room.MaxPlayers {
		return ErrRoomFull
	}
	entry.members = append(entry.members, RoomPlayer{
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: time.Now().UTC(),
	})
	entry.room.CurrentPlayers++
	m.memberRooms[userID] = roomID
	return nil
}

func (m *MemoryRegistry) LeaveRoom(ctx context.Context, roomID int64, userID string) error {
	m.mu.RLock()
	entry, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return ErrMembershipNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	for i, member := range entry.members {
		if member.UserID == userID {
			entry.members = append(entry.members[:i], entry.members[i+1:]...)
			if entry.room.CurrentPlayers > 0 {
				entry.room.CurrentPlayers--
			}
			m.memberMu.Lock()
			delete(m.memberRooms, userID)
			m.memberMu.Unlock()
			return nil
		}
	}
	return ErrMembershipNotFound
}

func (m *MemoryRegistry) ListMembers(ctx context.Context, roomID int64) ([]string, error) {
	m.mu.RLock()
	entry, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	nicknames := make([]string, 0, len(entry.members))
	for _, member := range entry.members {
		nickname := member.UserID
		if m.users != nil {
			if user, err := m.users.GetUser(ctx, member.UserID); err == nil {
				nickname = user.Nickname
			}
		}
		nicknames = append(nicknames, nickname)
	}
	return nicknames, nil
}

// MemberIDs returns the user IDs currently in the room, by join time.
// Test helper for asserting the admitted set.
func (m *MemoryRegistry) MemberIDs(roomID int64) []string {
	m.mu.RLock()
	entry, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	ids := make([]string, 0, len(entry.members))
	for _, member := range entry.members {
		ids = append(ids, member.UserID)
	}
	return ids
}

// MemoryUserRepository is the in-process UserRepository counterpart.
type MemoryUserRepository struct {
	mu         sync.RWMutex
	byID       map[string]User
	byUsername map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:       make(map[string]User),
		byUsername: make(map[string]string),
	}
}

func (r *MemoryUserRepository) EnsureUser(ctx context.Context, username, nickname string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byUsername[username]; ok {
		user := r.byID[id]
		user.Nickname = nickname
		r.byID[id] = user
		return &user, nil
	}

	user := User{
		ID:        uuid.New().String(),
		Username:  username,
		Nickname:  nickname,
		CreatedAt: time.Now().UTC(),
	}
	r.byID[user.ID] = user
	r.byUsername[username] = user.ID
	return &user, nil
}

func (r *MemoryUserRepository) GetUser(ctx context.Context, userID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}
