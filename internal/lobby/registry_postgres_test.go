package lobby

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Integration tests against a real PostgreSQL. Skipped unless TEST_DATABASE_URL
// is set, same pattern as the Redis-dependent suites.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres integration tests")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "should connect to postgres")

	require.NoError(t, db.Migrator().DropTable(&RoomPlayer{}, &Room{}, &User{}))
	require.NoError(t, db.AutoMigrate(&User{}, &Room{}, &RoomPlayer{}))
	return db
}

func TestPostgresJoinCapacityUnderContention(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(db)
	registry := NewRoomRegistry(db)

	host, err := users.EnsureUser(ctx, "host", "Host")
	require.NoError(t, err)

	const maxPlayers = 2
	const callers = 5

	id, err := registry.CreateRoom(ctx, "contended", maxPlayers, host.ID)
	require.NoError(t, err)

	userIDs := make([]string, callers)
	for i := range userIDs {
		user, err := users.EnsureUser(ctx, fmt.Sprintf("user%d", i), fmt.Sprintf("User%d", i))
		require.NoError(t, err)
		userIDs[i] = user.ID
	}

	var admitted, full atomic.Int32
	var wg sync.WaitGroup
	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			switch err := registry.JoinRoom(ctx, id, userID); {
			case err == nil:
				admitted.Add(1)
			case assert.ErrorIs(t, err, ErrRoomFull):
				full.Add(1)
			}
		}(userID)
	}
	wg.Wait()

	assert.Equal(t, int32(maxPlayers), admitted.Load())
	assert.Equal(t, int32(callers-maxPlayers), full.Load())

	room, err := registry.GetRoom(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, maxPlayers, room.CurrentPlayers)

	var memberCount int64
	require.NoError(t, db.Model(&RoomPlayer{}).Where("room_id = ?", id).Count(&memberCount).Error)
	assert.Equal(t, int64(maxPlayers), memberCount, "counter must match membership rows")
}

func TestPostgresLeaveRoom(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(db)
	registry := NewRoomRegistry(db)

	host, err := users.EnsureUser(ctx, "host", "Host")
	require.NoError(t, err)
	alice, err := users.EnsureUser(ctx, "alice", "Alice")
	require.NoError(t, err)

	id, err := registry.CreateRoom(ctx, "room", 4, host.ID)
	require.NoError(t, err)
	require.NoError(t, registry.JoinRoom(ctx, id, alice.ID))

	err = registry.LeaveRoom(ctx, id, host.ID)
	assert.ErrorIs(t, err, ErrMembershipNotFound)

	require.NoError(t, registry.LeaveRoom(ctx, id, alice.ID))
	err = registry.LeaveRoom(ctx, id, alice.ID)
	assert.ErrorIs(t, err, ErrMembershipNotFound)

	room, err := registry.GetRoom(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, room.CurrentPlayers)
}

func TestPostgresSingleMembershipAcrossRooms(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(db)
	registry := NewRoomRegistry(db)

	alice, err := users.EnsureUser(ctx, "alice", "Alice")
	require.NoError(t, err)

	first, err := registry.CreateRoom(ctx, "first", 4, alice.ID)
	require.NoError(t, err)
	second, err := registry.CreateRoom(ctx, "second", 4, alice.ID)
	require.NoError(t, err)

	require.NoError(t, registry.JoinRoom(ctx, first, alice.ID))
	err = registry.JoinRoom(ctx, second, alice.ID)
	assert.ErrorIs(t, err, ErrAlreadyInRoom)

	var memberCount int64
	require.NoError(t, db.Model(&RoomPlayer{}).Where("user_id = ?", alice.ID).Count(&memberCount).Error)
	assert.Equal(t, int64(1), memberCount, "user should hold exactly one membership row")

	room, err := registry.GetRoom(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 0, room.CurrentPlayers)

	require.NoError(t, registry.LeaveRoom(ctx, first, alice.ID))
	require.NoError(t, registry.JoinRoom(ctx, second, alice.ID))
}

func TestPostgresListMembersOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(db)
	registry := NewRoomRegistry(db)

	alice, err := users.EnsureUser(ctx, "alice", "Alice")
	require.NoError(t, err)
	bob, err := users.EnsureUser(ctx, "bob", "Bob")
	require.NoError(t, err)

	id, err := registry.CreateRoom(ctx, "room", 4, alice.ID)
	require.NoError(t, err)
	require.NoError(t, registry.JoinRoom(ctx, id, alice.ID))
	require.NoError(t, registry.JoinRoom(ctx, id, bob.ID))

	members, err := registry.ListMembers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, members)
}
