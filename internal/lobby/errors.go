package lobby

import "errors"

// Expected business-rule failures. Callers match with errors.Is; anything else
// coming out of the registry is a persistence failure wrapped with %w.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrMembershipNotFound = errors.New("user is not a member of the room")
	ErrAlreadyMember      = errors.New("user is already a member of the room")
	ErrAlreadyInRoom      = errors.New("user is already a member of another room")
	ErrUserNotFound       = errors.New("user not found")
)
