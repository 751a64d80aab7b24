package protocol

// Message protocol definitions for the lobby wire format.
// One message per line: <TYPE>:<payload>, newline-terminated UTF-8.

// Message types and structures
type MessageType string

const (
	TypeLogin             MessageType = "LOGIN"               // client -> server: username|nickname
	TypeLoginSuccess      MessageType = "LOGIN_SUCCESS"       // server -> client: userId|nickname
	TypeLoginFailed       MessageType = "LOGIN_FAILED"        // server -> client: reason
	TypeRoomListRequest   MessageType = "ROOM_LIST_REQUEST"   // client -> server: empty payload
	TypeRoomListResponse  MessageType = "ROOM_LIST_RESPONSE"  // server -> client: roomId|name|cur/max|status entries joined by ;
	TypeRoomCreate        MessageType = "ROOM_CREATE"         // client -> server: roomName|maxPlayers
	TypeRoomCreateSuccess MessageType = "ROOM_CREATE_SUCCESS" // server -> client: roomId|roomName
	TypeRoomCreateFailed  MessageType = "ROOM_CREATE_FAILED"  // server -> client: reason
	TypeRoomJoin          MessageType = "ROOM_JOIN"           // client -> server: roomId
	TypeRoomJoinSuccess   MessageType = "ROOM_JOIN_SUCCESS"   // server -> client: roomId|roomName
	TypeRoomJoinFailed    MessageType = "ROOM_JOIN_FAILED"    // server -> client: reason
	TypeRoomLeave         MessageType = "ROOM_LEAVE"          // client -> server: empty payload
	TypePlayerJoined      MessageType = "PLAYER_JOINED"       // server -> room: nickname
	TypePlayerLeft        MessageType = "PLAYER_LEFT"         // server -> room: nickname
	TypePlayerList        MessageType = "PLAYER_LIST"         // server -> client: nick1|nick2|...
	TypeChatMessage       MessageType = "CHAT_MESSAGE"        // both ways: nickname|message
	TypeSystemMessage     MessageType = "SYSTEM_MESSAGE"      // server -> client: message
	TypeError             MessageType = "ERROR"               // server -> client: message
	TypeDisconnect        MessageType = "DISCONNECT"          // both ways: empty payload
)

// knownTypes is the fixed token set accepted by Decode.
var knownTypes = map[MessageType]bool{
	TypeLogin:             true,
	TypeLoginSuccess:      true,
	TypeLoginFailed:       true,
	TypeRoomListRequest:   true,
	TypeRoomListResponse:  true,
	TypeRoomCreate:        true,
	TypeRoomCreateSuccess: true,
	TypeRoomCreateFailed:  true,
	TypeRoomJoin:          true,
	TypeRoomJoinSuccess:   true,
	TypeRoomJoinFailed:    true,
	TypeRoomLeave:         true,
	TypePlayerJoined:      true,
	TypePlayerLeft:        true,
	TypePlayerList:        true,
	TypeChatMessage:       true,
	TypeSystemMessage:     true,
	TypeError:             true,
	TypeDisconnect:        true,
}

// Message is one wire protocol unit. Immutable once constructed; the payload
// grammar is type-specific and not validated by the codec itself.
type Message struct {
	Type    MessageType
	Payload string
}

// constructor for a Message with an already-assembled payload
func NewMessage(msgType MessageType, payload string) Message {
	return Message{Type: msgType, Payload: payload}
}

// NewFieldMessage assembles the payload from |-separated fields, rejecting
// fields that contain protocol delimiters instead of corrupting the line.
func NewFieldMessage(msgType MessageType, fields ...string) (Message, error) {
	if err := ValidateFields(fields...); err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: JoinFields(fields...)}, nil
}
