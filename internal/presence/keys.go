package presence

import "fmt"

// Key layout:
//   roomKey(session)          Set of user ids seen in the session
//   memberKey(session, user)  heartbeat string with TTL
//   namesKey(session)         Hash user id -> display name
//   cursorKey(session, user)  cursor JSON with TTL
const (
	keyRoomFmt   = "presence:room:%s"
	keyMemberFmt = "presence:member:%s:%s"
	keyNamesFmt  = "presence:room:names:%s"
	keyCursorFmt = "presence:cursor:%s:%s"
)

func roomKey(sessionID string) string           { return fmt.Sprintf(keyRoomFmt, sessionID) }
func memberKey(sessionID, userID string) string { return fmt.Sprintf(keyMemberFmt, sessionID, userID) }
func namesKey(sessionID string) string          { return fmt.Sprintf(keyNamesFmt, sessionID) }
func cursorKey(sessionID, userID string) string { return fmt.Sprintf(keyCursorFmt, sessionID, userID) }
