package twitch

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// MessageID folds a Twitch message id (a UUID) into a stable non-negative
// int64 so it fits the numeric message_id column. Ids that are not UUIDs are
// hashed through a name-based UUID first.
func MessageID(s string) int64 {
	if s == "" {
		return 0
	}
	u, err := uuid.Parse(s)
	if err != nil {
		u = uuid.NewSHA1(uuid.NameSpaceOID, []byte(s))
	}
	hi := binary.BigEndian.Uint64(u[:8])
	lo := binary.BigEndian.Uint64(u[8:])
	id := int64((hi ^ lo) & math.MaxInt64)
	if id == 0 {
		// zero means "absent" for reply targets
		id = 1
	}
	return id
}

// ChatID parses a numeric Twitch room/broadcaster id.
func ChatID(roomID string) (int64, error) {
	return strconv.ParseInt(roomID, 10, 64)
}
