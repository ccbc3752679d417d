package diagrams

import "strings"

// Redis key layout. The sorted index holds visible (non-deleted) diagram ids
// scored by updatedAt; the two sets track records awaiting reconciliation.
const (
	keyDirty         = "diagrams:dirty"
	keyPendingCreate = "diagrams:pending_create"
)

func diagramKey(userID, id string) string {
	return "diagram:" + userID + ":" + id
}

func metaKey(userID string) string {
	return "diagrams:user:" + userID + ":meta"
}

func listKey(userID string) string {
	return "diagrams:user:" + userID + ":list"
}

// syncMember encodes one sync-set entry as {userId}:{diagramId}.
func syncMember(userID, id string) string {
	return userID + ":" + id
}

// splitSyncMember decodes a sync-set entry. User ids never contain a colon;
// diagram ids are UUIDs, so the first colon is the separator.
func splitSyncMember(member string) (userID, id string, ok bool) {
	userID, id, ok = strings.Cut(member, ":")
	if !ok || userID == "" || id == "" {
		return "", "", false
	}
	return userID, id, true
}
