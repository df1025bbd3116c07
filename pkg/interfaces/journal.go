package interfaces

import "chatrelay/pkg/types"

// EventJournal records broadcast events for history lookups.
// Both methods must return promptly; persistence is best effort and
// never gates delivery.
type EventJournal interface {
	Record(entry *types.JournalEntry)
	ClearRoom(roomID string)
}
