package directory

// Store persists the directory documents wholesale. Implementations:
// in-memory (tests), JSON files, Redis.
type Store interface {
	LoadParticipants() (map[int64]Participant, error)
	SaveParticipants(map[int64]Participant) error
	LoadNicknames() (map[string]string, error)
	SaveNicknames(map[string]string) error
}
