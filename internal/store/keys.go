package store

const (
	sessionKeyPrefix = "interview:session:"
	historyKeyPrefix = "interview:history:"
	resultKeyPrefix  = "interview:result:"
	userResultsKey   = "interview:results:"
	globalResultsKey = "interview:results"

	// MaxResultIndex bounds both the per-user and the global result index.
	MaxResultIndex = 50
)

func SessionKey(id string) string         { return sessionKeyPrefix + id }
func HistoryKey(jobID string) string      { return historyKeyPrefix + jobID }
func ResultKey(sessionID string) string   { return resultKeyPrefix + sessionID }
func UserResultsKey(userID string) string { return userResultsKey + userID }
