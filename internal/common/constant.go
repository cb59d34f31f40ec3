package common

// AccessTokenHeaderName is the HTTP header used to carry the access token on
// outbound API requests.
const AccessTokenHeaderName = "Authorization"

// KV keys reserved by the engine inside the user key/value collection.
const (
	KVKeySessionTokens = "session.tokens"
	KVKeyLastSyncAt    = "sync.last_at"
)
