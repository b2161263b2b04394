package messaging

// Subjects follow {domain}.{resource}.{action}.
const (
	SubjectAuthUserRegistered = "auth.users.registered"
	SubjectAuthSessionLogin   = "auth.sessions.login"
	SubjectAuthTokenRefreshed = "auth.tokens.refreshed"
)

// AuthSubjects lists every subject the authenticate service publishes to.
var AuthSubjects = []string{
	SubjectAuthUserRegistered,
	SubjectAuthSessionLogin,
	SubjectAuthTokenRefreshed,
}
