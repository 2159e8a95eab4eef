package storage

import (
	"time"
)

// UserAccount is a resource owner known to the server.
type UserAccount struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt, used by the resource-owner password grant
	LastLoginAt  time.Time

	// PairwiseSubjects maps a client id to the obfuscated subject issued to
	// that client, so an id_token_hint subject can be reversed.
	PairwiseSubjects map[string]string
}

// PairwiseSubjectFor returns the obfuscated subject issued to the client, or
// "" when the account uses public subjects for it.
func (u *UserAccount) PairwiseSubjectFor(clientID string) string {
	return u.PairwiseSubjects[clientID]
}
