package filestore

import (
	"golang.org/x/crypto/bcrypt"

	"ba-agent-core/internal/errors"
	"ba-agent-core/pkg/types"
)

// sessionHashKey is the Metadata key a checkpoint's session hash is filed
// under, set by hashCheckpointSession and read back by VerifyCheckpointSession.
const sessionHashKey = "session_hash_bcrypt"

// hashCheckpointSession bcrypt-hashes a session id for storage alongside a
// checkpoint. Checkpoint files are the one category meant to outlive and
// travel outside the process that wrote them (exported, copied, restored on
// another host), so the owning session id is never written to disk in the
// clear the way it is for every other category's in-memory FileRef.
func hashCheckpointSession(sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(sessionID), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "hash checkpoint session id", err)
	}
	return string(hash), nil
}

// VerifyCheckpointSession reports whether sessionID is the one that wrote
// ref's checkpoint, by comparing it against the bcrypt hash filed in the
// index row's metadata rather than any plaintext copy.
func (s *Store) VerifyCheckpointSession(ref types.FileRef, sessionID string) (bool, error) {
	if ref.Category != types.CategoryCheckpoint {
		return false, errors.New(errors.KindBadInput, "not a checkpoint reference")
	}
	hash, ok := ref.Metadata[sessionHashKey]
	if !ok || hash == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(sessionID)) == nil, nil
}
