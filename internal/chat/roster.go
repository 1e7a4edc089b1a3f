package chat

import (
	"strings"

	"github.com/markdave123-py/SupraChat/internal/models"
)

// ExcludeSelf drops the profile whose id is selfID.
func ExcludeSelf(profiles []models.UserProfile, selfID string) []models.UserProfile {
	out := make([]models.UserProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.ID != selfID {
			out = append(out, p)
		}
	}
	return out
}

// RecomputePresence returns peers with Status set from the snapshot: online
// when the id is a key of state, offline otherwise. It does not modify peers.
func RecomputePresence(peers []models.UserProfile, state models.PresenceState) []models.UserProfile {
	out := make([]models.UserProfile, len(peers))
	for i, p := range peers {
		if state.Has(p.ID) {
			p.Status = models.StatusOnline
		} else {
			p.Status = models.StatusOffline
		}
		out[i] = p
	}
	return out
}

// FilterByEmail keeps peers whose email contains term, ignoring case.
func FilterByEmail(peers []models.UserProfile, term string) []models.UserProfile {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return peers
	}
	out := make([]models.UserProfile, 0, len(peers))
	for _, p := range peers {
		if strings.Contains(strings.ToLower(p.Email), term) {
			out = append(out, p)
		}
	}
	return out
}
