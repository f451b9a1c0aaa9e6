package models

// RemoteHost identifies one member of the fleet. Immutable once
// registered; the set of known hosts changes only through explicit
// administrative add/remove operations.
type RemoteHost struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	IsLocalHost bool   `json:"is_local_host"`
}

// Equals compares hosts by identity.
func (h *RemoteHost) Equals(other *RemoteHost) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.ID == other.ID
}
