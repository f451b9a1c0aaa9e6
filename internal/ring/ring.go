// Package ring maps shard keys (account ids or client addresses) to the
// ordered set of fleet members responsible for them, using weighted
// rendezvous hashing. Every node computes the same answer for the same
// (key, membership) pair with no coordination.
package ring

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gatewatch/gatewatch/internal/models"
)

type member struct {
	id     string
	host   *models.RemoteHost
	weight float64
}

// Ring is the weighted responsibility set over registered hosts.
// Membership is append-only during steady-state operation; Remove exists
// for deliberate operator action only.
type Ring struct {
	mu      sync.RWMutex
	members map[string]*member
}

func New() *Ring {
	return &Ring{members: make(map[string]*member)}
}

// Add registers a fleet member. Weight defaults to 1; larger weights
// attract proportionally more shards.
func (r *Ring) Add(id string, host *models.RemoteHost, weight float64) error {
	if id == "" || host == nil {
		return fmt.Errorf("ring: %w: host id and address are required", models.ErrBadRequest)
	}
	if weight <= 0 {
		weight = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[id]; exists {
		return fmt.Errorf("ring: %w: host %q already registered", models.ErrConflict, id)
	}
	r.members[id] = &member{id: id, host: host, weight: weight}
	return nil
}

// Remove deregisters a host. Re-sharding is deliberate, never a side
// effect of a transient failure, so nothing calls this automatically.
func (r *Ring) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
}

// Len returns the current number of registered hosts.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Hosts returns a snapshot of all registered hosts.
func (r *Ring) Hosts() []*models.RemoteHost {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hosts := make([]*models.RemoteHost, 0, len(r.members))
	for _, m := range r.members {
		hosts = append(hosts, m.host)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].ID < hosts[j].ID })
	return hosts
}

// FindMembersResponsible returns up to countNeeded distinct hosts for the
// key, ordered by descending weighted rendezvous score. The ordering is
// deterministic across nodes; exact score ties break lexicographically on
// host id so it is also total.
func (r *Ring) FindMembersResponsible(key string, countNeeded int) []*models.RemoteHost {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if countNeeded <= 0 || len(r.members) == 0 {
		return nil
	}

	type scored struct {
		score float64
		m     *member
	}
	candidates := make([]scored, 0, len(r.members))
	for _, m := range r.members {
		candidates = append(candidates, scored{score: m.score(key), m: m})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].m.id < candidates[j].m.id
	})

	if countNeeded > len(candidates) {
		countNeeded = len(candidates)
	}
	hosts := make([]*models.RemoteHost, countNeeded)
	for i := 0; i < countNeeded; i++ {
		hosts[i] = candidates[i].m.host
	}
	return hosts
}

// score computes the weighted rendezvous score for this member: the hash
// of (member, key) mapped into (0,1) and stretched by -weight/ln(u), so a
// member with twice the weight wins twice as many keys in expectation.
func (m *member) score(key string) float64 {
	h := xxhash.Sum64String(m.id + "\x00" + key)
	u := (float64(h) + 1) / (float64(math.MaxUint64) + 2)
	return -m.weight / math.Log(u)
}
