// Package chunkreassembler buffers multi-part log messages that share a
// common group id and releases the concatenated payload once every part
// has arrived.
package chunkreassembler

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethdenver2026/relay/internal/models"
)

// groupTTL is how long an incomplete chunk group is retained before it
// is garbage-collected.
const groupTTL = 5 * time.Minute

// Reassembler holds in-flight chunk groups, guarded by a single mutex.
type Reassembler struct {
	mu     sync.Mutex
	groups map[string]*models.ChunkGroup
	now    func() time.Time
}

// New creates an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{
		groups: make(map[string]*models.ChunkGroup),
		now:    time.Now,
	}
}

// Feed processes one incoming log message. If the message carries no
// chunk_info it is returned unchanged. Otherwise it is buffered into its
// group; once every part of the group has arrived, Feed returns the
// synthetic reassembled message and removes the group. Cleanup of
// expired groups runs opportunistically on every call.
func (r *Reassembler) Feed(msg models.LogMessage) (*models.LogMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	if msg.ChunkInfo == nil {
		return &msg, true
	}

	info := msg.ChunkInfo
	// total=1 is not really chunked — accept as a direct pass-through.
	if info.Total <= 1 {
		out := msg
		out.ChunkInfo = nil
		return &out, true
	}

	group, exists := r.groups[info.GroupID]
	if !exists {
		group = &models.ChunkGroup{
			GroupID:   info.GroupID,
			Total:     info.Total,
			Parts:     make(map[int]models.LogMessage),
			FirstSeen: r.now(),
		}
		r.groups[info.GroupID] = group
	} else if group.Total != info.Total {
		slog.Warn("chunk group total mismatch, dropping chunk",
			"group_id", info.GroupID, "existing_total", group.Total, "incoming_total", info.Total)
		return nil, false
	}

	group.Parts[info.Index] = msg

	if len(group.Parts) < group.Total {
		return nil, false
	}

	delete(r.groups, info.GroupID)
	return assemble(group), true
}

// Sweep deletes groups older than groupTTL as of now.
func (r *Reassembler) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepAt(now)
}

func (r *Reassembler) sweepLocked() {
	r.sweepAt(r.now())
}

func (r *Reassembler) sweepAt(now time.Time) {
	for id, g := range r.groups {
		if now.Sub(g.FirstSeen) > groupTTL {
			delete(r.groups, id)
			slog.Warn("chunk group expired, purging", "group_id", id, "have", len(g.Parts), "total", g.Total)
		}
	}
}

// assemble concatenates a group's parts in ascending index order and
// attaches the sequence number / timestamp of the last-indexed part.
func assemble(group *models.ChunkGroup) *models.LogMessage {
	indices := make([]int, 0, len(group.Parts))
	for idx := range group.Parts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var payload []byte
	for _, idx := range indices {
		payload = append(payload, group.Parts[idx].Payload...)
	}

	lastIdx := indices[len(indices)-1]
	last := group.Parts[lastIdx]

	return &models.LogMessage{
		SequenceNumber:     last.SequenceNumber,
		ConsensusTimestamp: last.ConsensusTimestamp,
		Payload:            payload,
		Payer:              last.Payer,
		ChunkInfo:          nil,
	}
}
