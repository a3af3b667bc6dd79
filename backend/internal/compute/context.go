package compute

import (
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/gitresolve"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// PriceLookup resolves the most-recent-effective-date-<=-target ModelPrice
// row for a model id (spec P5). Implemented by internal/store; declared
// here so compute has no import-time dependency on the store package.
type PriceLookup interface {
	LookupPrice(modelID string, at time.Time) (model.ModelPrice, bool)
}

// MemoryContext is the reference Context implementation: a plain in-memory
// accumulator. One instance is used per session for the lifetime of a
// single walk (batch recompute) or for the lifetime of the server process
// (live ingestion of one active session), hydrated from the store's
// already-persisted rows before the first new item is applied.
//
// Because batch and live both drive the exact same accumulator type
// through the same Apply function, P3 (batch == live) holds by
// construction rather than merely by coincidental parity between two
// separately written implementations.
type MemoryContext struct {
	openGroupHead int64
	groupOpen     bool
	groupMembers  []int64

	toolUseByID map[string]int64

	taskCandidates []TaskCandidate

	seenMessageIDs map[string]bool

	existingGit map[int64][2]*string // lineNum -> [dir, branch]

	gitCache *gitresolve.Cache
	prices   PriceLookup
}

// NewMemoryContext returns an empty accumulator backed by prices for cost
// lookups. existingGit should be pre-populated (via SeedExistingGit) from
// already-persisted items before replaying a session from scratch in
// batch mode, so the git-preservation invariant (P10) holds across
// recompute.
func NewMemoryContext(prices PriceLookup) *MemoryContext {
	return &MemoryContext{
		toolUseByID:    map[string]int64{},
		seenMessageIDs: map[string]bool{},
		existingGit:    map[int64][2]*string{},
		gitCache:       gitresolve.NewCache(),
		prices:         prices,
	}
}

// SeedExistingGit records the already-persisted git_directory/git_branch
// for a line so a recompute never clobbers it (P10).
func (c *MemoryContext) SeedExistingGit(lineNum int64, dir, branch *string) {
	if dir == nil {
		return
	}
	c.existingGit[lineNum] = [2]*string{dir, branch}
}

// SeedMessageID marks a message id as already cost-charged, so a
// recompute doesn't double count a cost already assigned on a prior run.
func (c *MemoryContext) SeedMessageID(id string) {
	if id != "" {
		c.seenMessageIDs[id] = true
	}
}

// SeedToolUse records an already-seen tool_use_id -> line_num mapping.
func (c *MemoryContext) SeedToolUse(toolUseID string, lineNum int64) {
	c.toolUseByID[toolUseID] = lineNum
}

func (c *MemoryContext) OpenGroupHead() (int64, bool) { return c.openGroupHead, c.groupOpen }

func (c *MemoryContext) SetOpenGroup(lineNum int64, ok bool) {
	c.openGroupHead = lineNum
	c.groupOpen = ok
}

func (c *MemoryContext) GroupMembers() []int64 { return append([]int64(nil), c.groupMembers...) }

func (c *MemoryContext) AddGroupMember(lineNum int64) { c.groupMembers = append(c.groupMembers, lineNum) }

func (c *MemoryContext) ClearGroupMembers() { c.groupMembers = c.groupMembers[:0] }

func (c *MemoryContext) LookupToolUse(toolUseID string) (int64, bool) {
	ln, ok := c.toolUseByID[toolUseID]
	return ln, ok
}

func (c *MemoryContext) RecordToolUse(toolUseID string, lineNum int64) {
	c.toolUseByID[toolUseID] = lineNum
}

func (c *MemoryContext) RecordTaskCandidate(cand TaskCandidate) {
	c.taskCandidates = append(c.taskCandidates, cand)
}

// TaskCandidates returns every Task tool_use recorded so far, for the
// Store to attempt AgentLink resolution against newly created subagent
// sessions in the same project.
func (c *MemoryContext) TaskCandidates() []TaskCandidate {
	return append([]TaskCandidate(nil), c.taskCandidates...)
}

func (c *MemoryContext) HasSeenMessageID(id string) bool { return c.seenMessageIDs[id] }

func (c *MemoryContext) MarkSeenMessageID(id string) { c.seenMessageIDs[id] = true }

func (c *MemoryContext) GitCache() *gitresolve.Cache { return c.gitCache }

func (c *MemoryContext) ExistingGit(lineNum int64) (*string, *string) {
	pair, ok := c.existingGit[lineNum]
	if !ok {
		return nil, nil
	}
	return pair[0], pair[1]
}

func (c *MemoryContext) LookupPrice(modelID string, at time.Time) (model.ModelPrice, bool) {
	if c.prices == nil {
		return model.ModelPrice{}, false
	}
	return c.prices.LookupPrice(modelID, at)
}
