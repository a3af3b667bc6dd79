// Package compute derives SessionItem metadata (display level, kind,
// grouping, cost, context usage, git root/branch, link-table candidates)
// from raw journal lines.
//
// Derivation is factored as a pure function over (item, Context) per the
// design note in spec §9. Both batch recompute and live per-line
// ingestion drive the same in-memory accumulator (MemoryContext) through
// Apply, so the two modes share identical semantics (testable property
// P3); only price lookups go to the store.
package compute

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/gitresolve"
	"github.com/agentdesk/agentdesk/backend/internal/journal"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// TaskCandidate is a recorded Task tool_use awaiting a matching subagent
// session (spec §4.E.5, AgentLink).
type TaskCandidate struct {
	AssistantLine int64
	ToolUseID     string
	PromptText    string
}

// Context abstracts the per-session state Compute needs across an ordered
// walk of items: the currently open collapsible group, the tool_use_id ->
// line_num map, the Task-tool_use candidate list, the message_id
// dedup set, and the directory -> git-root cache.
//
// MemoryContext implements it over plain in-memory maps. Batch mode seeds
// one from a bulk load of the session's existing rows (so the
// git-preservation invariant holds across a recompute). Live mode keeps
// one per session in the Ingester for the life of the process.
type Context interface {
	OpenGroupHead() (lineNum int64, ok bool)
	SetOpenGroup(lineNum int64, ok bool)

	// GroupMembers returns the line numbers of every item currently
	// belonging to the open group (so a tail rewrite can report every
	// amended line).
	GroupMembers() []int64
	AddGroupMember(lineNum int64)
	ClearGroupMembers()

	LookupToolUse(toolUseID string) (lineNum int64, ok bool)
	RecordToolUse(toolUseID string, lineNum int64)

	RecordTaskCandidate(c TaskCandidate)

	HasSeenMessageID(id string) bool
	MarkSeenMessageID(id string)

	GitCache() *gitresolve.Cache
	// ExistingGit returns the git directory/branch already stored for this
	// line, if any (nil, nil when none). Compute must never overwrite a
	// non-nil existing value (P10).
	ExistingGit(lineNum int64) (dir *string, branch *string)

	// LookupPrice resolves ModelPrice for the most recent effective_date
	// <= at, for the given model id. ok is false when no row exists.
	LookupPrice(modelID string, at time.Time) (model.ModelPrice, bool)
}

// Result is what Apply derives for one new item, plus any side effects on
// previously-existing items.
type Result struct {
	Item SessionItem

	// AmendedTails holds the line numbers of previously-emitted items
	// whose GroupTail changed as a side effect of this item joining their
	// group (spec §4.D step 5, §4.E.2).
	AmendedTails []int64

	ToolResultLink *model.ToolResultLink
}

// SessionItem mirrors model.SessionItem; kept distinct here so the
// pure-function signature doesn't need the caller to pre-allocate a
// model.SessionItem.
type SessionItem = model.SessionItem

// filePathTools lists tool names whose input carries a filesystem path
// Compute should resolve for git root/branch (spec §4.E.4).
var filePathTools = map[string]string{
	"Read":  "file_path",
	"Edit":  "file_path",
	"Write": "file_path",
	"Grep":  "path",
	"Glob":  "path",
}

// Apply derives metadata for one new journal line and applies any
// side-effects (group-tail rewrites, link-table emissions) through ctx.
// parseErr, when non-nil, is the error journal.Parse returned for this
// line: Apply still returns a valid debug-only Result rather than
// propagating (spec §4.D: malformed JSON never aborts ingestion).
func Apply(ctx Context, sessionID string, lineNum int64, raw string, rec journal.Record, parseErr error, ts time.Time) Result {
	item := SessionItem{
		SessionID:    sessionID,
		LineNum:      lineNum,
		RawContent:   raw,
		DisplayLevel: model.DisplayDebugOnly,
		Kind:         model.KindUnknown,
	}

	if parseErr != nil {
		closeOpenGroup(ctx)
		return Result{Item: item}
	}

	classify(&item, rec)

	var amended []int64
	var toolLink *model.ToolResultLink

	switch item.DisplayLevel {
	case model.DisplayCollapsible:
		amended = joinOrOpenGroup(ctx, &item)
	case model.DisplayAlways:
		amended = handleAlwaysItem(ctx, &item, rec)
	default:
		closeOpenGroup(ctx)
	}

	if rec.Assistant != nil {
		deriveAssistant(ctx, &item, rec.Assistant, ts)
	}
	if rec.User != nil {
		toolLink = deriveUser(ctx, &item, rec.User)
	}

	deriveGitInfo(ctx, &item, rec)

	return Result{Item: item, AmendedTails: amended, ToolResultLink: toolLink}
}

// classify sets DisplayLevel and Kind from the raw JSON shape (§4.E.1).
func classify(item *SessionItem, rec journal.Record) {
	switch rec.Type {
	case "user":
		if rec.User != nil && rec.User.ParentToolUseID != nil {
			item.Kind = model.KindToolResult
			item.DisplayLevel = model.DisplayCollapsible
			return
		}
		item.Kind = model.KindUserMessage
		item.DisplayLevel = model.DisplayAlways
	case "assistant":
		item.Kind = model.KindAssistantMessage
		item.DisplayLevel = model.DisplayAlways
		if rec.Assistant != nil && hasOnlyToolUse(rec.Assistant.Message.Content) {
			item.Kind = model.KindToolUse
			item.DisplayLevel = model.DisplayCollapsible
		}
	case "system":
		if rec.Subtype == "init" {
			item.Kind = model.KindSystemInit
		} else {
			item.Kind = model.KindSystemOther
		}
		item.DisplayLevel = model.DisplayDebugOnly
	case "custom-title":
		item.Kind = model.KindCustomTitle
		item.DisplayLevel = model.DisplayDebugOnly
	case "stream_event":
		item.Kind = model.KindStreamEvent
		item.DisplayLevel = model.DisplayDebugOnly
	default:
		item.Kind = model.KindUnknown
		item.DisplayLevel = model.DisplayDebugOnly
	}
}

// hasOnlyToolUse reports whether an assistant message's content is
// entirely tool_use blocks with no user-visible text, in which case the
// line collapses like a tool invocation rather than standing alone.
func hasOnlyToolUse(c journal.Content) bool {
	if len(c.Blocks) == 0 {
		return false
	}
	sawToolUse := false
	for _, b := range c.Blocks {
		switch b.Type {
		case "tool_use":
			sawToolUse = true
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				return false
			}
		}
	}
	return sawToolUse
}

func closeOpenGroup(ctx Context) {
	ctx.SetOpenGroup(0, false)
	ctx.ClearGroupMembers()
}

// joinOrOpenGroup implements §4.E.2 for a new collapsible item.
func joinOrOpenGroup(ctx Context, item *SessionItem) []int64 {
	head, ok := ctx.OpenGroupHead()
	if ok {
		h := head
		item.GroupHead = &h
		t := item.LineNum
		item.GroupTail = &t
		ctx.AddGroupMember(item.LineNum)
		members := ctx.GroupMembers()
		amended := make([]int64, 0, len(members)-1)
		for _, m := range members {
			if m != item.LineNum {
				amended = append(amended, m)
			}
		}
		return amended
	}
	h := item.LineNum
	item.GroupHead = &h
	t := item.LineNum
	item.GroupTail = &t
	ctx.SetOpenGroup(item.LineNum, true)
	ctx.ClearGroupMembers()
	ctx.AddGroupMember(item.LineNum)
	return nil
}

// handleAlwaysItem implements §4.E.2's prefix/suffix handling for an
// "always" item relative to a collapsible run.
func handleAlwaysItem(ctx Context, item *SessionItem, rec journal.Record) []int64 {
	prefix := isPrefixBlock(rec)
	suffix := isSuffixBlock(rec)

	head, open := ctx.OpenGroupHead()
	switch {
	case prefix && open:
		h := head
		item.GroupHead = &h
		t := item.LineNum
		item.GroupTail = &t
		ctx.AddGroupMember(item.LineNum)
		members := ctx.GroupMembers()
		amended := make([]int64, 0, len(members)-1)
		for _, m := range members {
			if m != item.LineNum {
				amended = append(amended, m)
			}
		}
		closeOpenGroup(ctx)
		return amended
	case suffix:
		h := item.LineNum
		item.GroupHead = &h
		item.GroupTail = nil
		ctx.SetOpenGroup(item.LineNum, true)
		ctx.ClearGroupMembers()
		ctx.AddGroupMember(item.LineNum)
		return nil
	default:
		closeOpenGroup(ctx)
		return nil
	}
}

// isPrefixBlock/isSuffixBlock classify an "always" assistant item by the
// block types it carries, since the journal format has no explicit flag:
// an item with any tool_use block counts as a prefix (it joins and closes
// the open group, when one is open); an item with any non-blank text block
// counts as a suffix (it opens a new group headed by itself). Non-assistant
// items are neither.
func isPrefixBlock(rec journal.Record) bool {
	if rec.Assistant == nil {
		return false
	}
	for _, b := range rec.Assistant.Message.Content.Blocks {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}

func isSuffixBlock(rec journal.Record) bool {
	if rec.Assistant == nil {
		return false
	}
	hasText := false
	for _, b := range rec.Assistant.Message.Content.Blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			hasText = true
		}
	}
	return hasText
}

// deriveAssistant implements §4.E.3 (cost and context usage).
func deriveAssistant(ctx Context, item *SessionItem, a *journal.AssistantRecord, ts time.Time) {
	if a.Message.ID != "" {
		id := a.Message.ID
		item.MessageID = &id
	}
	if a.Message.Usage == nil {
		return
	}
	u := a.Message.Usage
	total := u.InputTokens + u.OutputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
	item.ContextUsage = &total

	if a.Message.ID == "" || ctx.HasSeenMessageID(a.Message.ID) {
		return
	}
	ctx.MarkSeenMessageID(a.Message.ID)

	price, ok := ctx.LookupPrice(modelFamily(a.Message.Model), ts)
	if !ok {
		return
	}
	cost := costFromUsage(u, price)
	item.Cost = &cost

	// Task tool_use candidate recording (§4.E.5), scanned from the same
	// content blocks already classified above.
	for _, b := range a.Message.Content.Blocks {
		if b.Type == "tool_use" && b.Name == "Task" {
			ctx.RecordTaskCandidate(TaskCandidate{
				AssistantLine: item.LineNum,
				ToolUseID:     b.ID,
				PromptText:    taskPrompt(b.Input),
			})
		}
		if b.Type == "tool_use" {
			ctx.RecordToolUse(b.ID, item.LineNum)
		}
	}
}

// modelFamily maps a message's model string to the ModelPrice model id
// used for price lookups. It returns m unchanged: no date or version
// suffix is stripped, so the price table is keyed on whatever the CLI
// sends.
func modelFamily(m string) string { return m }

// costFromUsage implements the per-million-token pricing formula,
// preferring the ephemeral 5m/1h cache-write breakdown when present.
func costFromUsage(u *journal.Usage, price model.ModelPrice) model.Micros {
	perToken := func(tokens int64, pricePerM model.Micros) model.Micros {
		return model.Micros(int64(pricePerM) * tokens / 1_000_000)
	}

	cost := perToken(u.InputTokens, price.InputPerM)
	cost += perToken(u.OutputTokens, price.OutputPerM)
	cost += perToken(u.CacheReadInputTokens, price.CacheReadPerM)

	if u.CacheCreation != nil {
		cost += perToken(u.CacheCreation.Ephemeral5mInputTokens, price.CacheWrite5mPerM)
		cost += perToken(u.CacheCreation.Ephemeral1hInputTokens, price.CacheWrite1hPerM)
	} else {
		cost += perToken(u.CacheCreationInputTokens, price.CacheWrite5mPerM)
	}
	return cost
}

// taskPrompt extracts the "prompt" field from a Task tool_use's input, used
// as a fallback match key for AgentLink resolution when tool_use_id isn't
// available to the spawned subagent session.
func taskPrompt(input json.RawMessage) string {
	var v struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return ""
	}
	return v.Prompt
}

// deriveUser implements the tool_result half of §4.E.5 (ToolResultLink).
func deriveUser(ctx Context, item *SessionItem, u *journal.UserRecord) *model.ToolResultLink {
	for _, b := range u.Message.Content.Blocks {
		if b.Type != "tool_result" || b.ToolUseID == "" {
			continue
		}
		if useLine, ok := ctx.LookupToolUse(b.ToolUseID); ok {
			return &model.ToolResultLink{
				SessionID:         item.SessionID,
				ToolUseLineNum:    useLine,
				ToolResultLineNum: item.LineNum,
				ToolUseID:         b.ToolUseID,
			}
		}
	}
	return nil
}

// deriveGitInfo implements §4.E.4: resolve a git root/branch for any
// absolute path referenced by a tool_use block, honoring the
// never-overwrite-non-null invariant (P10).
func deriveGitInfo(ctx Context, item *SessionItem, rec journal.Record) {
	if existingDir, existingBranch := ctx.ExistingGit(item.LineNum); existingDir != nil {
		item.GitDirectory = existingDir
		item.GitBranch = existingBranch
		return
	}
	if rec.Assistant == nil {
		return
	}

	counts := map[string]int{}
	order := []string{}
	for _, b := range rec.Assistant.Message.Content.Blocks {
		if b.Type != "tool_use" {
			continue
		}
		field, ok := filePathTools[b.Name]
		if !ok {
			continue
		}
		path := extractStringField(b.Input, field)
		if path == "" || !strings.HasPrefix(path, "/") {
			continue
		}
		dir := path
		if !isLikelyDir(path) {
			dir = parentDir(path)
		}
		if counts[dir] == 0 {
			order = append(order, dir)
		}
		counts[dir]++
	}

	best := ""
	bestCount := 0
	for _, dir := range order {
		if counts[dir] > bestCount {
			best = dir
			bestCount = counts[dir]
		}
	}
	if best == "" {
		return
	}

	res := ctx.GitCache().Resolve(best)
	if res == nil {
		return
	}
	dir, branch := res.Dir, res.Branch
	item.GitDirectory = &dir
	item.GitBranch = &branch
}

func isLikelyDir(path string) bool {
	return strings.HasSuffix(path, "/")
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func extractStringField(input json.RawMessage, field string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(input, &m); err != nil {
		return ""
	}
	raw, ok := m[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
