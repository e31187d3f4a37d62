package streamproc

import "encoding/json"

// FinalToolCall is a fully reassembled, parsed tool call ready to hand to the
// agent loop.
type FinalToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Result is the finalized snapshot of one completed stream.
type Result struct {
	Content          string
	ReasoningContent string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ToolCalls        []FinalToolCall
}

type pendingToolCall struct {
	index int
	id    string
	name  string
	args  []byte
}

// Accumulator holds the mutable state of one in-flight stream: running text,
// the finish-reason latch, token usage, and a per-index tool-call argument
// buffer. It is owned exclusively by one completion call and dropped when
// that call returns.
type Accumulator struct {
	content          []byte
	reasoningContent []byte
	finishReason     string
	promptTokens     int
	completionTokens int
	totalTokens      int
	byIndex          map[int]*pendingToolCall
	order            []int
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{byIndex: make(map[int]*pendingToolCall)}
}

// AddContent appends a text-delta fragment.
func (a *Accumulator) AddContent(s string) {
	if s == "" {
		return
	}
	a.content = append(a.content, s...)
}

// AddReasoning appends a reasoning/thinking-delta fragment.
func (a *Accumulator) AddReasoning(s string) {
	if s == "" {
		return
	}
	a.reasoningContent = append(a.reasoningContent, s...)
}

// SetFinishReason latches the most recent non-empty finish reason.
func (a *Accumulator) SetFinishReason(fr string) {
	if fr != "" {
		a.finishReason = fr
	}
}

// AddUsage sums prompt/completion token counts additively.
func (a *Accumulator) AddUsage(prompt, completion int) {
	a.promptTokens += prompt
	a.completionTokens += completion
	a.totalTokens = a.promptTokens + a.completionTokens
}

// LatchUsage replaces prompt/completion token counts with the larger of the
// current and given value. Used by wire formats (Anthropic) whose usage
// events report cumulative-per-message totals rather than per-event deltas —
// summing those would double- or triple-count.
func (a *Accumulator) LatchUsage(prompt, completion int) {
	if prompt > a.promptTokens {
		a.promptTokens = prompt
	}
	if completion > a.completionTokens {
		a.completionTokens = completion
	}
	a.totalTokens = a.promptTokens + a.completionTokens
}

// BeginToolCall opens (or re-opens) a pending tool call at the given index,
// optionally seeding it with initial argument text.
func (a *Accumulator) BeginToolCall(index int, id, name, argsSeed string) {
	pc, ok := a.byIndex[index]
	if !ok {
		pc = &pendingToolCall{index: index}
		a.byIndex[index] = pc
		a.order = append(a.order, index)
	}
	if id != "" {
		pc.id = id
	}
	if name != "" {
		pc.name = name
	}
	if argsSeed != "" {
		pc.args = append(pc.args, argsSeed...)
	}
}

// AppendToolArgs appends an argument-string fragment to the pending call at
// index, opening it implicitly if no Begin event was seen first (some wire
// formats emit the id/name only once and arguments on every delta
// thereafter, but a caller reading mid-stream after reconnect may only see
// delta frames).
func (a *Accumulator) AppendToolArgs(index int, fragment string) {
	pc, ok := a.byIndex[index]
	if !ok {
		pc = &pendingToolCall{index: index}
		a.byIndex[index] = pc
		a.order = append(a.order, index)
	}
	pc.args = append(pc.args, fragment...)
}

// Finish parses every pending tool call's argument buffer, running the
// repair pass on failure and substituting {} if repair still does not
// parse. Safe to call more than once; repeated calls return the same
// snapshot.
func (a *Accumulator) Finish() Result {
	res := Result{
		Content:          string(a.content),
		ReasoningContent: string(a.reasoningContent),
		FinishReason:     a.finishReason,
		PromptTokens:     a.promptTokens,
		CompletionTokens: a.completionTokens,
		TotalTokens:      a.totalTokens,
	}
	for _, idx := range a.order {
		pc := a.byIndex[idx]
		raw := pc.args
		if len(raw) == 0 {
			raw = []byte("{}")
		}
		var probe json.RawMessage
		if json.Unmarshal(raw, &probe) != nil {
			repaired := Repair(string(raw))
			if json.Unmarshal([]byte(repaired), &probe) != nil {
				probe = json.RawMessage("{}")
			} else {
				probe = json.RawMessage(repaired)
			}
		} else {
			probe = json.RawMessage(raw)
		}
		res.ToolCalls = append(res.ToolCalls, FinalToolCall{
			Index:     idx,
			ID:        pc.id,
			Name:      pc.name,
			Arguments: probe,
		})
	}
	return res
}
