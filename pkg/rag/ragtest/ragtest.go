// Package ragtest holds deterministic stub collaborators for pipeline tests
package ragtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/retrieval"
)

var ErrUnscripted = errors.New("ragtest: no scripted reply")

// Call is one recorded model invocation
type Call struct {
	System string
	Prompt string
	JSON   bool
}

// Reply is a scripted model answer
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

func Text(s string) Reply {
	return Reply{Text: s}
}

// JSON marshals v as the reply text
func JSON(v any) Reply {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Reply{Text: string(raw)}
}

func Fail(err error) Reply {
	return Reply{Err: err}
}

// LLM answers by system prompt. Replies registered with On are consumed in
// order and the last one repeats. Unscripted prompts fail with ErrUnscripted.
type LLM struct {
	mu       sync.Mutex
	handlers map[string]func(Call) Reply
	calls    []Call
}

var _ llm.LLMProvider = (*LLM)(nil)

func NewLLM() *LLM {
	return &LLM{handlers: make(map[string]func(Call) Reply)}
}

func (l *LLM) On(system string, replies ...Reply) *LLM {
	if len(replies) == 0 {
		panic("ragtest: On needs at least one reply")
	}
	var mu sync.Mutex
	next := 0
	return l.OnFunc(system, func(Call) Reply {
		mu.Lock()
		defer mu.Unlock()
		r := replies[next]
		if next < len(replies)-1 {
			next++
		}
		return r
	})
}

func (l *LLM) OnFunc(system string, fn func(Call) Reply) *LLM {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[system] = fn
	return l
}

// Calls counts invocations made with the given system prompt
func (l *LLM) Calls(system string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.System == system {
			n++
		}
	}
	return n
}

// Prompts returns the user prompts sent with the given system prompt
func (l *LLM) Prompts(system string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, c := range l.calls {
		if c.System == system {
			out = append(out, c.Prompt)
		}
	}
	return out
}

func (l *LLM) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	o := llm.Apply(llm.Options{}, opts...)
	call := Call{System: o.System, JSON: o.JSON}
	if len(history) > 0 {
		call.Prompt = history[len(history)-1].Content
	}

	l.mu.Lock()
	l.calls = append(l.calls, call)
	fn, ok := l.handlers[o.System]
	l.mu.Unlock()

	if !ok {
		return "", ErrUnscripted
	}
	r := fn(call)
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.Text, r.Err
}

func (l *LLM) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return l.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

// Retriever returns Results[i] on the i-th call; the last entry repeats
type Retriever struct {
	mu       sync.Mutex
	Results  [][]retrieval.Chunk
	Err      error
	Max      int
	requests []retrieval.Request
}

var _ retrieval.Retriever = (*Retriever)(nil)

func NewRetriever(results ...[]retrieval.Chunk) *Retriever {
	return &Retriever{Results: results, Max: 50}
}

func (r *Retriever) Search(ctx context.Context, req retrieval.Request) ([]retrieval.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.Err != nil {
		return nil, r.Err
	}
	if len(r.Results) == 0 {
		return nil, nil
	}
	i := len(r.requests) - 1
	if i >= len(r.Results) {
		i = len(r.Results) - 1
	}
	return append([]retrieval.Chunk(nil), r.Results[i]...), nil
}

func (r *Retriever) MaxResults() int {
	return r.Max
}

func (r *Retriever) Requests() []retrieval.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]retrieval.Request(nil), r.requests...)
}

// Notifier records progress and delivered answers
type Notifier struct {
	mu        sync.Mutex
	statuses  []string
	delivered []string
	events    []string
	Err       error
}

func (n *Notifier) Notify(ctx context.Context, threadID, status string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, fmt.Sprintf("%s:%s", threadID, status))
	n.events = append(n.events, "status")
	return n.Err
}

func (n *Notifier) Deliver(ctx context.Context, threadID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, fmt.Sprintf("%s:%s", threadID, text))
	n.events = append(n.events, "answer")
	return n.Err
}

func (n *Notifier) Statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.statuses...)
}

func (n *Notifier) Delivered() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.delivered...)
}

// Events lists "status" and "answer" in the order they reached the notifier
func (n *Notifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}
