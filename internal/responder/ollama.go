package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"handoff/internal/chat"
)

// historyWindow is how many prior transcript entries go into the prompt.
const historyWindow = 10

type cacheEntry struct {
	text      string
	createdAt time.Time
}

// Ollama generates replies with a local Ollama server. Identical prompts
// within CacheTTL are answered from memory.
type Ollama struct {
	client   *http.Client
	url      string
	model    string
	cacheTTL time.Duration
	cache    map[string]cacheEntry
	cacheMu  sync.RWMutex
	swept    time.Time
	now      func() time.Time
}

func NewOllama(url string, model string, cacheTTL time.Duration) *Ollama {
	return &Ollama{
		url:      strings.TrimRight(url, "/"),
		model:    model,
		cacheTTL: cacheTTL,
		client:   &http.Client{},
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// generate relies on ctx for its deadline; the client itself has none.
func (o *Ollama) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  o.model,
		"prompt": prompt,
		"stream": false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Response), nil
}

func (o *Ollama) Respond(ctx context.Context, req Request) (string, error) {
	prompt := buildPrompt(req)

	o.cacheMu.RLock()
	cached, ok := o.cache[prompt]
	o.cacheMu.RUnlock()
	if ok && o.now().Sub(cached.createdAt) <= o.cacheTTL {
		return cached.text, nil
	}

	reply, err := o.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", fmt.Errorf("ollama: empty response")
	}
	o.store(prompt, reply)
	return reply, nil
}

// store caches a reply and, at most once per TTL, drops expired entries.
func (o *Ollama) store(prompt, reply string) {
	now := o.now()
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	if now.Sub(o.swept) >= o.cacheTTL {
		for k, e := range o.cache {
			if now.Sub(e.createdAt) > o.cacheTTL {
				delete(o.cache, k)
			}
		}
		o.swept = now
	}
	o.cache[prompt] = cacheEntry{text: reply, createdAt: now}
}

func (o *Ollama) cached() int {
	o.cacheMu.RLock()
	defer o.cacheMu.RUnlock()
	return len(o.cache)
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a helpful customer support assistant. Answer the customer's last message briefly.\n\n")

	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		switch m.Sender {
		case chat.SenderVisitor:
			b.WriteString("Customer: ")
		case chat.SenderResponder:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(m.Body)
		b.WriteByte('\n')
	}
	// The current message is normally the last history entry already.
	if n := len(history); n == 0 || history[n-1].Body != req.Text {
		b.WriteString("Customer: ")
		b.WriteString(req.Text)
		b.WriteByte('\n')
	}
	b.WriteString("Assistant:")
	return b.String()
}
