package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlasfin/atlas/internal/adapter/broker"
	"github.com/atlasfin/atlas/internal/adapter/llm"
	"github.com/atlasfin/atlas/internal/config"
	"github.com/atlasfin/atlas/internal/domain"
	"github.com/atlasfin/atlas/internal/tools"
	"github.com/atlasfin/atlas/policy"
)

// ErrToolLoopLimit is returned when a single user turn exceeds the bounded
// number of tool-execution rounds.
var ErrToolLoopLimit = errors.New("maximum tool rounds exceeded")

// BacktestToolName is the tool name that routes to the dispatcher instead of
// a synchronous broker call.
const BacktestToolName = "backtest"

var toolBlockPattern = regexp.MustCompile("(?s)```atlas_tool\\s*(\\{.*?\\})\\s*```")

// Chat runs the tool-calling conversation loop. Turns within one session are
// processed one at a time; tool rounds inside a turn are sequential, so side
// effects happen in the order the model emitted them.
type Chat struct {
	registry   *tools.Registry
	broker     broker.Broker
	llm        llm.ChatClient
	policy     *policy.Engine
	dispatcher *Dispatcher
	cfg        *config.Config

	mu       sync.Mutex
	sessions map[string]*chatSession
}

type chatSession struct {
	id string

	mu      sync.Mutex
	history []llm.ChatMessage // model-visible context, including the system prompt
	log     []domain.Message  // append-only record surfaced over the API
	pending []<-chan domain.JobUpdate
	seen    map[string]int64 // job id -> highest seq consumed
}

// append adds a message to both the model context and the session log.
func (s *chatSession) append(msg llm.ChatMessage) {
	s.history = append(s.history, msg)
	s.log = append(s.log, domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		SessionID: s.id,
		Role:      domain.Role(msg.Role),
		Content:   msg.Content,
		ToolName:  msg.Name,
		CreatedAt: time.Now(),
	})
}

// NewChat creates the conversation loop service.
func NewChat(registry *tools.Registry, b broker.Broker, chatClient llm.ChatClient, policyEngine *policy.Engine, dispatcher *Dispatcher, cfg *config.Config) *Chat {
	return &Chat{
		registry:   registry,
		broker:     b,
		llm:        chatClient,
		policy:     policyEngine,
		dispatcher: dispatcher,
		cfg:        cfg,
		sessions:   make(map[string]*chatSession),
	}
}

func (c *Chat) session(id string) *chatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		sess = &chatSession{
			id:      id,
			history: []llm.ChatMessage{{Role: "system", Content: c.systemPrompt()}},
			seen:    make(map[string]int64),
		}
		c.sessions[id] = sess
	}
	return sess
}

// History returns a copy of the session's message log. The system prompt is
// model context, not conversation, so it is excluded.
func (c *Chat) History(sessionID string) []domain.Message {
	sess := c.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]domain.Message, len(sess.log))
	copy(out, sess.log)
	return out
}

// ProcessTurn handles one user turn: it appends the input, drains any
// finished background jobs into the history, then runs the model/tool cycle
// until the model emits a reply with no directives or the round bound trips.
func (c *Chat) ProcessTurn(ctx context.Context, sessionID, userInput string) (string, error) {
	sess := c.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	c.drainJobUpdates(sess)
	sess.append(llm.ChatMessage{Role: "user", Content: userInput})

	specs := c.toolSpecs()
	for round := 0; round < c.cfg.MaxToolRounds; round++ {
		reply, err := c.llm.Chat(ctx, sess.history, specs)
		if err != nil {
			return "", fmt.Errorf("model call failed: %w", err)
		}
		sess.append(reply)

		directives, parseErrors := parseDirectives(reply.Content)
		for _, msg := range parseErrors {
			sess.append(llm.ChatMessage{
				Role:    "tool",
				Content: tools.ErrorPayload("", msg),
			})
		}
		if len(directives) == 0 && len(parseErrors) == 0 {
			return stripToolBlocks(reply.Content), nil
		}

		for _, dir := range directives {
			c.executeDirective(ctx, sess, dir)
		}
	}
	return "", ErrToolLoopLimit
}

// executeDirective runs one directive and appends its tool-role outcome.
// Failures never abort the turn; they are recorded and fed back to the model.
func (c *Chat) executeDirective(ctx context.Context, sess *chatSession, dir domain.ToolDirective) {
	if dir.Tool == BacktestToolName {
		c.submitBacktest(ctx, sess, dir)
		return
	}

	if !c.registry.Has(dir.Tool) {
		sess.append(llm.ChatMessage{
			Role:    "tool",
			Name:    dir.Tool,
			Content: tools.ErrorPayload(dir.Tool, fmt.Sprintf("unknown tool %q", dir.Tool)),
		})
		return
	}

	if tools.TradeAlteringTools[dir.Tool] && c.policy != nil {
		var args map[string]any
		_ = json.Unmarshal(dir.Args, &args)
		decision, reason, err := c.policy.Evaluate(ctx, map[string]any{
			"tool_name":  dir.Tool,
			"args":       args,
			"session_id": sess.id,
		})
		if err != nil {
			log.Printf("ERROR: policy evaluation failed: %v", err)
		} else if decision == "block" {
			msg := "blocked by trading policy"
			if reason != "" {
				msg += ": " + reason
			}
			sess.append(llm.ChatMessage{
				Role:    "tool",
				Name:    dir.Tool,
				Content: tools.ErrorPayload(dir.Tool, msg),
			})
			return
		}
	}

	result, err := c.registry.Invoke(ctx, dir.Tool, dir.Args, c.broker)
	if err != nil {
		sess.append(llm.ChatMessage{
			Role:    "tool",
			Name:    dir.Tool,
			Content: tools.ErrorPayload(dir.Tool, err.Error()),
		})
		return
	}
	sess.append(llm.ChatMessage{
		Role:    "tool",
		Name:    dir.Tool,
		Content: result.Payload(),
	})
}

func (c *Chat) submitBacktest(ctx context.Context, sess *chatSession, dir domain.ToolDirective) {
	var req domain.JobRequest
	if err := json.Unmarshal(dir.Args, &req); err != nil {
		sess.append(llm.ChatMessage{
			Role:    "tool",
			Name:    BacktestToolName,
			Content: tools.ErrorPayload(BacktestToolName, "invalid backtest arguments: "+err.Error()),
		})
		return
	}

	job, err := c.dispatcher.Submit(ctx, req)
	if err != nil {
		sess.append(llm.ChatMessage{
			Role:    "tool",
			Name:    BacktestToolName,
			Content: tools.ErrorPayload(BacktestToolName, err.Error()),
		})
		return
	}

	sess.pending = append(sess.pending, c.dispatcher.Subscribe(job.JobID))
	ack := tools.Result{
		Tool:    BacktestToolName,
		Success: true,
		Message: fmt.Sprintf("Backtest %s queued; results will be reported when it finishes", job.JobID),
		Data:    map[string]string{"job_id": job.JobID},
	}
	sess.append(llm.ChatMessage{
		Role:    "tool",
		Name:    BacktestToolName,
		Content: ack.Payload(),
	})
}

// drainJobUpdates injects terminal envelopes from subscribed jobs as
// tool-role messages. Duplicate deliveries are dropped by sequence number.
func (c *Chat) drainJobUpdates(sess *chatSession) {
	var remaining []<-chan domain.JobUpdate
	for _, ch := range sess.pending {
		open := true
		for open {
			var update domain.JobUpdate
			select {
			case update, open = <-ch:
				if !open {
					break
				}
				// Seq 0 means the event log write failed; such updates are
				// delivered exactly once live and never deduplicated away.
				if update.Seq > 0 {
					if update.Seq <= sess.seen[update.JobID] {
						continue
					}
					sess.seen[update.JobID] = update.Seq
				}
				if !update.Status.Terminal() || update.Envelope == nil {
					continue
				}
				payload, err := json.Marshal(update.Envelope)
				if err != nil {
					continue
				}
				sess.append(llm.ChatMessage{
					Role:    "tool",
					Name:    BacktestToolName,
					Content: string(payload),
				})
			default:
				open = false
				remaining = append(remaining, ch)
			}
		}
	}
	sess.pending = remaining
}

func (c *Chat) toolSpecs() []llm.ToolSpec {
	specs := c.registry.Specs()
	specs = append(specs, llm.ToolSpec{
		Name:        BacktestToolName,
		Description: "Run a strategy backtest in an isolated sandbox; results arrive asynchronously",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"strategy":  map[string]any{"type": "string"},
				"symbols":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"timeframe": map[string]any{"type": "string"},
				"from":      map[string]any{"type": "string"},
				"to":        map[string]any{"type": "string"},
				"notes":     map[string]any{"type": "string"},
				"persist":   map[string]any{"type": "boolean"},
			},
			"required": []string{"strategy", "symbols", "timeframe", "from", "to"},
		},
	})
	return specs
}

func (c *Chat) systemPrompt() string {
	var summary []string
	for _, spec := range c.toolSpecs() {
		summary = append(summary, fmt.Sprintf("- %s: %s", spec.Name, spec.Description))
	}
	return strings.Join([]string{
		"You are Atlas, a trading assistant with access to brokerage tools and a backtesting sandbox.",
		"",
		"Use tools only when broker data or actions are explicitly needed.",
		"If the user is greeting or chatting, reply naturally without calling a tool.",
		"When you invoke a tool, respond with JSON inside a fenced block tagged `atlas_tool`.",
		"Example:",
		"```atlas_tool",
		`{"tool": "quote", "args": {"symbol": "AAPL"}}`,
		"```",
		"After the tool response is provided, explain the result in plain language.",
		"Confirm with the user before executing trade-altering tools like buy, sell, or cancel.",
		"Tools:",
		strings.Join(summary, "\n"),
	}, "\n")
}

// parseDirectives extracts tool-call directives from fenced atlas_tool
// blocks, in the order they appear. Malformed JSON inside a recognized block
// is reported as a parse failure, not silently dropped.
func parseDirectives(content string) ([]domain.ToolDirective, []string) {
	var directives []domain.ToolDirective
	var parseErrors []string
	for _, match := range toolBlockPattern.FindAllStringSubmatch(content, -1) {
		var dir domain.ToolDirective
		if err := json.Unmarshal([]byte(match[1]), &dir); err != nil || dir.Tool == "" {
			parseErrors = append(parseErrors, "malformed tool directive: "+strings.TrimSpace(match[1]))
			continue
		}
		directives = append(directives, dir)
	}
	return directives, parseErrors
}

func stripToolBlocks(content string) string {
	return strings.TrimSpace(toolBlockPattern.ReplaceAllString(content, ""))
}
