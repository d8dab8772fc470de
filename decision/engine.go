package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"perp-agent/ai"
	"perp-agent/logger"
)

// ErrModelUnavailable marks transport-level model failures, as opposed
// to a reply that arrived but could not be parsed into a decision.
var ErrModelUnavailable = errors.New("model call failed")

// Engine turns one cycle's context into a validated decision.
type Engine struct {
	client ai.Client
	log    zerolog.Logger
}

// NewEngine creates a decision engine backed by the given model client.
func NewEngine(client ai.Client) *Engine {
	return &Engine{
		client: client,
		log:    logger.Component("decision"),
	}
}

// MakeDecision builds both prompts, queries the model, parses the reply,
// and enforces per-coin leverage caps from the context. The returned
// Decision carries the prompts and raw response so the caller can
// persist them alongside the execution outcome.
func (e *Engine) MakeDecision(ctx context.Context, pb *PromptBuilder, pctx *Context) (*Decision, error) {
	systemPrompt := pb.BuildSystemPrompt()
	userPrompt := pb.BuildUserPrompt(pctx)

	e.log.Info().
		Str("model", e.client.Model()).
		Str("preset", pb.Preset().Key).
		Int("prompt_chars", len(systemPrompt)+len(userPrompt)).
		Msg("requesting decision")

	start := time.Now()
	raw, err := e.client.Message(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	e.log.Info().
		Dur("elapsed", time.Since(start)).
		Int("response_chars", len(raw)).
		Msg("model responded")

	d, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := CheckLeverageCap(d, pctx.LeverageLimits); err != nil {
		return nil, err
	}

	d.RawResponse = raw
	d.SystemPrompt = systemPrompt
	d.UserPrompt = userPrompt

	e.log.Info().
		Str("coin", d.Coin).
		Str("signal", string(d.Signal)).
		Float64("confidence", d.Confidence).
		Msg(Summary(d))

	return d, nil
}

// Summary renders a one-line description of a decision for status rows
// and logs.
func Summary(d *Decision) string {
	switch d.Signal {
	case SignalBuyToEnter:
		return fmt.Sprintf("LONG %s $%.0f @%gx", d.Coin, d.QuantityUSD, d.Leverage)
	case SignalSellToEnter:
		return fmt.Sprintf("SHORT %s $%.0f @%gx", d.Coin, d.QuantityUSD, d.Leverage)
	case SignalClose:
		return fmt.Sprintf("CLOSE %s", d.Coin)
	default:
		return fmt.Sprintf("HOLD %s", d.Coin)
	}
}
