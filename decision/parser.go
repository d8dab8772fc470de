package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Extraction patterns, tried in order after a direct parse fails.
var (
	reJSONFence      = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	reJSONObject     = regexp.MustCompile(`(?s)\{.*\}`)
	reInvisibleRunes = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

// Parse extracts a Decision from raw model output and validates it.
// The model may wrap the JSON in prose or a fenced code block; only the
// payload is trusted, never executed.
func Parse(raw string) (*Decision, error) {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var wire struct {
		Coin          string    `json:"coin"`
		Signal        string    `json:"signal"`
		QuantityUSD   *float64  `json:"quantity_usd"`
		Leverage      *float64  `json:"leverage"`
		Confidence    *float64  `json:"confidence"`
		ExitPlan      *ExitPlan `json:"exit_plan"`
		Justification string    `json:"justification"`
	}
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("decision JSON malformed: %w\nJSON: %s", err, truncate(payload, 200))
	}

	missing := []string{}
	if wire.Coin == "" {
		missing = append(missing, "coin")
	}
	if wire.Signal == "" {
		missing = append(missing, "signal")
	}
	if wire.QuantityUSD == nil {
		missing = append(missing, "quantity_usd")
	}
	if wire.Leverage == nil {
		missing = append(missing, "leverage")
	}
	if wire.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if wire.ExitPlan == nil {
		missing = append(missing, "exit_plan")
	}
	if wire.Justification == "" {
		missing = append(missing, "justification")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("decision missing required fields: %s", strings.Join(missing, ", "))
	}

	signal, err := ParseSignal(wire.Signal)
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Coin:          strings.ToUpper(strings.TrimSpace(wire.Coin)),
		Signal:        signal,
		QuantityUSD:   *wire.QuantityUSD,
		Leverage:      *wire.Leverage,
		Confidence:    *wire.Confidence,
		ExitPlan:      *wire.ExitPlan,
		Justification: strings.TrimSpace(wire.Justification),
	}

	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// ExtractJSON returns the JSON object payload inside raw model text.
// It tries the whole text, then a fenced code block, then the outermost
// brace run. Extraction is idempotent: feeding a returned payload back
// yields the same payload.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(reInvisibleRunes.ReplaceAllString(raw, ""))
	if s == "" {
		return "", ErrNoJSONFound
	}

	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return s, nil
	}

	if m := reJSONFence.FindStringSubmatch(s); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	if candidate := strings.TrimSpace(reJSONObject.FindString(s)); candidate != "" {
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoJSONFound, truncate(s, 200))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
