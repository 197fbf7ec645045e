// Package oracle calls the external text-generation service that arbitrates
// Wizard Battle rounds. The wire contract: the oracle receives the round
// roster, secret groupings and free-text spells, and must answer with a
// strict JSON object keyed by connection id. Anything else is a hard failure.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultResponsesURL = "https://api.openai.com/v1/responses"
	defaultTimeout      = 4 * time.Second // keep a full round under 5s
	maxOutputTokens     = 1024
)

// ErrMissingAPIKey indicates no credential was configured for the oracle.
var ErrMissingAPIKey = errors.New("missing OPENAI_API_KEY")

// PlayerRef is the minimal roster entry exposed to the oracle.
type PlayerRef struct {
	Name string `json:"name"`
}

// Submission is one player's spell text with its submission timestamp.
type Submission struct {
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// Request describes one round to arbitrate.
type Request struct {
	Round       int                   `json:"round"`
	Players     map[string]PlayerRef  `json:"players"`
	Groups      [][]string            `json:"groups"`
	Submissions map[string]Submission `json:"submissions"`
}

// PlayerResult is the oracle's verdict for one player.
type PlayerResult struct {
	Inflicted string `json:"inflicted"`
	Suffered  string `json:"suffered"`
	DiceMod   int    `json:"diceMod"`
	HPDelta   int    `json:"hpDelta"`
	Narrative string `json:"narrative"`
}

const systemPrompt = `Tu es un arbitre impartial d'un duel de sorcellerie. On te donne des sorts (texte libre) envoyés par des joueurs, regroupés par binômes/trinômes secrets. Règles: si un sort est incohérent/surpuissant, annule-le. Tiens compte de la cohérence univers, originalité, vitesse, et interactions élémentaires (feu vs glace etc.). Pour CHAQUE joueur, fournis un JSON strict décrivant: { inflicted: string, suffered: string, diceMod: integer (bonus = nombre négatif, malus = positif), hpDelta: integer (soin positif, dégâts négatif), narrative: string }. Réponds UNIQUEMENT en JSON objet map { <socketId>: {...} } sans texte additionnel.`

// Config configures the oracle endpoint and HTTP behavior.
type Config struct {
	APIKey       string
	Model        string
	ResponsesURL string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client invokes the OpenAI responses endpoint.
type Client struct {
	cfg Config
}

// New builds an oracle client, filling in endpoint and timeout defaults.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = defaultResponsesURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesBody struct {
	Model           string    `json:"model"`
	Input           []message `json:"input"`
	MaxOutputTokens int       `json:"max_output_tokens"`
}

type responsesReply struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// Arbitrate sends one round to the oracle and parses its per-player verdict.
// The call is bounded by the configured timeout.
func (c *Client) Arbitrate(ctx context.Context, req Request) (map[string]PlayerResult, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal arbitration request: %w", err)
	}

	body, err := json.Marshal(responsesBody{
		Model: c.cfg.Model,
		Input: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(input)},
		},
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal responses body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ResponsesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build oracle request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oracle call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read oracle reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oracle error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var reply responsesReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode oracle reply: %w", err)
	}
	text := reply.OutputText
	if text == "" && len(reply.Output) > 0 && len(reply.Output[0].Content) > 0 {
		text = reply.Output[0].Content[0].Text
	}

	var results map[string]PlayerResult
	if err := json.Unmarshal([]byte(text), &results); err != nil {
		return nil, errors.New("oracle JSON parse error")
	}
	return results, nil
}
