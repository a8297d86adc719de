package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"arbor/agent"
	"arbor/experiments/metrics"
	"arbor/game"
	"arbor/game/isolation"

	"github.com/rs/zerolog/log"
)

// Client talks to a Server over its JSON API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient uses http.DefaultClient when httpClient is nil.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) NewSession(ctx context.Context) (string, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, &resp); err != nil {
		return "", err
	}
	return resp.Session, nil
}

func (c *Client) DeleteSession(ctx context.Context, session string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sessions/"+session, nil, nil)
}

func (c *Client) Decide(ctx context.Context, session string, board *isolation.Board, budget *Budget) (DecideResponse, error) {
	var resp DecideResponse
	req := DecideRequest{Session: session, Board: board.Snapshot(), Budget: budget}
	if err := c.do(ctx, http.MethodPost, "/v1/decide", req, &resp); err != nil {
		return DecideResponse{}, err
	}
	return resp, nil
}

func (c *Client) Observe(ctx context.Context, session string, action game.Action) error {
	return c.do(ctx, http.MethodPost, "/v1/observe", ObserveRequest{Session: session, Action: action}, nil)
}

func (c *Client) Reset(ctx context.Context, session string) error {
	return c.do(ctx, http.MethodPost, "/v1/reset", SessionRequest{Session: session}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
		}
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type remoteAgent struct {
	client  *Client
	session string
	budget  *Budget
}

// NewRemoteAgent opens a session on the server behind client and plays
// Isolation through it. A nil budget uses the server's default.
func NewRemoteAgent(ctx context.Context, client *Client, budget *Budget) (agent.Agent, error) {
	session, err := client.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &remoteAgent{client: client, session: session, budget: budget}, nil
}

func (a *remoteAgent) FindMove(ctx context.Context, state game.State) (agent.Decision, error) {
	board, ok := state.(*isolation.Board)
	if !ok {
		return agent.Decision{Action: game.NoAction}, fmt.Errorf("remote agent plays isolation boards, got %T", state)
	}
	resp, err := a.client.Decide(ctx, a.session, board, a.budget)
	if err != nil {
		return agent.Decision{Action: game.NoAction}, err
	}
	return agent.Decision{
		Action:   resp.Action,
		Policy:   resp.Policy,
		Value:    resp.Value,
		Fallback: resp.Fallback,
		GameOver: resp.GameOver,
		Metric:   metrics.SearchMetric{Simulations: resp.Simulations},
	}, nil
}

func (a *remoteAgent) Observe(action game.Action) {
	if err := a.client.Observe(context.Background(), a.session, action); err != nil {
		log.Error().Err(err).Msgf("failed to send observed move %d to session %s", action, a.session)
	}
}
