package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"milhao-quiz-service/internal/domain"
	"milhao-quiz-service/internal/game"
	transport "milhao-quiz-service/internal/transport/http"
)

// Client talks to the game server on behalf of one user.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

var _ game.API = (*Client)(nil)

func New(baseURL, userID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient swaps the underlying client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) StartGame(ctx context.Context, params domain.StartParams) (domain.Game, error) {
	var g domain.Game
	err := c.do(ctx, http.MethodPost, "/api/games", params, &g)
	return g, err
}

func (c *Client) CurrentQuestion(ctx context.Context, gameID string) (domain.QuestionView, error) {
	var v domain.QuestionView
	err := c.do(ctx, http.MethodGet, gamePath(gameID, "question"), nil, &v)
	return v, err
}

func (c *Client) SubmitAnswer(ctx context.Context, gameID, optionID string, elapsedSeconds int) (domain.AnswerResult, error) {
	var res domain.AnswerResult
	body := transport.AnswerRequest{OptionID: optionID, TimeSeconds: elapsedSeconds}
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "answer"), body, &res)
	return res, err
}

func (c *Client) UseHint(ctx context.Context, gameID string) (domain.HintResult, error) {
	var res domain.HintResult
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "hint"), nil, &res)
	return res, err
}

func (c *Client) UseCrowd(ctx context.Context, gameID string) ([]domain.CrowdAnswer, error) {
	var res []domain.CrowdAnswer
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "crowd"), nil, &res)
	return res, err
}

func (c *Client) UseSkip(ctx context.Context, gameID string) (domain.SkipResult, error) {
	var res domain.SkipResult
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "skip"), nil, &res)
	return res, err
}

func (c *Client) StopGame(ctx context.Context, gameID string) (domain.StopResult, error) {
	var res domain.StopResult
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "stop"), nil, &res)
	return res, err
}

func (c *Client) EnterSuddenDeath(ctx context.Context, gameID string) (domain.Game, error) {
	var g domain.Game
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "sudden-death"), nil, &g)
	return g, err
}

// Stats is not part of the session contract but the play command shows it at the end.
func (c *Client) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &st)
	return st, err
}

// AllTimeRanking fetches the lifetime board.
func (c *Client) AllTimeRanking(ctx context.Context, limit int) ([]domain.AllTimeEntry, error) {
	path := "/api/ranking/all-time"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var rows []domain.AllTimeEntry
	err := c.do(ctx, http.MethodGet, path, nil, &rows)
	return rows, err
}

func gamePath(gameID, action string) string {
	return "/api/games/" + url.PathEscape(gameID) + "/" + action
}

// do sends one request. Error bodies carrying a known code come back as the
// matching domain sentinel so callers can use errors.Is across the wire.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(transport.UserHeader, c.userID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb transport.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
			return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		if sentinel := domain.ErrorForCode(eb.Error.Code); sentinel != nil {
			if eb.Error.Message == "" || eb.Error.Message == sentinel.Error() {
				return sentinel
			}
			return fmt.Errorf("%w: %s", sentinel, strings.TrimPrefix(eb.Error.Message, sentinel.Error()+": "))
		}
		return fmt.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, eb.Error.Code, eb.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
