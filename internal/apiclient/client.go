// Package apiclient talks to the remote quiz API: fetch, start and submit.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"quiz-attempt-engine/internal/domain"
)

type Config struct {
	BaseURL string
	// Token is sent as a bearer token on every request.
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the oauth2-backed client (tests).
	HTTPClient *http.Client
}

type Client struct {
	base *url.URL
	http *http.Client
	now  func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api base url not configured")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}

	h := cfg.HTTPClient
	if h == nil {
		if cfg.Token != "" {
			h = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: cfg.Token,
				TokenType:   "Bearer",
			}))
		} else {
			h = &http.Client{}
		}
	}
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	return &Client{base: base, http: h, now: time.Now}, nil
}

// FetchQuiz loads the quiz and records the local time the response arrived,
// which is the local half of the clock sync sample.
func (c *Client) FetchQuiz(ctx context.Context, quizID string) (domain.QuizSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("quizzes", quizID), nil)
	if err != nil {
		return domain.QuizSnapshot{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return domain.QuizSnapshot{}, fmt.Errorf("fetch quiz: %w", err)
	}
	fetchedAt := c.now()
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		apiErr := decodeError(res)
		if res.StatusCode == http.StatusNotFound {
			return domain.QuizSnapshot{}, fmt.Errorf("%w: %v", domain.ErrQuizNotFound, apiErr)
		}
		return domain.QuizSnapshot{}, fmt.Errorf("fetch quiz: %w", apiErr)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return domain.QuizSnapshot{}, fmt.Errorf("read quiz: %w", err)
	}
	quiz, serverTime, err := decodeQuizEnvelope(body)
	if err != nil {
		return domain.QuizSnapshot{}, fmt.Errorf("decode quiz: %w", err)
	}
	return domain.QuizSnapshot{Quiz: quiz, ServerTime: serverTime, FetchedAt: fetchedAt}, nil
}

// decodeQuizEnvelope accepts both { quiz, server_time } and the legacy bare
// quiz object. A missing or unreadable server_time yields nil.
func decodeQuizEnvelope(body []byte) (domain.Quiz, *time.Time, error) {
	var envelope struct {
		Quiz       *domain.Quiz    `json:"quiz"`
		ServerTime json.RawMessage `json:"server_time"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.Quiz{}, nil, err
	}

	var quiz domain.Quiz
	if envelope.Quiz != nil {
		quiz = *envelope.Quiz
	} else if err := json.Unmarshal(body, &quiz); err != nil {
		return domain.Quiz{}, nil, err
	}
	if quiz.ID == "" {
		return domain.Quiz{}, nil, errors.New("quiz payload has no id")
	}
	return quiz, parseServerTime(envelope.ServerTime), nil
}

// parseServerTime reads an RFC 3339 string or epoch milliseconds.
func parseServerTime(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			log.Printf("ignoring unreadable server_time %q: %v", s, err)
			return nil
		}
		return &t
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		log.Printf("ignoring unreadable server_time %s", raw)
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// StartAttempt creates the attempt or returns the existing one. A 409
// carrying the attempt is a resume, not an error.
func (c *Client) StartAttempt(ctx context.Context, quizID string) (domain.Attempt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("quizzes", quizID, "start"), nil)
	if err != nil {
		return domain.Attempt{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("start attempt: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 && res.StatusCode != http.StatusConflict {
		return domain.Attempt{}, fmt.Errorf("start attempt: %w", decodeError(res))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("read attempt: %w", err)
	}
	attempt, err := decodeAttempt(body)
	if err != nil {
		if res.StatusCode == http.StatusConflict {
			return domain.Attempt{}, fmt.Errorf("start attempt: %w", &domain.APIError{StatusCode: res.StatusCode, Message: messageFrom(body)})
		}
		return domain.Attempt{}, fmt.Errorf("decode attempt: %w", err)
	}
	if attempt.QuizID == "" {
		attempt.QuizID = quizID
	}
	return attempt, nil
}

func decodeAttempt(body []byte) (domain.Attempt, error) {
	var wrapped struct {
		Attempt *domain.Attempt `json:"attempt"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return domain.Attempt{}, err
	}
	if wrapped.Attempt != nil {
		return *wrapped.Attempt, nil
	}
	var attempt domain.Attempt
	if err := json.Unmarshal(body, &attempt); err != nil {
		return domain.Attempt{}, err
	}
	if attempt.ID == "" {
		return domain.Attempt{}, errors.New("attempt payload has no id")
	}
	return attempt, nil
}

// Submit posts the frozen answers (and optional file) as multipart form data.
func (c *Client) Submit(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error) {
	body, contentType, err := encodeSubmission(sub)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("quizzes", sub.QuizID, "submit"), body)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if sub.AttemptID != "" {
		req.Header.Set("Idempotency-Key", sub.AttemptID)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("submit attempt: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return domain.SubmissionResult{}, decodeError(res)
	}
	var result domain.SubmissionResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("decode submit result: %w", err)
	}
	return result, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeSubmission(sub domain.Submission) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for i, id := range answerOrder(sub) {
		if err := w.WriteField(fmt.Sprintf("answers[%d][question_id]", i), id); err != nil {
			return nil, "", err
		}
		if err := w.WriteField(fmt.Sprintf("answers[%d][user_answer]", i), sub.Answers[id]); err != nil {
			return nil, "", err
		}
	}

	if att := sub.Attachment; att != nil {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachment"; filename="%s"`, quoteEscaper.Replace(att.Filename)))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(att.Content); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// answerOrder follows the quiz question order, then any remaining ids sorted.
func answerOrder(sub domain.Submission) []string {
	ids := make([]string, 0, len(sub.Answers))
	seen := make(map[string]bool, len(sub.Answers))
	for _, q := range sub.Questions {
		if _, ok := sub.Answers[q.ID]; ok {
			ids = append(ids, q.ID)
			seen[q.ID] = true
		}
	}
	var rest []string
	for id := range sub.Answers {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

func decodeError(res *http.Response) *domain.APIError {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	return &domain.APIError{StatusCode: res.StatusCode, Message: messageFrom(body)}
}

func messageFrom(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) endpoint(elem ...string) string {
	return c.base.JoinPath(elem...).String()
}
