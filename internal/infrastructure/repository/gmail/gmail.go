package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/huavcjj/threadsync/internal/domain/mail"
)

const user = "me"

type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

type Config struct {
	// Endpoint overrides the API base URL, e.g. for a proxy or a test server.
	Endpoint   string
	HTTPClient *http.Client
	Breaker    BreakerConfig
}

type gmailRepo struct {
	endpoint string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
}

var _ mail.MailRepo = (*gmailRepo)(nil)

func NewGmailRepo(cfg Config) mail.MailRepo {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &gmailRepo{
		endpoint: cfg.Endpoint,
		client:   client,
		cb:       newBreaker(cfg.Breaker),
	}
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// countsAsSuccess keeps caller-side problems (bad token, missing ids,
// cancelled requests) from opening the breaker.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return false
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}

// getServiceWithToken creates a Gmail service authorised with the caller's bearer token.
func (r *gmailRepo) getServiceWithToken(ctx context.Context, token string) (*gmail.Service, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("empty access token: %w", mail.ErrAuthExpired)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if r.endpoint != "" {
		opts = append(opts, option.WithEndpoint(r.endpoint))
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create gmail service: %w", err)
	}
	return srv, nil
}

func (r *gmailRepo) execute(op string, fn func() error) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	return mapError(op, err)
}

func mapError(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %v", op, mail.ErrProviderUnavailable, err)
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %s", op, mail.ErrAuthExpired, apiErr.Message)
	case apiErr.Code == http.StatusTooManyRequests, apiErr.Code == http.StatusForbidden && isRateLimit(apiErr):
		return &mail.RateLimitError{
			RetryAfter: retryAfter(apiErr.Header, time.Now()),
			Err:        fmt.Errorf("%s: %w", op, err),
		}
	case apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, mail.ErrNotFound, apiErr.Message)
	case apiErr.Code == http.StatusBadRequest:
		return &mail.BadRequestError{Reason: fmt.Sprintf("%s: %s", op, apiErr.Message)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isRateLimit(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}

// retryAfter reads a Retry-After header given as seconds or an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now).Round(time.Second)
	}
	return 0
}

func (r *gmailRepo) ListThreads(ctx context.Context, token, query string, pageSize int64, pageToken string) (*mail.ThreadPage, error) {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return nil, err
	}

	call := service.Users.Threads.List(user).MaxResults(pageSize).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	var resp *gmail.ListThreadsResponse
	if err := r.execute("list threads", func() error {
		var apiErr error
		resp, apiErr = call.Do()
		return apiErr
	}); err != nil {
		return nil, err
	}

	page := &mail.ThreadPage{
		ThreadIDs:     make([]string, 0, len(resp.Threads)),
		NextPageToken: resp.NextPageToken,
	}
	for _, t := range resp.Threads {
		if t != nil && t.Id != "" {
			page.ThreadIDs = append(page.ThreadIDs, t.Id)
		}
	}
	return page, nil
}

func (r *gmailRepo) GetThread(ctx context.Context, token, threadID string) ([]*mail.RawMessage, error) {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var t *gmail.Thread
	if err := r.execute("get thread", func() error {
		var apiErr error
		t, apiErr = service.Users.Threads.Get(user, threadID).Format("full").Context(ctx).Do()
		return apiErr
	}); err != nil {
		return nil, err
	}

	messages := make([]*mail.RawMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m != nil {
			messages = append(messages, toRawMessage(m))
		}
	}
	return messages, nil
}

func (r *gmailRepo) GetAttachment(ctx context.Context, token, messageID, attachmentID string) ([]byte, error) {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var body *gmail.MessagePartBody
	if err := r.execute("get attachment", func() error {
		var apiErr error
		body, apiErr = service.Users.Messages.Attachments.Get(user, messageID, attachmentID).Context(ctx).Do()
		return apiErr
	}); err != nil {
		return nil, err
	}

	data, err := decodeURLBase64(body.Data)
	if err != nil {
		return nil, &mail.AttachmentError{Filename: attachmentID, Err: err}
	}
	return data, nil
}

func decodeURLBase64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func (r *gmailRepo) SendRaw(ctx context.Context, token, raw, threadID string) (*mail.SendResult, error) {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var sent *gmail.Message
	if err := r.execute("send message", func() error {
		var apiErr error
		sent, apiErr = service.Users.Messages.Send(user, &gmail.Message{Raw: raw, ThreadId: threadID}).Context(ctx).Do()
		return apiErr
	}); err != nil {
		return nil, err
	}
	return &mail.SendResult{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

func (r *gmailRepo) ModifyMessageLabels(ctx context.Context, token, messageID string, add, remove []string) error {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
	return r.execute("modify message labels", func() error {
		_, apiErr := service.Users.Messages.Modify(user, messageID, req).Context(ctx).Do()
		return apiErr
	})
}

func (r *gmailRepo) ModifyThreadLabels(ctx context.Context, token, threadID string, add, remove []string) error {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return err
	}
	req := &gmail.ModifyThreadRequest{AddLabelIds: add, RemoveLabelIds: remove}
	return r.execute("modify thread labels", func() error {
		_, apiErr := service.Users.Threads.Modify(user, threadID, req).Context(ctx).Do()
		return apiErr
	})
}

func (r *gmailRepo) TrashMessage(ctx context.Context, token, messageID string) error {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return err
	}
	return r.execute("trash message", func() error {
		_, apiErr := service.Users.Messages.Trash(user, messageID).Context(ctx).Do()
		return apiErr
	})
}

func (r *gmailRepo) TrashThread(ctx context.Context, token, threadID string) error {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return err
	}
	return r.execute("trash thread", func() error {
		_, apiErr := service.Users.Threads.Trash(user, threadID).Context(ctx).Do()
		return apiErr
	})
}

func (r *gmailRepo) DeleteMessage(ctx context.Context, token, messageID string) error {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return err
	}
	return r.execute("delete message", func() error {
		return service.Users.Messages.Delete(user, messageID).Context(ctx).Do()
	})
}

func (r *gmailRepo) DeleteThread(ctx context.Context, token, threadID string) error {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return err
	}
	return r.execute("delete thread", func() error {
		return service.Users.Threads.Delete(user, threadID).Context(ctx).Do()
	})
}

func (r *gmailRepo) GetProfileAddress(ctx context.Context, token string) (string, error) {
	service, err := r.getServiceWithToken(ctx, token)
	if err != nil {
		return "", err
	}

	var profile *gmail.Profile
	if err := r.execute("get profile", func() error {
		var apiErr error
		profile, apiErr = service.Users.GetProfile(user).Context(ctx).Do()
		return apiErr
	}); err != nil {
		return "", err
	}
	return profile.EmailAddress, nil
}
