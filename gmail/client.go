package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/controlcash/cashmail/auth"
)

const (
	user = "me"

	// searchListCap bounds a single list call. There is no pagination past
	// it: one extraction run stays finite and fast.
	searchListCap = 100
)

// Client finds candidate messages and fetches their full content. Each call
// authenticates with the currently stored token, so a reconnect is picked up
// without rebuilding the client.
type Client struct {
	auth *auth.Manager
	log  *zap.Logger

	// opts are appended to the service options; tests point the client at
	// a local server with option.WithEndpoint.
	opts []option.ClientOption
}

// NewClient returns a Client reading its bearer token from mgr.
func NewClient(mgr *auth.Manager, log *zap.Logger, opts ...option.ClientOption) *Client {
	return &Client{auth: mgr, log: log, opts: opts}
}

func (c *Client) service(ctx context.Context) (*gmailv1.Service, error) {
	tok, err := c.auth.Token()
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})),
	}, c.opts...)
	srv, err := gmailv1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return srv, nil
}

// Search issues one message-search call with the multi-language financial
// query and an age filter of daysBack days, and returns up to searchListCap
// message ids. Zero matches is an empty slice, not an error.
func (c *Client) Search(ctx context.Context, daysBack int) ([]string, error) {
	srv, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	query := BuildQuery(daysBack)
	resp, err := srv.Users.Messages.List(user).
		Q(query).
		MaxResults(searchListCap).
		Context(ctx).
		Do()
	if err != nil {
		return nil, c.classify("list messages", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	c.log.Info("gmail search complete", zap.Int("days_back", daysBack), zap.Int("matches", len(ids)))
	return ids, nil
}

// FetchFull retrieves the complete representation (headers + body) of one
// message. Calls are independent; a failure here is the caller's cue to skip
// this message, not to abort the batch.
func (c *Client) FetchFull(ctx context.Context, id string) (*gmailv1.Message, error) {
	srv, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := srv.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, c.classify(fmt.Sprintf("get message %s", id), err)
	}
	return msg, nil
}

// Probe makes a lightweight profile call to check whether the stored token is
// still accepted. A rejection invalidates the stored state.
func (c *Client) Probe(ctx context.Context) error {
	srv, err := c.service(ctx)
	if err != nil {
		return err
	}
	if _, err := srv.Users.GetProfile(user).Context(ctx).Do(); err != nil {
		return c.classify("get profile", err)
	}
	return nil
}

// classify maps provider errors onto the local taxonomy. A 401 means the
// token is dead for good (the flow grants no refresh token): local state is
// invalidated and the caller gets ErrReconnectRequired.
func (c *Client) classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		c.log.Warn("gmail rejected access token", zap.String("op", op))
		c.auth.Invalidate()
		return fmt.Errorf("%s: %w", op, auth.ErrReconnectRequired)
	}
	return fmt.Errorf("%s: %w", op, err)
}
