package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"callhub-backend/internal/domain"
	"callhub-backend/pkg/constants"
)

// HTTPClient talks to the messaging substrate's internal API on behalf
// of one user. The substrate owns contacts, groups, and conversations;
// the call service only reads the directory and drops call markers.
type HTTPClient struct {
	baseURL string
	token   string
	self    string
	httpc   *http.Client
}

// NewHTTPClient creates a substrate client scoped to one user. token is
// the service-to-service credential, not the user's.
func NewHTTPClient(baseURL, token, self string, httpc *http.Client) *HTTPClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: constants.DefaultTimeout}
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		self:    self,
		httpc:   httpc,
	}
}

// Self returns the local user's address.
func (c *HTTPClient) Self() string {
	return c.self
}

type wireFriend struct {
	Address      string `json:"address"`
	Username     string `json:"username"`
	Nickname     string `json:"nickname"`
	AvatarObject string `json:"avatar_object"`
}

// Friends lists the user's contacts.
func (c *HTTPClient) Friends(ctx context.Context) ([]*domain.Friend, error) {
	var payload struct {
		Friends []wireFriend `json:"friends"`
	}
	if err := c.get(ctx, fmt.Sprintf("/internal/users/%s/friends", url.PathEscape(c.self)), &payload); err != nil {
		return nil, err
	}

	friends := make([]*domain.Friend, len(payload.Friends))
	for i, f := range payload.Friends {
		friends[i] = &domain.Friend{
			Address:      f.Address,
			Username:     f.Username,
			Nickname:     f.Nickname,
			AvatarObject: f.AvatarObject,
		}
	}
	return friends, nil
}

// Groups lists the groups the user belongs to.
func (c *HTTPClient) Groups(ctx context.Context) ([]*domain.Group, error) {
	var payload struct {
		Groups []*domain.Group `json:"groups"`
	}
	if err := c.get(ctx, fmt.Sprintf("/internal/users/%s/groups", url.PathEscape(c.self)), &payload); err != nil {
		return nil, err
	}
	return payload.Groups, nil
}

// GroupMembers lists the addresses of a group's members.
func (c *HTTPClient) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var payload struct {
		Members []string `json:"members"`
	}
	if err := c.get(ctx, fmt.Sprintf("/internal/groups/%s/members", url.PathEscape(groupID)), &payload); err != nil {
		return nil, err
	}
	return payload.Members, nil
}

// SendMessage sends a text message to a contact.
func (c *HTTPClient) SendMessage(ctx context.Context, address, text string) error {
	body := map[string]string{"to": address, "text": text}
	return c.post(ctx, fmt.Sprintf("/internal/users/%s/messages", url.PathEscape(c.self)), body, nil)
}

// SendGroupMessage sends a text message to a group.
func (c *HTTPClient) SendGroupMessage(ctx context.Context, groupID, text string) error {
	body := map[string]string{"from": c.self, "text": text}
	return c.post(ctx, fmt.Sprintf("/internal/groups/%s/messages", url.PathEscape(groupID)), body, nil)
}

// CreateGroup creates a group with the given members and returns its id.
func (c *HTTPClient) CreateGroup(ctx context.Context, name string, members []string) (string, error) {
	body := map[string]any{"name": name, "owner": c.self, "members": members}
	var payload struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/internal/groups", body, &payload); err != nil {
		return "", err
	}
	return payload.ID, nil
}

// MarkRead marks a conversation read up to now.
func (c *HTTPClient) MarkRead(ctx context.Context, conversationID string) error {
	body := map[string]string{"address": c.self}
	return c.post(ctx, fmt.Sprintf("/internal/conversations/%s/read", url.PathEscape(conversationID)), body, nil)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return Classify(err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return Classify(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Classify(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The substrate reports conditions in the body text; Classify
		// turns the recognized ones into typed kinds.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Classify(fmt.Errorf("substrate %s %s: %d %s",
			req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Classify(fmt.Errorf("substrate response decode failed: %w", err))
	}
	return nil
}
