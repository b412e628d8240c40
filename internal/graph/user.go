package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type userResponse struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Me returns the signed-in user. Personal accounts often have no mail
// address, in which case the principal name is used.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/me")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ur userResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("graph: decoding user response: %w", err)
	}

	email := ur.Mail
	if email == "" {
		email = ur.UserPrincipalName
	}

	return &User{ID: ur.ID, DisplayName: ur.DisplayName, Email: email}, nil
}
