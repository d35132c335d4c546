package mfasdk

import (
	"context"
	"net/http"
	"net/url"
)

// ListAuthenticators returns the signed-in user's authenticators.
func (c *Client) ListAuthenticators(ctx context.Context) (*IndexResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, PathIndex, nil, nil)
	if err != nil {
		return nil, err
	}

	var out IndexResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReauthenticateForms starts a step-up for the current session.
func (c *Client) ReauthenticateForms(ctx context.Context) (*FormsResponse, error) {
	return c.getForms(ctx, PathReauthenticate)
}

func (c *Client) ReauthenticateCode(ctx context.Context, code string) (*ReauthenticateResponse, error) {
	return c.Reauthenticate(ctx, url.Values{FieldCode: {code}})
}

func (c *Client) ReauthenticateCredential(ctx context.Context, credential []byte) (*ReauthenticateResponse, error) {
	return c.Reauthenticate(ctx, url.Values{FieldCredential: {string(credential)}})
}

// Reauthenticate posts raw form fields to the step-up endpoint.
func (c *Client) Reauthenticate(ctx context.Context, fields url.Values) (*ReauthenticateResponse, error) {
	resp, err := c.postForm(ctx, PathReauthenticate, fields)
	if err != nil {
		return nil, err
	}

	var out ReauthenticateResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
