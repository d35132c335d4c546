package mfasdk

import (
	"context"
	"net/http"
	"net/url"
)

// Login submits primary credentials. next is the local path to return to
// once authenticated and may be empty.
func (c *Client) Login(ctx context.Context, username, password, next string) (*LoginResponse, error) {
	fields := url.Values{
		"username": {username},
		"password": {password},
	}
	if next != "" {
		fields.Set("next", next)
	}

	resp, err := c.postForm(ctx, PathLogin, fields)
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuthenticateForms enters the MFA stage of the pending login and returns
// the usable forms.
func (c *Client) AuthenticateForms(ctx context.Context) (*FormsResponse, error) {
	return c.getForms(ctx, PathAuthenticate)
}

// SubmitCode submits a TOTP or recovery code at the MFA stage.
func (c *Client) SubmitCode(ctx context.Context, code string) (*LoginResponse, error) {
	return c.Submit(ctx, url.Values{FieldCode: {code}})
}

// SubmitCredential submits a security key assertion (the JSON produced by
// navigator.credentials.get()) at the MFA stage.
func (c *Client) SubmitCredential(ctx context.Context, credential []byte) (*LoginResponse, error) {
	return c.Submit(ctx, url.Values{FieldCredential: {string(credential)}})
}

// Submit posts raw form fields to the MFA stage.
func (c *Client) Submit(ctx context.Context, fields url.Values) (*LoginResponse, error) {
	resp, err := c.postForm(ctx, PathAuthenticate, fields)
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getForms(ctx context.Context, path string) (*FormsResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var out FormsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
