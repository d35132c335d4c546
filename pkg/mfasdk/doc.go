/*
Package mfasdk provides a client for the mfagate JSON API, together with the
wire types and error values the server writes.

# Overview

mfagate runs the login pipeline of a service: a password login, followed by
a second factor when the user has one. Login state travels in cookies, so a
Client keeps a cookie jar and is tied to a single browser-like user agent.

	client, err := mfasdk.NewClient("https://login.example.com")

	res, err := client.Login(ctx, "alice", password, "/dashboard")
	if res.Status == mfasdk.StatusStageRequired {
		forms, err := client.AuthenticateForms(ctx)
		// forms.Code is set when a TOTP or recovery code is accepted.
		// forms.WebAuthn is set when a security key may be used; its
		// Options are passed to navigator.credentials.get().
		res, err = client.SubmitCode(ctx, "123456")
	}

# Errors

Failed requests return an *APIError carrying the status code and the
machine-readable code. A rejected factor returns a *VerificationFailedError
that also carries the forms to show again. A pending login that is gone
returns a *RestartError pointing back at the login endpoint.

	var vf *mfasdk.VerificationFailedError
	if errors.As(err, &vf) {
		// vf.Forms.WebAuthn.Options holds a fresh challenge.
	}
*/
package mfasdk
