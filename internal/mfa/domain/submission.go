package domain

// Submission is a credential posted against the authenticate endpoint. The
// set of implementations is closed.
type Submission interface {
	isSubmission()
}

// CodeSubmission carries a TOTP or recovery code.
type CodeSubmission struct {
	Code string
}

// AssertionSubmission carries a WebAuthn assertion response as JSON.
type AssertionSubmission struct {
	Credential []byte
}

func (CodeSubmission) isSubmission()      {}
func (AssertionSubmission) isSubmission() {}
