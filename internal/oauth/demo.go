package oauth

import (
	"context"
	"net/url"
)

// DemoProfile is the identity every demo sign-in resolves to.
var DemoProfile = Profile{
	Email:       "demo@example.com",
	FirstName:   "Demo",
	LastName:    "User",
	DisplayName: "Demo User",
	ExternalID:  "demo-user",
}

// DemoProvider skips the identity provider: the authorization URL points straight
// back at the callback, which still enforces the single-use state.
type DemoProvider struct {
	states      *StateStore
	redirectURL string
}

var _ Provider = (*DemoProvider)(nil)

// NewDemoProvider creates a DemoProvider.
func NewDemoProvider(states *StateStore, redirectURL string) *DemoProvider {
	return &DemoProvider{states: states, redirectURL: redirectURL}
}

func (d *DemoProvider) AuthorizationURL(ctx context.Context) (string, error) {
	state, err := d.states.Issue(ctx)
	if err != nil {
		return "", err
	}
	params := url.Values{
		"code":  {"demo"},
		"state": {state},
	}
	return d.redirectURL + "?" + params.Encode(), nil
}

func (d *DemoProvider) HandleCallback(ctx context.Context, query url.Values) (*CallbackResult, error) {
	if _, err := checkCallback(ctx, d.states, query); err != nil {
		return nil, err
	}

	token, err := GenerateState()
	if err != nil {
		return nil, err
	}

	return &CallbackResult{
		Profile:     DemoProfile,
		AccessToken: "demo_token_" + token,
		ExpiresIn:   3600,
	}, nil
}
