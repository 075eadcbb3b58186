package identity

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Firebase verifies ID tokens issued by Firebase Authentication.
type Firebase struct {
	client *auth.Client
}

func NewFirebase(ctx context.Context, projectID, credentialsFile string) (*Firebase, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firebase: project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	return &Firebase{client: client}, nil
}

func (f *Firebase) Verify(ctx context.Context, idToken string) (Actor, error) {
	tok, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	a := Actor{
		Name:   claimString(tok.Claims, "name"),
		Email:  claimString(tok.Claims, "email"),
		Avatar: claimString(tok.Claims, "picture"),
	}
	if a.Email == "" {
		return Actor{}, fmt.Errorf("%w: token for %s carries no email", ErrInvalidToken, tok.UID)
	}
	if a.Name == "" {
		a.Name = a.Email
	}
	return a, nil
}

func claimString(claims map[string]interface{}, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// Chain tries each verifier in turn and returns the first success.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (Actor, error) {
	err := ErrInvalidToken
	for _, v := range c {
		a, verr := v.Verify(ctx, token)
		if verr == nil {
			return a, nil
		}
		err = verr
	}
	if !errors.Is(err, ErrInvalidToken) {
		err = fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Actor{}, err
}
