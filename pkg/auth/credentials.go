package auth

import "maps"

// EditableProperties is the allow-list of user attributes a host may set.
// Unknown keys are dropped silently.
var EditableProperties = []string{"givenName", "surname", "email", "signedUpAt", "properties"}

// Credentials is the structured login input. The zero value logs in
// anonymously.
type Credentials struct {
	UserID     string
	JWT        string
	Attributes map[string]any
}

// Anonymous returns credentials for an anonymous session.
func Anonymous() Credentials { return Credentials{} }

// WithToken builds credentials for a JWT-backed login.
func WithToken(userID, jwt string) Credentials {
	return Credentials{UserID: userID, JWT: jwt}
}

// WithAttributes builds credentials carrying only editable attributes, no
// token.
func WithAttributes(userID string, attrs map[string]any) Credentials {
	return Credentials{UserID: userID, Attributes: maps.Clone(attrs)}
}

// WithTokenAndAttributes builds fully specified credentials.
func WithTokenAndAttributes(userID, jwt string, attrs map[string]any) Credentials {
	return Credentials{UserID: userID, JWT: jwt, Attributes: maps.Clone(attrs)}
}

// FilterAttributes restricts attrs to the editable allow-list.
func FilterAttributes(attrs map[string]any) map[string]any {
	out := map[string]any{}
	for _, key := range EditableProperties {
		if v, ok := attrs[key]; ok {
			out[key] = v
		}
	}
	return out
}
