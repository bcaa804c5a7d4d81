package websocket

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrUserMismatch = errors.New("user id does not match token")
)

// bearerToken reads the token from the "token" query parameter or from an
// "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
		return parts[1], nil
	}
	return "", ErrMissingToken
}
