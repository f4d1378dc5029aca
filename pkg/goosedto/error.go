package goosedto

import "fmt"

// APIError is a non-success HTTP response from the game API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("goose api error: status=%d", e.Status)
}
