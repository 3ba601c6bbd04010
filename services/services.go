// Package services holds the contract for long-running parts of the server
// like the match feed or log publishing.
package services

import "context"

// Service is run by app.App until the app shuts down.
type Service interface {
	// Run the Service until the given context.Context is done. A returned error
	// stops the whole app.
	Run(ctx context.Context) error
}
