// Package translate provides the services that fill in annotation
// metadata: an OpenAI-compatible chat model and a fallback chain.
package translate

import (
	"context"
	"errors"
	"fmt"
)

// Result is the learning metadata for one span of text.
type Result struct {
	Translation string   `json:"translation"`
	Examples    []string `json:"examples"`
}

var (
	// ErrRateLimited means the service refused the call for quota reasons.
	ErrRateLimited = errors.New("translate: rate limited")
	// ErrUnavailable means the service could not be reached or failed.
	ErrUnavailable = errors.New("translate: service unavailable")
	// ErrResponseInvalid means the service replied with something unusable.
	ErrResponseInvalid = errors.New("translate: invalid response")
)

// Service translates text given the text around it.
type Service interface {
	Translate(ctx context.Context, text, surrounding string) (Result, error)
}

// Chain tries each service in order and returns the first success.
type Chain []Service

func (c Chain) Translate(ctx context.Context, text, surrounding string) (Result, error) {
	if len(c) == 0 {
		return Result{}, ErrUnavailable
	}
	var errs []error
	for i, s := range c {
		res, err := s.Translate(ctx, text, surrounding)
		if err == nil {
			return res, nil
		}
		errs = append(errs, fmt.Errorf("service %d: %w", i, err))
		if ctx.Err() != nil {
			break
		}
	}
	return Result{}, errors.Join(errs...)
}
