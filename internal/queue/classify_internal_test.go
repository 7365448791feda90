package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyOutcome(t *testing.T) {
	cases := []struct {
		name   string
		status int
		err    error
		want   Outcome
	}{
		{"ok", 200, nil, Success},
		{"created", 201, nil, Success},
		{"request_timeout", 408, nil, Transient},
		{"rate_limited", 429, nil, Transient},
		{"server_error", 500, nil, Transient},
		{"bad_gateway", 502, nil, Transient},
		{"bad_request", 400, nil, Permanent},
		{"unauthorized", 401, nil, Permanent},
		{"not_found", 404, nil, Permanent},
		{"conflict", 409, nil, Permanent},
		{"unprocessable", 422, nil, Permanent},
		{"network_error", 0, errors.New("dial tcp"), Transient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyOutcome(tc.status, tc.err))
		})
	}
}
