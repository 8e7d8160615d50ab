package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeSuccess},
		{"plain", errors.New("boom"), CodeUnknown},
		{"backend", Fail("lobby.create", CodePresenceLobbyExists), CodePresenceLobbyExists},
		{"wrapped", fmt.Errorf("join: %w", Fail("lobby.join", CodeAlreadyMember)), CodeAlreadyMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestTokenOf(t *testing.T) {
	err := fmt.Errorf("login: %w", &Error{Op: "connect.login", Code: CodeInvalidUser, ContinuationToken: "ct-1"})
	token, ok := TokenOf(err)
	assert.True(t, ok)
	assert.Equal(t, ContinuationToken("ct-1"), token)

	_, ok = TokenOf(Fail("connect.login", CodeInvalidUser))
	assert.False(t, ok)
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("  Steam ")
	assert.NoError(t, err)
	assert.Equal(t, PlatformSteam, p)

	_, err = ParsePlatform("dreamcast")
	assert.Error(t, err)
}

func TestPlatformPriority(t *testing.T) {
	assert.Less(t, PlatformSteam.Priority(), PlatformPSN.Priority())
	assert.Less(t, PlatformXbox.Priority(), PlatformEpic.Priority())
	assert.Greater(t, Platform("other").Priority(), PlatformEpic.Priority())
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "external_auth_not_linked", CodeNotLinked.String())
	assert.Equal(t, "code(99)", Code(99).String())
	assert.True(t, CodeTimedOut.Unavailable())
	assert.False(t, CodeNotFound.Unavailable())
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))

	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"unavailable", Fail("lobby.join", CodeNoConnection), ErrBackendUnavailable},
		{"timeout", Fail("lobby.join", CodeTimedOut), ErrBackendUnavailable},
		{"deadline", context.DeadlineExceeded, ErrBackendUnavailable},
		{"not owner", Fail("lobby.update", CodeNotOwner), ErrPermissionDenied},
		{"not found", Fail("lobby.get", CodeNotFound), ErrNotFound},
		{"not linked", Fail("connect.login", CodeNotLinked), ErrNotAuthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	got := Classify(Fail("lobby.create", CodeLobbyFull))
	var unknown *UnknownError
	if assert.ErrorAs(t, got, &unknown) {
		assert.Equal(t, CodeLobbyFull, unknown.Code)
	}
	assert.Equal(t, CodeLobbyFull, CodeOf(got))
}
