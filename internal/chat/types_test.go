package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateRoomKeyIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"1", "2"},
		{"alice", "bob"},
		{"b", "a"},
		{"same", "same"},
		{"10", "9"},
	}
	for _, p := range pairs {
		t.Run(p[0]+"/"+p[1], func(t *testing.T) {
			assert.Equal(t, PrivateRoomKey(p[0], p[1]), PrivateRoomKey(p[1], p[0]))
		})
	}
}

func TestPrivateRoomKeyRoundTrip(t *testing.T) {
	key := PrivateRoomKey("2", "1")
	assert.Equal(t, "dm:1:2", key)

	a, b, ok := ParsePrivateRoomKey(key)
	require.True(t, ok)
	assert.Equal(t, "1", a)
	assert.Equal(t, "2", b)
	assert.True(t, IsPrivateRoom(key))
	assert.False(t, IsPrivateRoom(Lounge))
}

func TestParsePrivateRoomKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"lounge", "dm:", "dm:1", "dm::2", "dm:1:", "dm:1:2:3"} {
		_, _, ok := ParsePrivateRoomKey(key)
		assert.False(t, ok, key)
	}
}

func TestValidateRoomKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"lounge", Lounge, false},
		{"custom shared room", "general", false},
		{"private", PrivateRoomKey("1", "2"), false},
		{"empty", "", true},
		{"too long", strings.Repeat("r", MaxRoomKeyLength+1), true},
		{"invalid utf8", "\xff\xfe", true},
		{"malformed private", "dm:only", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRoom)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("hi"))
	assert.ErrorIs(t, ValidateContent(""), ErrInvalidMessage)
	assert.ErrorIs(t, ValidateContent(strings.Repeat("x", MaxMessageLength+1)), ErrInvalidMessage)
	assert.ErrorIs(t, ValidateContent("\xff"), ErrInvalidMessage)
}

func TestValidateIdentityID(t *testing.T) {
	assert.NoError(t, ValidateIdentityID("42"))
	assert.ErrorIs(t, ValidateIdentityID(""), ErrInvalidCredential)
	assert.ErrorIs(t, ValidateIdentityID("a:b"), ErrInvalidCredential)
}

func TestCanAccess(t *testing.T) {
	alice := Identity{ID: "1", Name: "alice"}
	carol := Identity{ID: "3", Name: "carol"}
	key := PrivateRoomKey("1", "2")

	assert.NoError(t, CanAccess(alice, Lounge))
	assert.NoError(t, CanAccess(alice, key))
	assert.ErrorIs(t, CanAccess(carol, key), ErrNotAuthorized)
	assert.ErrorIs(t, CanAccess(carol, ""), ErrInvalidRoom)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrUnauthenticated, CodeUnauthenticated},
		{ErrInvalidCredential, CodeInvalidCredential},
		{fmt.Errorf("wrap: %w", ErrNotAuthorized), CodeNotAuthorized},
		{ErrNotFound, CodeNotFound},
		{fmt.Errorf("%w: disk", ErrPersistenceFailure), CodePersistenceFailure},
		{ErrInvalidMessage, CodeInvalidRequest},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err))
	}
}

func TestInvalidCredentialIsUnauthenticated(t *testing.T) {
	assert.True(t, errors.Is(ErrInvalidCredential, ErrUnauthenticated))
}
