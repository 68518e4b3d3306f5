package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	iss := NewIssuer("secret", time.Hour, "loyaltydesk", nil)
	tok, exp, err := iss.Issue(7, "ana@example.com", "admin", []string{PermAll})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := iss.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.StaffID)
	assert.Equal(t, "7", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.True(t, claims.Has(PermStaffManage))
}

func TestParseRejectsExpired(t *testing.T) {
	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, _, err := NewIssuer("secret", time.Hour, "loyaltydesk", past).Issue(1, "a@b.c", "staff", nil)
	require.NoError(t, err)

	_, err = NewIssuer("secret", time.Hour, "loyaltydesk", nil).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongSecretAndIssuer(t *testing.T) {
	tok, _, err := NewIssuer("secret", time.Hour, "loyaltydesk", nil).Issue(1, "a@b.c", "staff", nil)
	require.NoError(t, err)

	_, err = NewIssuer("other", time.Hour, "loyaltydesk", nil).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = NewIssuer("secret", time.Hour, "someone-else", nil).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{StaffID: 1, RegisteredClaims: jwt.RegisteredClaims{Issuer: "loyaltydesk"}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewIssuer("secret", time.Hour, "loyaltydesk", nil).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	h, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", h)
	assert.True(t, CheckPassword(h, "hunter22"))
	assert.False(t, CheckPassword(h, "hunter23"))
	assert.False(t, CheckPassword("", "hunter22"))
}

func TestHas(t *testing.T) {
	tests := []struct {
		granted []string
		perm    string
		want    bool
	}{
		{[]string{PermAll}, PermDataExport, true},
		{[]string{PermCustomersView}, PermCustomersView, true},
		{[]string{PermCustomersManage}, PermCustomersView, true},
		{[]string{PermCustomersView}, PermCustomersManage, false},
		{[]string{PermRedemptionsManage}, PermCustomersView, false},
		{nil, PermReportsView, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Has(tt.granted, tt.perm), "%v has %s", tt.granted, tt.perm)
	}
}

func TestValidPermission(t *testing.T) {
	assert.True(t, ValidPermission(PermAll))
	assert.True(t, ValidPermission(PermMessagingSend))
	assert.False(t, ValidPermission("customers.delete"))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Nil(t, StaffID(ctx))

	ctx = WithClaims(ctx, &Claims{StaffID: 3})
	require.NotNil(t, StaffID(ctx))
	assert.Equal(t, int64(3), *StaffID(ctx))
}
