// File: transport_test.go

package charon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBearerTransport_ReassembleAndAttach(t *testing.T) {
	bt := BearerTransport{}

	rc := &RequestContext{AuthorizationHeader: "Bearer header.payload.signature"}
	token, authErr := bt.Reassemble(rc)
	require.Nil(t, authErr)
	require.Equal(t, "header.payload.signature", token)

	bt.Attach(rc, &Tokens{AccessToken: "a.b.c"}, time.Now(), time.Now())
	require.Equal(t, "a.b.c", rc.Tokens.AccessToken)
}

func TestBearerTransport_ReassembleMissingHeader(t *testing.T) {
	bt := BearerTransport{}
	_, authErr := bt.Reassemble(&RequestContext{})
	require.NotNil(t, authErr)
	require.Equal(t, claimNotFound("authorization"), *authErr)
}

func TestCookieTransport_ReassembleSplicesHeaderAndCookie(t *testing.T) {
	ct := CookieTransport{
		AccessCookieName:  DefaultAccessCookieName,
		RefreshCookieName: DefaultRefreshCookieName,
		ExpectedKind:      AccessToken,
	}

	rc := &RequestContext{
		AuthorizationHeader: "Bearer header.payload",
		SignatureCookie:     "signature",
	}
	token, authErr := ct.Reassemble(rc)
	require.Nil(t, authErr)
	require.Equal(t, "header.payload.signature", token)
}

func TestCookieTransport_ReassembleMissingCookie(t *testing.T) {
	ct := CookieTransport{AccessCookieName: DefaultAccessCookieName, ExpectedKind: AccessToken}

	_, authErr := ct.Reassemble(&RequestContext{AuthorizationHeader: "Bearer header.payload"})
	require.NotNil(t, authErr)
	require.Equal(t, claimNotFound(DefaultAccessCookieName), *authErr)
}

func TestCookieTransport_AttachSplitsSignatureIntoCookies(t *testing.T) {
	ct := CookieTransport{
		AccessCookieName:  DefaultAccessCookieName,
		RefreshCookieName: DefaultRefreshCookieName,
		AccessCookieOpts:  DefaultCookieOpts(),
		RefreshCookieOpts: DefaultCookieOpts(),
	}

	rc := &RequestContext{}
	tokens := &Tokens{
		AccessToken:  "ahdr.apayload.asig",
		RefreshToken: "rhdr.rpayload.rsig",
	}
	exp := time.Now().Add(time.Hour)
	ct.Attach(rc, tokens, exp, exp)

	require.Equal(t, "ahdr.apayload", rc.BearerToken)
	require.Contains(t, rc.RespCookies, DefaultAccessCookieName)
	require.Equal(t, "asig", rc.RespCookies[DefaultAccessCookieName].Value)
	require.Contains(t, rc.RespCookies, DefaultRefreshCookieName)
	require.Equal(t, "rsig", rc.RespCookies[DefaultRefreshCookieName].Value)
	require.True(t, rc.RespCookies[DefaultAccessCookieName].HttpOnly)
}

func TestCookieTransport_ClearCookiesExpiresBoth(t *testing.T) {
	ct := CookieTransport{AccessCookieName: DefaultAccessCookieName, RefreshCookieName: DefaultRefreshCookieName}
	rc := &RequestContext{}
	ct.ClearCookies(rc)

	require.Equal(t, -1, rc.RespCookies[DefaultAccessCookieName].MaxAge)
	require.Equal(t, -1, rc.RespCookies[DefaultRefreshCookieName].MaxAge)
}
