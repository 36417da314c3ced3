// Package auth decides who a request belongs to and what it may reach.
//
// # Gate States
//
// Every request is classified into one of four states:
//
//   - StateSetupNeeded: no master credential exists yet
//   - StateUnauthenticated: setup is done but the request carries no session
//   - StateStandard: a named user is logged in
//   - StateMaster: the master credential was used to log in
//
// # Path Classes
//
// Paths fall into setup (/setup, /do_setup), login (/login, /do_login),
// admin (/admin and below), logout (/logout), or other. Decide maps a state
// and a class to a Decision: allow, redirect, forbid, or proxy upstream.
// A standard user reaching an admin path is forbidden (403), never redirected.
//
// # Sessions
//
// CookieCodec reads and writes the session cookie pair:
//
//	auth=1; is_master=true|false
//
// Both are HttpOnly, Path=/, SameSite=Lax, and expire after the configured
// max age (one hour by default). The pair is the whole session; nothing is
// tracked server side, so a session cannot be revoked before it expires.
//
// In signed mode a third cookie, session, carries an HS256 JWT naming the user
// and tier. The pair is trusted only when it agrees with a valid token.
//
// # Credential Verification
//
// Authenticator checks passwords against the credential store:
//
//	err := a.VerifyMaster(password)
//	err := a.VerifyUser(username, password)
//
// VerifyUser returns ErrInvalidCredentials for an unknown user, a wrong
// password, or an unreadable record alike, so callers cannot tell them apart.
package auth
