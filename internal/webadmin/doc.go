// Package webadmin renders the gateway's own HTML pages.
//
// # Pages
//
//   - setup: first-run master password form
//   - login: master or user sign-in, with an optional markdown notice
//   - admin: user list, add/delete/change-password forms, recent audit entries
//   - change_password: new password for one user
//   - forbidden, not_found: error pages for the gate and unknown admin paths
//
// Templates live in templates/ and are embedded with //go:embed. Each page is
// parsed together with base.html, so the layout is shared.
//
// # Status Codes
//
// Handlers report outcomes by redirecting with ?error=, ?success=, or ?info=
// set to a short code. StatusFromQuery reads them back and the pages show the
// matching text from messages.go. Unknown error codes fall back to the
// generic message, so query input is never echoed.
//
// # Login Notice
//
// ui.login_notice is markdown rendered once at startup with goldmark. Raw
// HTML in the source is dropped.
package webadmin
