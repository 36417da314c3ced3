// Package gateway composes notegate's components behind one HTTP listener.
//
// # Overview
//
// The Gateway owns the credential store, the session codec, the upstream
// supervisor, and the reverse proxy. It holds the only piece of mutable
// gateway state, the setup-needed flag, which is set at startup from the
// presence of the master record and changes only when setup completes or a
// login finds the master record missing.
//
// # Request Flow
//
// Every request passes through recoverPanics, then gate. The gate lets
// static asset prefixes and /healthz through, reads the session cookies,
// and applies auth.Decide. Allowed requests reach the gateway's own routes;
// everything else is redirected, refused with 403, or proxied upstream.
//
// # Routes
//
//   - GET /setup, POST /do_setup - first-run master password
//   - GET /login, POST /do_login - master (empty username) or user login
//   - /logout - clear the session
//   - GET /admin - user list and recent audit entries (master only)
//   - POST /admin/add_user, POST /admin/delete_user
//   - /admin/change_password_page, POST /admin/perform_change_password
//   - GET /healthz - liveness and upstream state as JSON
//
// Form failures redirect with ?error=<code>; see package webadmin for the
// codes.
//
// # Lifecycle
//
// Run opens the listener (TCP, or a tsnet node when tailscale is enabled),
// starts the upstream if setup is complete, and serves until its context is
// canceled. Shutdown drains HTTP and stops the upstream concurrently under
// shutdown.timeout, then closes the tailnet node and the audit log.
package gateway
