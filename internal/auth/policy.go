// ABOUTME: Gate state machine and policy table for request routing decisions
// ABOUTME: Maps (state, path class) to allow, redirect, forbid, or proxy

package auth

import "strings"

// State is the gate's view of a request.
type State int

const (
	StateSetupNeeded State = iota
	StateUnauthenticated
	StateStandard
	StateMaster
)

func (s State) String() string {
	switch s {
	case StateSetupNeeded:
		return "setup_needed"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateStandard:
		return "authenticated_standard"
	case StateMaster:
		return "authenticated_master"
	default:
		return "unknown"
	}
}

// StateFor derives the gate state from the setup flag and the session.
func StateFor(setupNeeded bool, s Session) State {
	switch {
	case setupNeeded:
		return StateSetupNeeded
	case !s.Authenticated:
		return StateUnauthenticated
	case s.Master:
		return StateMaster
	default:
		return StateStandard
	}
}

// PathClass groups request paths by the policy that applies to them.
type PathClass int

const (
	ClassOther PathClass = iota
	ClassSetup
	ClassLogin
	ClassAdmin
	ClassLogout
)

func (c PathClass) String() string {
	switch c {
	case ClassSetup:
		return "setup"
	case ClassLogin:
		return "login"
	case ClassAdmin:
		return "admin"
	case ClassLogout:
		return "logout"
	default:
		return "other"
	}
}

// Fixed gateway paths.
const (
	PathSetup   = "/setup"
	PathDoSetup = "/do_setup"
	PathLogin   = "/login"
	PathDoLogin = "/do_login"
	PathLogout  = "/logout"
	PathAdmin   = "/admin"
	PathHome    = "/"
)

// Classify returns the class of a request path.
func Classify(path string) PathClass {
	switch path {
	case PathSetup, PathDoSetup:
		return ClassSetup
	case PathLogin, PathDoLogin:
		return ClassLogin
	case PathLogout:
		return ClassLogout
	}
	if path == PathAdmin || strings.HasPrefix(path, PathAdmin+"/") {
		return ClassAdmin
	}
	return ClassOther
}

// IsStatic reports whether path falls under one of the static prefixes.
// Static assets skip the gate entirely.
func IsStatic(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Verdict is what the gate does with a request.
type Verdict int

const (
	// Allow hands the request to the gateway's own handler.
	Allow Verdict = iota
	// Redirect sends the client to Decision.Location.
	Redirect
	// Forbid answers 403.
	Forbid
	// Proxy forwards the request upstream.
	Proxy
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Forbid:
		return "forbid"
	case Proxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// Decision is the outcome of the policy table.
type Decision struct {
	Verdict  Verdict
	Location string // set when Verdict is Redirect
}

func allow() Decision             { return Decision{Verdict: Allow} }
func redirect(to string) Decision { return Decision{Verdict: Redirect, Location: to} }
func forbid() Decision            { return Decision{Verdict: Forbid} }
func proxyUpstream() Decision     { return Decision{Verdict: Proxy} }

// Decide applies the policy table to a state and path class.
func Decide(state State, class PathClass) Decision {
	switch state {
	case StateSetupNeeded:
		if class == ClassSetup {
			return allow()
		}
		return redirect(PathSetup)

	case StateUnauthenticated:
		if class == ClassLogin {
			return allow()
		}
		return redirect(PathLogin)

	case StateStandard:
		switch class {
		case ClassSetup, ClassLogin:
			return redirect(PathHome)
		case ClassAdmin:
			return forbid()
		case ClassLogout:
			return allow()
		default:
			return proxyUpstream()
		}

	case StateMaster:
		switch class {
		case ClassSetup, ClassLogin:
			return redirect(PathAdmin)
		case ClassAdmin, ClassLogout:
			return allow()
		default:
			return proxyUpstream()
		}
	}
	return redirect(PathLogin)
}
