// ABOUTME: Tests for the gate policy table and path classification
// ABOUTME: Walks every state and path class combination

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want PathClass
	}{
		{"/setup", ClassSetup},
		{"/do_setup", ClassSetup},
		{"/login", ClassLogin},
		{"/do_login", ClassLogin},
		{"/logout", ClassLogout},
		{"/admin", ClassAdmin},
		{"/admin/", ClassAdmin},
		{"/admin/add_user", ClassAdmin},
		{"/admin/perform_change_password", ClassAdmin},
		{"/administrator", ClassOther},
		{"/", ClassOther},
		{"/notes/42", ClassOther},
		{"/setup/extra", ClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.path))
		})
	}
}

func TestIsStatic(t *testing.T) {
	prefixes := []string{"/css/", "/js/", "/uploads/"}

	assert.True(t, IsStatic("/css/site.css", prefixes))
	assert.True(t, IsStatic("/uploads/a/b.png", prefixes))
	assert.False(t, IsStatic("/css", prefixes))
	assert.False(t, IsStatic("/admin", prefixes))
	assert.False(t, IsStatic("/anything", []string{""}))
}

func TestStateFor(t *testing.T) {
	assert.Equal(t, StateSetupNeeded, StateFor(true, Session{Authenticated: true, Master: true}))
	assert.Equal(t, StateUnauthenticated, StateFor(false, Session{}))
	assert.Equal(t, StateUnauthenticated, StateFor(false, Session{Master: true}))
	assert.Equal(t, StateStandard, StateFor(false, Session{Authenticated: true}))
	assert.Equal(t, StateMaster, StateFor(false, Session{Authenticated: true, Master: true}))
}

func TestDecide_PolicyTable(t *testing.T) {
	classes := []PathClass{ClassSetup, ClassLogin, ClassAdmin, ClassLogout, ClassOther}

	table := map[State][]Decision{
		StateSetupNeeded: {
			{Verdict: Allow},
			{Verdict: Redirect, Location: "/setup"},
			{Verdict: Redirect, Location: "/setup"},
			{Verdict: Redirect, Location: "/setup"},
			{Verdict: Redirect, Location: "/setup"},
		},
		StateUnauthenticated: {
			{Verdict: Redirect, Location: "/login"},
			{Verdict: Allow},
			{Verdict: Redirect, Location: "/login"},
			{Verdict: Redirect, Location: "/login"},
			{Verdict: Redirect, Location: "/login"},
		},
		StateStandard: {
			{Verdict: Redirect, Location: "/"},
			{Verdict: Redirect, Location: "/"},
			{Verdict: Forbid},
			{Verdict: Allow},
			{Verdict: Proxy},
		},
		StateMaster: {
			{Verdict: Redirect, Location: "/admin"},
			{Verdict: Redirect, Location: "/admin"},
			{Verdict: Allow},
			{Verdict: Allow},
			{Verdict: Proxy},
		},
	}

	for state, row := range table {
		for i, class := range classes {
			t.Run(state.String()+"/"+class.String(), func(t *testing.T) {
				assert.Equal(t, row[i], Decide(state, class))
			})
		}
	}
}

func TestDecide_StandardUserForbiddenNotRedirected(t *testing.T) {
	d := Decide(StateStandard, Classify("/admin/delete_user"))
	assert.Equal(t, Forbid, d.Verdict)
	assert.Empty(t, d.Location)
}
