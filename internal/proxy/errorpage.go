// ABOUTME: HTML page shown when the upstream application cannot be reached
// ABOUTME: Names the target port and the usual reasons for the failure

package proxy

import (
	"html/template"
	"io"
)

type errorPageData struct {
	Target string
	Port   int
	Detail string
}

var errorPage = template.Must(template.New("upstream_error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Application unavailable</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 4rem auto; color: #222; }
code { background: #f3f3f3; padding: 0 .25rem; }
</style>
</head>
<body>
<h1>Application unavailable</h1>
<p>The gateway could not reach the note application at <code>{{.Target}}</code>.</p>
<p>Likely causes:</p>
<ul>
<li>The application is still starting. Reload in a few seconds.</li>
<li>The application crashed or was stopped. Check the gateway logs.</li>
<li>Something else is using port {{.Port}}, or the application listens on a different port.</li>
</ul>
<p><small>Detail: {{.Detail}}</small></p>
<p><a href="" onclick="location.reload(); return false;">Retry</a> · <a href="/logout">Log out</a></p>
</body>
</html>
`))

func renderErrorPage(w io.Writer, data errorPageData) error {
	return errorPage.Execute(w, data)
}
