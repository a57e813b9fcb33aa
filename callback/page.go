// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"

	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/session"
)

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1 id="title">{{.Title}}</h1>
{{- if .User}}
<p id="user">Signed in as {{.User}}.</p>
{{- end}}
{{- if .Error}}
<p id="error">{{.Error}}</p>
{{- end}}
<p>You can close this window and return to the application.</p>
</body>
</html>
`))

type pageData struct {
	Title string
	User  string
	Error string
}

// renderResult writes the page for res. A rejected authorization is a 401
// and any other failure a 500.
func renderResult(w http.ResponseWriter, res Result) error {
	status := http.StatusOK
	data := pageData{Title: "Signed in"}
	switch {
	case res.Err != nil:
		data.Title = "Sign in failed"
		data.Error = res.Err.Error()
		status = http.StatusInternalServerError
		var authErr *oidc.AuthError
		if errors.As(res.Err, &authErr) {
			data.Error = authErr.Error()
			status = http.StatusUnauthorized
		}
	case res.Session != nil:
		data.User = displayName(res.Session)
	}

	var buf bytes.Buffer
	if err := resultPage.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

func displayName(s *session.Session) string {
	if name, ok := s.Profile["name"].(string); ok && name != "" {
		return name
	}
	return s.Subject()
}
