package website

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/electra-analytics/electra/internal/models"
)

type loginView struct {
	Username string
	Next     string
	Error    string
}

type pageView struct {
	Name    string
	Title   string
	User    *models.User
	CanEdit bool
}

var views = template.Must(template.New("views").Parse(`
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.}} · Electra</title>
</head>
<body>{{end}}

{{define "login"}}{{template "head" "Sign in"}}
<main>
<h1>Sign in</h1>
{{with .Error}}<p role="alert">{{.}}</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="next" value="{{.Next}}">
<label>Email <input type="email" name="username" value="{{.Username}}" autocomplete="username" required></label>
<label>Password <input type="password" name="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
</main>
</body>
</html>
{{end}}

{{define "page"}}{{template "head" .Title}}
<header>
<nav>
<a href="/dashboard"{{if eq .Name "dashboard"}} aria-current="page"{{end}}>Dashboard</a>
<a href="/products"{{if eq .Name "products"}} aria-current="page"{{end}}>Products</a>
<a href="/reports"{{if eq .Name "reports"}} aria-current="page"{{end}}>Reports</a>
{{if .CanEdit}}<a href="/settings"{{if eq .Name "settings"}} aria-current="page"{{end}}>Settings</a>{{end}}
</nav>
{{with .User}}<p>{{.DisplayName}} <small>{{.Role}}</small></p>{{end}}
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
</header>
<main id="{{.Name}}" data-api="/api/v1">
<h1>{{.Title}}</h1>
</main>
</body>
</html>
{{end}}
`))

func renderLogin(w http.ResponseWriter, status int, view loginView) {
	render(w, status, "login", view)
}

func renderPage(w http.ResponseWriter, view pageView) {
	render(w, http.StatusOK, "page", view)
}

func render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := views.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("view", name).Msg("failed to render view")
	}
}
