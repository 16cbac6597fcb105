package guard

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"
)

var loadingTmpl = template.Must(template.New("loading").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="1">
<title>Electra</title>
</head>
<body>
<main aria-busy="true"><p>Loading…</p></main>
</body>
</html>
`))

var deniedTmpl = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Access denied · Electra</title>
</head>
<body>
<main>
<h1>403</h1>
<p>You do not have access to this page.</p>
<p><small>{{.}}</small></p>
<p><a href="/dashboard">Back to the dashboard</a></p>
</main>
</body>
</html>
`))

// renderLoading writes the neutral placeholder shown while the session is being settled.
func renderLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := loadingTmpl.Execute(w, nil); err != nil {
		log.Error().Err(err).Msg("failed to render loading view")
	}
}

func renderDenied(w http.ResponseWriter, r *http.Request, perr *PolicyError) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	if r.Method == http.MethodHead {
		return
	}
	if err := deniedTmpl.Execute(w, perr.Error()); err != nil {
		log.Error().Err(err).Msg("failed to render denied view")
	}
}

// writeProblem answers data requests with a {"detail": ...} body.
func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"detail": detail}); err != nil {
		log.Error().Err(err).Msg("failed to write problem response")
	}
}
