package oauth

import "html/template"

// Pages rendered by the authorization endpoint. Kept deliberately plain; the
// inline styles are why the page CSP allows 'unsafe-inline' styles only.

const baseStyle = `
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif;
               background: #f4f5f7; display: flex; justify-content: center;
               padding-top: 8vh; margin: 0; }
        .card { background: #fff; border-radius: 8px; padding: 2rem;
                box-shadow: 0 1px 4px rgba(0,0,0,.15); width: 22rem; }
        h1 { font-size: 1.2rem; margin-top: 0; }
        label { display: block; margin: .75rem 0 .25rem; font-size: .9rem; }
        input[type=text], input[type=password] { width: 100%; padding: .5rem;
                border: 1px solid #ccc; border-radius: 4px; box-sizing: border-box; }
        button { margin-top: 1rem; padding: .5rem 1.25rem; border: 0;
                 border-radius: 4px; cursor: pointer; }
        .approve { background: #2563eb; color: #fff; }
        .deny { background: #e5e7eb; }
        .error { color: #b91c1c; font-size: .9rem; margin: .5rem 0 0; }
        ul { padding-left: 1.25rem; }
`

const loginTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Sign in</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <div class="card">
        <h1>Sign in to {{.ClientName}}</h1>
        {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
        <form method="POST" action="/authorize/login">
            <label for="username">Username</label>
            <input type="text" id="username" name="username" autofocus>
            <label for="password">Password</label>
            <input type="password" id="password" name="password">
            {{template "flowfields" .}}
            <button class="approve" type="submit">Sign in</button>
        </form>
    </div>
</body>
</html>`

const consentTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authorize {{.ClientName}}</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <div class="card">
        <h1>{{.ClientName}} wants access</h1>
        <p>Signed in as <strong>{{.Username}}</strong>. The application is requesting:</p>
        <ul>
            {{range .Scopes}}<li>{{.}}</li>{{end}}
        </ul>
        <form method="POST" action="/authorize/consent">
            {{template "flowfields" .}}
            <button class="approve" type="submit" name="action" value="approve">Allow</button>
            <button class="deny" type="submit" name="action" value="deny">Deny</button>
        </form>
    </div>
</body>
</html>`

const errorTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authorization error</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <div class="card">
        <h1>Authorization error</h1>
        <p class="error">{{.Description}}</p>
    </div>
</body>
</html>`

// flowfields re-submits the original authorization parameters through the
// login and consent forms so the flow needs no server-side request state.
const flowFieldsTemplate = `{{define "flowfields"}}
            <input type="hidden" name="response_type" value="{{.ResponseType}}">
            <input type="hidden" name="client_id" value="{{.ClientID}}">
            <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
            <input type="hidden" name="scope" value="{{.Scope}}">
            <input type="hidden" name="state" value="{{.State}}">
            <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
            <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">{{end}}`

func parseTemplates() *template.Template {
	t := template.Must(template.New("flowfields").Parse(flowFieldsTemplate))
	template.Must(t.New("login").Parse(loginTemplate))
	template.Must(t.New("consent").Parse(consentTemplate))
	template.Must(t.New("error").Parse(errorTemplate))
	return t
}
