package clientapp

import "html/template"

const appStyle = `
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif;
               background: #f4f5f7; margin: 0; padding: 2rem; }
        .card { background: #fff; border-radius: 8px; padding: 1.5rem;
                box-shadow: 0 1px 4px rgba(0,0,0,.15); max-width: 44rem;
                margin: 0 auto 1rem; }
        h1 { font-size: 1.3rem; margin-top: 0; }
        h2 { font-size: 1.05rem; }
        a.button, button { display: inline-block; margin-top: .5rem;
                 padding: .5rem 1.25rem; border: 0; border-radius: 4px;
                 cursor: pointer; background: #2563eb; color: #fff;
                 text-decoration: none; font-size: .95rem; }
        form.inline { display: inline; }
        table { border-collapse: collapse; width: 100%; }
        th, td { text-align: left; padding: .35rem .5rem;
                 border-bottom: 1px solid #e5e7eb; font-size: .9rem; }
        .error { color: #b91c1c; }
        .muted { color: #6b7280; font-size: .85rem; }
`

const homeTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Notes Analytics</title>
    <style>` + appStyle + `</style>
</head>
<body>
    <div class="card">
        <h1>Notes Analytics</h1>
        {{if .LoggedIn}}
        <p>Connected as <strong>{{.Username}}</strong>.</p>
        <a class="button" href="/dashboard">Open dashboard</a>
        <form class="inline" method="POST" action="/logout">
            <button type="submit">Disconnect</button>
        </form>
        {{else}}
        <p>Connect your notes account to see writing statistics.</p>
        <a class="button" href="/connect">Connect notes account</a>
        {{end}}
    </div>
</body>
</html>`

const dashboardTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Dashboard</title>
    <style>` + appStyle + `</style>
</head>
<body>
    <div class="card">
        <h1>Dashboard</h1>
        {{if .Username}}<p class="muted">Signed in as {{.Username}}</p>{{end}}
        <table>
            <tr><td>Total notes</td><td>{{.Analytics.TotalNotes}}</td></tr>
            <tr><td>Total words</td><td>{{.Analytics.TotalWords}}</td></tr>
            <tr><td>Total characters</td><td>{{.Analytics.TotalCharacters}}</td></tr>
            <tr><td>Average words per note</td><td>{{.Analytics.AverageWordsPerNote}}</td></tr>
            <tr><td>Average characters per note</td><td>{{.Analytics.AverageCharactersPerNote}}</td></tr>
            {{with .Analytics.LongestNote}}
            <tr><td>Longest note</td><td>{{.Title}} ({{.WordCount}} words)</td></tr>
            {{end}}
            {{with .Analytics.ShortestNote}}
            <tr><td>Shortest note</td><td>{{.Title}} ({{.WordCount}} words)</td></tr>
            {{end}}
        </table>
    </div>
    {{if .Analytics.WordFrequency}}
    <div class="card">
        <h2>Most used words</h2>
        <table>
            <tr><th>Word</th><th>Count</th></tr>
            {{range .Analytics.WordFrequency}}
            <tr><td>{{.Word}}</td><td>{{.Count}}</td></tr>
            {{end}}
        </table>
    </div>
    {{end}}
    <div class="card">
        <h2>Notes</h2>
        <table>
            <tr><th>Title</th><th>Created</th></tr>
            {{range .Notes}}
            <tr><td>{{.Title}}</td><td>{{.CreatedAt.Format "2006-01-02"}}</td></tr>
            {{end}}
        </table>
        <a class="button" href="/">Back</a>
    </div>
</body>
</html>`

const appErrorTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Something went wrong</title>
    <style>` + appStyle + `</style>
</head>
<body>
    <div class="card">
        <h1>Something went wrong</h1>
        <p class="error">{{.Error}}</p>
        <p class="muted">{{.Description}}</p>
        <a class="button" href="/">Back to home</a>
    </div>
</body>
</html>`

func parseTemplates() *template.Template {
	t := template.Must(template.New("home").Parse(homeTemplate))
	template.Must(t.New("dashboard").Parse(dashboardTemplate))
	template.Must(t.New("error").Parse(appErrorTemplate))
	return t
}
