package app

import (
	"encoding/json"
	"html/template"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
)

// routeDoc is one entry of the generated route catalog.
type routeDoc struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods,omitempty"`
}

type apiDoc struct {
	Name    string     `json:"name"`
	Version string     `json:"version"`
	Routes  []routeDoc `json:"routes"`
	Formats []string   `json:"formats"`
	RPC     []string   `json:"rpc_methods,omitempty"`
}

// catalog walks the route table into a stable, sorted listing.
func (a *App) catalog() apiDoc {
	var routes []routeDoc
	a.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := route.GetMethods()
		routes = append(routes, routeDoc{Path: path, Methods: methods})
		return nil
	})
	sort.Slice(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })

	rpcMethods := a.RPC.Methods()
	sort.Strings(rpcMethods)

	name := a.Config.ServerName
	if name == "" {
		name = "vessel"
	}
	return apiDoc{
		Name:    name,
		Version: a.Config.APIVersion,
		Routes:  routes,
		Formats: a.Registry.Names(),
		RPC:     rpcMethods,
	}
}

func (a *App) apiDocJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(a.catalog())
}

var apiDocPage = template.Must(template.New("apidocs").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Name}} API</title></head>
<body>
<h1>{{.Name}} <small>{{.Version}}</small></h1>
<h2>Routes</h2>
<table border="1" cellpadding="4">
<tr><th>Path</th><th>Methods</th></tr>
{{range .Routes}}<tr><td>{{.Path}}</td><td>{{range .Methods}}{{.}} {{end}}</td></tr>
{{end}}</table>
<h2>Response formats</h2>
<p>{{range .Formats}}{{.}} {{end}}</p>
{{if .RPC}}<h2>JSON-RPC methods</h2>
<p>{{range .RPC}}{{.}} {{end}}</p>{{end}}
</body>
</html>
`))

func (a *App) apiDocHTML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = apiDocPage.Execute(w, a.catalog())
}
