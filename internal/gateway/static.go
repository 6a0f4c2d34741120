package gateway

import (
	"embed"
	"net/http"
)

//go:embed static/index.html static/app.js
var staticFiles embed.FS

func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	b, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(b)
}
