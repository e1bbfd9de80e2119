// Package server serves the asset tree over plain HTTP.
//
// The server exposes exactly one behavior: static files from the site
// root, with directory paths resolving to their index.html and unmatched
// paths answering 404. There are no other routes and no dynamic content.
package server
