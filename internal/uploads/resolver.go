// Package uploads maps stored attachment URLs to files on local disk.
package uploads

import "strings"

// Resolver rewrites URLs under BaseURL to paths under BaseDir.
type Resolver struct {
	BaseURL string
	BaseDir string
}

func NewResolver(baseURL, baseDir string) *Resolver {
	return &Resolver{
		BaseURL: strings.TrimRight(baseURL, "/"),
		BaseDir: strings.TrimRight(baseDir, "/"),
	}
}

// Resolve replaces the base URL prefix of uri, up to a path separator, with
// the base directory. The
// scheme of the base URL is first aligned with the scheme of uri, since older
// records were saved with whichever scheme the site used at the time. A uri
// outside the base URL comes back unchanged and fails the existence check of
// the caller.
func (r *Resolver) Resolve(uri string) string {
	base := r.BaseURL
	switch {
	case strings.HasPrefix(uri, "http://") && strings.HasPrefix(base, "https://"):
		base = "http://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(uri, "https://") && strings.HasPrefix(base, "http://"):
		base = "https://" + strings.TrimPrefix(base, "http://")
	}
	if base == "" || !strings.HasPrefix(uri, base+"/") {
		return uri
	}
	return r.BaseDir + strings.TrimPrefix(uri, base)
}

// URL is the inverse of Resolve for paths under BaseDir.
func (r *Resolver) URL(path string) string {
	if r.BaseDir == "" || !strings.HasPrefix(path, r.BaseDir+"/") {
		return path
	}
	return r.BaseURL + strings.TrimPrefix(path, r.BaseDir)
}
