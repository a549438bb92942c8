package deploy

import (
	"os"
	"regexp"
	"sync"

	"github.com/Iron-Ham/convoy/internal/errors"
)

var (
	bareHostRe  = regexp.MustCompile(`^[^\s.]+$`)
	shortHostRe = regexp.MustCompile(`^[^\s.]+\.([^\s.]+)$`)
)

// SiteResolver maps host names to the site they belong to:
// "node.site.<domain>" and "node.site" name their site, bare names belong
// to the local site.
type SiteResolver struct {
	fqdnRe     *regexp.Regexp
	configured string
	hostname   func() (string, error)

	mu     sync.Mutex
	cached bool
	local  string
}

// NewSiteResolver creates a resolver for domain. localSite, when set,
// overrides detection of the local site from this machine's host name.
func NewSiteResolver(domain, localSite string) *SiteResolver {
	return &SiteResolver{
		fqdnRe:     regexp.MustCompile(`^[^\s.]+\.([^\s.]+)\.` + regexp.QuoteMeta(domain) + `$`),
		configured: localSite,
		hostname:   os.Hostname,
	}
}

// Site returns the site of address.
func (r *SiteResolver) Site(address string) (string, error) {
	if m := r.fqdnRe.FindStringSubmatch(address); m != nil {
		return m[1], nil
	}
	if m := shortHostRe.FindStringSubmatch(address); m != nil {
		return m[1], nil
	}
	if bareHostRe.MatchString(address) {
		site := r.LocalSite()
		if site == "" {
			return "", errors.NewSiteError("cannot determine the local site", nil).WithHost(address)
		}
		return site, nil
	}
	return "", errors.NewSiteError("host name matches no site naming", nil).WithHost(address)
}

// LocalSite returns the site of this machine, empty when unknown. The
// detected value is cached until Invalidate.
func (r *SiteResolver) LocalSite() string {
	if r.configured != "" {
		return r.configured
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cached {
		r.cached = true
		r.local = ""
		if name, err := r.hostname(); err == nil {
			if m := r.fqdnRe.FindStringSubmatch(name); m != nil {
				r.local = m[1]
			}
		}
	}
	return r.local
}

// Invalidate drops the cached local site.
func (r *SiteResolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = false
}

// Partition groups addresses by site, keeping input order inside each site.
func (r *SiteResolver) Partition(addresses []string) (map[string][]string, error) {
	sites := make(map[string][]string)
	for _, a := range addresses {
		site, err := r.Site(a)
		if err != nil {
			return nil, err
		}
		sites[site] = append(sites[site], a)
	}
	return sites, nil
}
