// Package sites resolves site identifiers to remote endpoints and
// credentials for the batch sync engine.
package sites

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/stacklok/crosspost-server/internal/config"
)

// ErrSiteNotFound is returned when a site id is not registered.
var ErrSiteNotFound = errors.New("site not found")

// Site is a resolved remote target.
type Site struct {
	// ID is the site identifier used in action tokens and link keys
	ID string

	// Name is the human-readable name used in notices; falls back to the
	// host part of the URL when unset
	Name string

	// BaseURL is the site base URL without a trailing slash
	BaseURL string

	// Login and password form the basic-auth pair
	Login    string
	password string

	// LinkMode is config.LinkModeID or config.LinkModeSKU
	LinkMode string
}

// AuthorizationHeader returns the Basic auth header value for the site.
func (s *Site) AuthorizationHeader() string {
	credential := base64.StdEncoding.EncodeToString([]byte(s.Login + ":" + s.password))
	return "Basic " + credential
}

// DisplayName returns the configured name, or the bare domain when none is set.
func (s *Site) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	name := strings.TrimPrefix(s.BaseURL, "https://")
	return strings.TrimPrefix(name, "http://")
}

// Registry resolves site ids to Site records.
//
//go:generate mockgen -destination=mocks/mock_registry.go -package=mocks -source=registry.go Registry
type Registry interface {
	// GetSite returns the site with the given id, or ErrSiteNotFound.
	GetSite(id string) (*Site, error)

	// ListSites returns all registered sites in configuration order.
	ListSites() []*Site
}

type configRegistry struct {
	sites map[string]*Site
	order []string
}

// NewRegistry builds a Registry from validated configuration. Passwords
// are resolved once at construction time.
func NewRegistry(cfg *config.Config) (Registry, error) {
	reg := &configRegistry{sites: make(map[string]*Site, len(cfg.Sites))}
	for i := range cfg.Sites {
		sc := &cfg.Sites[i]
		password, err := sc.GetPassword()
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", sc.ID, err)
		}
		linkMode := sc.LinkMode
		if linkMode == "" {
			linkMode = config.LinkModeID
		}
		reg.sites[sc.ID] = &Site{
			ID:       sc.ID,
			Name:     sc.Name,
			BaseURL:  strings.TrimSuffix(sc.URL, "/"),
			Login:    sc.Login,
			password: password,
			LinkMode: linkMode,
		}
		reg.order = append(reg.order, sc.ID)
	}
	return reg, nil
}

func (r *configRegistry) GetSite(id string) (*Site, error) {
	site, ok := r.sites[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, id)
	}
	return site, nil
}

func (r *configRegistry) ListSites() []*Site {
	result := make([]*Site, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.sites[id])
	}
	return result
}
