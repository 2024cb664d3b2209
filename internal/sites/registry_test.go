package sites

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/crosspost-server/internal/config"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Sites: []config.SiteConfig{
			{
				ID:       "mirror",
				Name:     "Blog Mirror",
				URL:      "https://mirror.example.com/",
				Login:    "crosspost",
				Password: "secret",
			},
			{
				ID:       "shop",
				URL:      "https://shop.example.com",
				Login:    "crosspost",
				Password: "secret",
				LinkMode: config.LinkModeSKU,
			},
		},
	}

	registry, err := NewRegistry(cfg)
	require.NoError(t, err)

	site, err := registry.GetSite("mirror")
	require.NoError(t, err)
	assert.Equal(t, "Blog Mirror", site.Name)
	assert.Equal(t, "https://mirror.example.com", site.BaseURL, "trailing slash is trimmed")
	assert.Equal(t, config.LinkModeID, site.LinkMode, "link mode defaults to id")

	shop, err := registry.GetSite("shop")
	require.NoError(t, err)
	assert.Equal(t, config.LinkModeSKU, shop.LinkMode)

	all := registry.ListSites()
	require.Len(t, all, 2)
	assert.Equal(t, "mirror", all[0].ID, "configuration order preserved")
	assert.Equal(t, "shop", all[1].ID)
}

func TestGetSiteNotFound(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry(&config.Config{
		Sites: []config.SiteConfig{
			{ID: "mirror", URL: "https://mirror.example.com", Login: "u", Password: "p"},
		},
	})
	require.NoError(t, err)

	_, err = registry.GetSite("elsewhere")
	assert.ErrorIs(t, err, ErrSiteNotFound)
}

func TestNewRegistryResolvesPasswordFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(path, []byte("file-secret\n"), 0600))

	registry, err := NewRegistry(&config.Config{
		Sites: []config.SiteConfig{
			{ID: "mirror", URL: "https://mirror.example.com", Login: "user", PasswordFile: path},
		},
	})
	require.NoError(t, err)

	site, err := registry.GetSite("mirror")
	require.NoError(t, err)

	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:file-secret"))
	assert.Equal(t, expected, site.AuthorizationHeader())
}

func TestAuthorizationHeader(t *testing.T) {
	t.Parallel()

	site := &Site{Login: "user", password: "pass"}
	assert.Equal(t, "Basic dXNlcjpwYXNz", site.AuthorizationHeader())
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		site Site
		want string
	}{
		{
			name: "configured name",
			site: Site{Name: "Blog Mirror", BaseURL: "https://mirror.example.com"},
			want: "Blog Mirror",
		},
		{
			name: "https fallback",
			site: Site{BaseURL: "https://mirror.example.com"},
			want: "mirror.example.com",
		},
		{
			name: "http fallback",
			site: Site{BaseURL: "http://mirror.example.com"},
			want: "mirror.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.site.DisplayName())
		})
	}
}
