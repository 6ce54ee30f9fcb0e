package otacoordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GitHubStore resolves spec.md §4.7's "upstream store" as a GitHub
// releases feed, consistent with the GITHUB_REPO_OWNER/GITHUB_REPO_NAME
// configuration spec.md §6.3 names (SPEC_FULL.md §6, Open Question
// resolution).
type GitHubStore struct {
	Owner  string
	Repo   string
	Client *http.Client
}

func NewGitHubStore(owner, repo string) *GitHubStore {
	return &GitHubStore{Owner: owner, Repo: repo, Client: http.DefaultClient}
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Name    string        `json:"name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Latest fetches the newest release via GitHub's "latest" release API.
func (g *GitHubStore) Latest(ctx context.Context) (Release, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", g.Owner, g.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Release{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client().Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("github: latest release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("github: latest release: status %d", resp.StatusCode)
	}

	var gr githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Release{}, fmt.Errorf("github: decode release: %w", err)
	}

	rel := Release{Version: gr.TagName, Name: gr.Name}
	for _, a := range gr.Assets {
		rel.Assets = append(rel.Assets, Asset{
			Name:        a.Name,
			Size:        a.Size,
			DownloadURL: a.BrowserDownloadURL,
		})
	}
	return rel, nil
}

// Open resolves version+asset to a GitHub release asset download URL and
// proxies the request upstream, forwarding rangeHeader untouched — GitHub's
// asset CDN honors standard Range requests.
func (g *GitHubStore) Open(ctx context.Context, version, asset, rangeHeader string) (io.ReadCloser, int, string, string, string, error) {
	rel, err := g.release(ctx, version)
	if err != nil {
		return nil, 0, "", "", "", err
	}

	var downloadURL string
	for _, a := range rel.Assets {
		if a.Name == asset {
			downloadURL = a.DownloadURL
			break
		}
	}
	if downloadURL == "" {
		return nil, 0, "", "", "", fmt.Errorf("github: asset %q not found in release %q", asset, version)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, 0, "", "", "", err
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := g.client().Do(req)
	if err != nil {
		return nil, 0, "", "", "", fmt.Errorf("github: download asset: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, 0, "", "", "", fmt.Errorf("github: download asset: status %d", resp.StatusCode)
	}

	return resp.Body, resp.StatusCode,
		resp.Header.Get("Content-Range"),
		resp.Header.Get("Content-Length"),
		resp.Header.Get("Accept-Ranges"),
		nil
}

func (g *GitHubStore) release(ctx context.Context, version string) (Release, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/tags/%s", g.Owner, g.Repo, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Release{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client().Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("github: release %s: %w", version, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("github: release %s: status %d", version, resp.StatusCode)
	}

	var gr githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Release{}, fmt.Errorf("github: decode release: %w", err)
	}
	rel := Release{Version: gr.TagName, Name: gr.Name}
	for _, a := range gr.Assets {
		rel.Assets = append(rel.Assets, Asset{Name: a.Name, Size: a.Size, DownloadURL: a.BrowserDownloadURL})
	}
	return rel, nil
}

func (g *GitHubStore) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}
