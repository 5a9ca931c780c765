// Package update compares the running build with the latest published release.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// CheckTimeout bounds one release lookup.
const CheckTimeout = 5 * time.Second

// ReleasesURL answers with the latest release. Tests point it elsewhere.
var ReleasesURL = "https://api.github.com/repos/chatwoot/supportsync/releases/latest"

// ErrDevBuild is returned for builds without a release version.
var ErrDevBuild = errors.New("development build has no release version to compare")

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Result is the outcome of a check.
type Result struct {
	Current   string `json:"current"`
	Latest    string `json:"latest"`
	URL       string `json:"url,omitempty"`
	Available bool   `json:"updateAvailable"`
}

// Check fetches the latest release and reports whether it is newer than
// current. A nil client means http.DefaultClient.
func Check(ctx context.Context, client *http.Client, current string) (Result, error) {
	if current == "" || current == "dev" {
		return Result{}, ErrDevBuild
	}
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ReleasesURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("release lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("release lookup: HTTP %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Result{}, fmt.Errorf("release lookup: %w", err)
	}
	if rel.TagName == "" {
		return Result{}, errors.New("release lookup: response carried no tag")
	}

	res := Result{
		Current: current,
		Latest:  strings.TrimPrefix(rel.TagName, "v"),
		URL:     rel.HTMLURL,
	}
	cur, latest := normalizeVersion(current), normalizeVersion(rel.TagName)
	if semver.IsValid(cur) && semver.IsValid(latest) {
		res.Available = semver.Compare(latest, cur) > 0
	}
	return res, nil
}

func normalizeVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
