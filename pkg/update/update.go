package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/version"
)

// endpoint is the GitHub API URL for the latest published release. It's a
// variable so tests can point it at a local server.
var endpoint = "https://api.github.com/repos/destacey/calsync/releases/latest"

var httpClient = &http.Client{Timeout: 10 * time.Second}

// Release describes the newest published release of the CLI.
type Release struct {
	Version *goversion.Version
	URL     string
}

// Status is the result of comparing the running binary to the latest release.
type Status int

const (
	// UpToDate means the running binary matches the latest release.
	UpToDate Status = iota
	// Behind means a newer release is available.
	Behind
	// Ahead means the running binary is newer than the latest release, which
	// happens on development builds.
	Ahead
	// Unknown means the running binary's version can't be compared, e.g. when
	// it wasn't compiled by `make`.
	Unknown
)

// CheckLatest queries GitHub for the newest published release.
func CheckLatest() (*Release, error) {
	req, err := http.NewRequest("GET", endpoint, nil)
	if err != nil {
		return nil, errors.WithContext(err, "new request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.WithContext(err, "get latest release")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server responded with %s", resp.Status)
	}

	var body struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.WithContext(err, "decode release")
	}

	latest, err := goversion.NewVersion(strings.TrimPrefix(body.TagName, "v"))
	if err != nil {
		return nil, errors.WithContext(err, "parse release version")
	}

	return &Release{Version: latest, URL: body.HTMLURL}, nil
}

// Compare reports how the given binary version relates to the latest release.
func Compare(current string, latest *goversion.Version) Status {
	if current == version.EmptyValue {
		return Unknown
	}

	own, err := goversion.NewVersion(current)
	if err != nil {
		return Unknown
	}

	// Strip prerelease and metadata so a dev build of the latest release
	// isn't reported as out of date.
	segments := own.Segments()
	stable, _ := goversion.NewVersion(fmt.Sprintf("%d.%d.%d",
		segments[0], segments[1], segments[2]))

	switch {
	case stable.LessThan(latest):
		return Behind
	case stable.GreaterThan(latest):
		return Ahead
	default:
		return UpToDate
	}
}
