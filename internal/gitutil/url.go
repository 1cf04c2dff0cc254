package gitutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var prURLRegex = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)/pull/(\d+)(?:/(?:files|commits|checks))?$`)

// ParsePullRequestURL parses a GitHub Pull Request URL and extracts the
// owner, repo, and PR number. Supported forms:
//
//	https://github.com/{owner}/{repo}/pull/{number}
//	https://github.com/{owner}/{repo}/pull/{number}/files
//
// Trailing slashes and the files/commits/checks tab suffixes users copy from
// the browser are accepted.
func ParsePullRequestURL(url string) (owner, repo string, prNumber int, err error) {
	url = strings.TrimSuffix(url, "/")

	matches := prURLRegex.FindStringSubmatch(url)
	if len(matches) != 4 {
		return "", "", 0, fmt.Errorf("invalid pull request URL format: %s", url)
	}

	owner = matches[1]
	repo = matches[2]
	prNumber, err = strconv.Atoi(matches[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid PR number '%s': %w", matches[3], err)
	}

	return owner, repo, prNumber, nil
}
