package gitrepo

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Commit is one entry of the branch history.
type Commit struct {
	SHA     string
	Date    int64 // committer date, unix seconds
	Subject string
}

func (c Commit) String() string {
	return fmt.Sprintf("commit %s %s %q", c.SHA,
		time.Unix(c.Date, 0).UTC().Format("2006-01-02 15:04:05"), c.Subject)
}

// parseCommits reads "hash ctime subject" log lines, dropping malformed
// lines and commits present in skipped.
func parseCommits(lines []string, skipped map[string]bool) []Commit {
	commits := make([]Commit, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
		if len(parts) < 3 {
			continue
		}
		date, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		if skipped[parts[0]] {
			continue
		}
		commits = append(commits, Commit{
			SHA:     parts[0],
			Date:    date,
			Subject: parts[2],
		})
	}
	return commits
}
